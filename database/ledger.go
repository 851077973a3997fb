/*
Copyright 2025 Switchyard Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/switchyard-finance/switchyard/internal/apierror"
	"github.com/switchyard-finance/switchyard/model"
)

// RecordTransaction appends a settlement transaction. When the status counts
// against the daily cap (IN_TRANSIT or COMPLETED), the day's usage row for
// the rail is incremented in the same SQL transaction, so a usage total can
// never drift from its transaction history.
func (d Datasource) RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := otel.Tracer("settlement.ledger").Start(ctx, "Saving settlement transaction to db")
	defer span.End()

	if txn.TransactionID == "" {
		txn.TransactionID = model.GenerateUUIDWithSuffix("txn")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	if txn.Hash == "" {
		txn.Hash = txn.HashTxn()
	}

	detailsJSON, err := json.Marshal(txn.Details)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal transaction details", err)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO settlement_transactions(transaction_id,reference,rail,amount,currency,status,hash,created_at,details) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		txn.TransactionID, txn.Reference, txn.Rail, txn.Amount, txn.Currency, txn.Status, txn.Hash, txn.CreatedAt, detailsJSON,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
	}

	if txn.Status == model.StatusInTransit || txn.Status == model.StatusCompleted {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO daily_usage(day, rail, amount) VALUES ($1,$2,$3)
			 ON CONFLICT (day, rail) DO UPDATE SET amount = daily_usage.amount + EXCLUDED.amount`,
			model.DayKey(txn.CreatedAt), txn.Rail, txn.Amount,
		)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to increment daily usage", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return txn, nil
}

// GetDailyUsage returns the accumulated successfully-routed amount for a
// rail on a day, 0 when no row exists yet.
func (d Datasource) GetDailyUsage(ctx context.Context, day string, rail model.Rail) (int64, error) {
	var amount int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT amount FROM daily_usage WHERE day = $1 AND rail = $2
	`, day, rail).Scan(&amount)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read daily usage", err)
	}
	return amount, nil
}

// QueueTransaction appends an overflow entry. Queued amounts never affect
// daily usage.
func (d Datasource) QueueTransaction(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	ctx, span := otel.Tracer("settlement.ledger").Start(ctx, "Queuing unroutable amount")
	defer span.End()

	if item.QueueID == "" {
		item.QueueID = model.GenerateUUIDWithSuffix("qit")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO overflow_queue(queue_id,rail,amount,currency,reason,reference,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		item.QueueID, item.Rail, item.Amount, item.Currency, item.Reason, item.Reference, item.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to queue transaction", err)
	}
	return item, nil
}

// GetQueuedItems returns the oldest queued items, up to limit.
func (d Datasource) GetQueuedItems(ctx context.Context, limit int) ([]model.QueueItem, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, queue_id, rail, amount, currency, reason, reference, created_at
		FROM overflow_queue
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read overflow queue", err)
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		var item model.QueueItem
		var reference sql.NullString
		err := rows.Scan(&item.ID, &item.QueueID, &item.Rail, &item.Amount, &item.Currency, &item.Reason, &reference, &item.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		item.Reference = reference.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate overflow queue", err)
	}
	return items, nil
}

// ResolveQueuedItem removes a queue item and records its replacement
// transaction in one SQL transaction. The atomic pairing prevents the same
// amount from being counted both as queued and as routed.
func (d Datasource) ResolveQueuedItem(ctx context.Context, queueID string, replacement *model.Transaction) error {
	ctx, span := otel.Tracer("settlement.ledger").Start(ctx, "Resolving queued item")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `DELETE FROM overflow_queue WHERE queue_id = $1`, queueID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete queue item", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item '%s' not found", queueID), nil)
	}

	if replacement != nil {
		if replacement.TransactionID == "" {
			replacement.TransactionID = model.GenerateUUIDWithSuffix("txn")
		}
		if replacement.CreatedAt.IsZero() {
			replacement.CreatedAt = time.Now()
		}
		detailsJSON, err := json.Marshal(replacement.Details)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal transaction details", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO settlement_transactions(transaction_id,reference,rail,amount,currency,status,hash,created_at,details) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			replacement.TransactionID, replacement.Reference, replacement.Rail, replacement.Amount, replacement.Currency, replacement.Status, replacement.Hash, replacement.CreatedAt, detailsJSON,
		)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record replacement transaction", err)
		}
		if replacement.Status == model.StatusInTransit || replacement.Status == model.StatusCompleted {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO daily_usage(day, rail, amount) VALUES ($1,$2,$3)
				 ON CONFLICT (day, rail) DO UPDATE SET amount = daily_usage.amount + EXCLUDED.amount`,
				model.DayKey(replacement.CreatedAt), replacement.Rail, replacement.Amount,
			)
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to increment daily usage", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

func (d Datasource) TransactionExistsByRef(ctx context.Context, reference string) (bool, error) {
	ctx, span := otel.Tracer("settlement.ledger").Start(ctx, "Checking transaction reference")
	defer span.End()

	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM settlement_transactions WHERE reference = $1)
	`, reference).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check if transaction exists", err)
	}
	return exists, nil
}

func (d Datasource) GetTransactionByRef(ctx context.Context, reference string) (model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT transaction_id, reference, rail, amount, currency, status, hash, created_at, details
		FROM settlement_transactions
		WHERE reference = $1
	`, reference)

	txn := model.Transaction{}
	var detailsJSON []byte
	err := row.Scan(&txn.TransactionID, &txn.Reference, &txn.Rail, &txn.Amount, &txn.Currency, &txn.Status, &txn.Hash, &txn.CreatedAt, &detailsJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Transaction{}, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with reference '%s' not found", reference), err)
		}
		return model.Transaction{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &txn.Details); err != nil {
			return model.Transaction{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal transaction details", err)
		}
	}
	return txn, nil
}

func (d Datasource) GetTransactionsByStatus(ctx context.Context, status string, limit int) ([]model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transaction_id, reference, rail, amount, currency, status, hash, created_at
		FROM settlement_transactions
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var txn model.Transaction
		err := rows.Scan(&txn.TransactionID, &txn.Reference, &txn.Rail, &txn.Amount, &txn.Currency, &txn.Status, &txn.Hash, &txn.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate transactions", err)
	}
	return txns, nil
}

func (d Datasource) UpdateTransactionStatus(ctx context.Context, id string, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE settlement_transactions
		SET status = $2
		WHERE transaction_id = $1
	`, id, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
	}
	return nil
}
