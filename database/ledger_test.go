package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-finance/switchyard/model"
)

func newTestDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Datasource{Conn: db}, mock
}

func TestRecordTransactionInTransitIncrementsUsage(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO settlement_transactions").
		WithArgs(sqlmock.AnyArg(), "ref_1", string(model.RailBankWire), int64(200), "USD", model.StatusInTransit, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO daily_usage").
		WithArgs(sqlmock.AnyArg(), string(model.RailBankWire), int64(200)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	txn, err := d.RecordTransaction(context.Background(), &model.Transaction{
		Reference: "ref_1",
		Rail:      model.RailBankWire,
		Amount:    200,
		Currency:  "USD",
		Status:    model.StatusInTransit,
	})
	require.NoError(t, err)
	assert.Contains(t, txn.TransactionID, "txn_")
	assert.NotEmpty(t, txn.Hash)
	assert.WithinDuration(t, time.Now(), txn.CreatedAt, time.Second)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTransactionQueuedSkipsUsage(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO settlement_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := d.RecordTransaction(context.Background(), &model.Transaction{
		Reference: "ref_2",
		Rail:      model.RailEWallet,
		Amount:    700,
		Currency:  "USD",
		Status:    model.StatusQueued,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDailyUsage(t *testing.T) {
	d, mock := newTestDatasource(t)

	rows := sqlmock.NewRows([]string{"amount"}).AddRow(int64(9800))
	mock.ExpectQuery("SELECT amount FROM daily_usage").
		WithArgs("2025-03-14", string(model.RailBankWire)).
		WillReturnRows(rows)

	usage, err := d.GetDailyUsage(context.Background(), "2025-03-14", model.RailBankWire)
	require.NoError(t, err)
	assert.Equal(t, int64(9800), usage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDailyUsageNoRows(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT amount FROM daily_usage").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}))

	usage, err := d.GetDailyUsage(context.Background(), "2025-03-14", model.RailCryptoTransfer)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage)
}

func TestQueueTransaction(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO overflow_queue").
		WithArgs(sqlmock.AnyArg(), string(model.RailCardPayout), int64(500), "USD", model.ReasonQueueOverflow, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	item, err := d.QueueTransaction(context.Background(), &model.QueueItem{
		Rail:     model.RailCardPayout,
		Amount:   500,
		Currency: "USD",
		Reason:   model.ReasonQueueOverflow,
	})
	require.NoError(t, err)
	assert.Contains(t, item.QueueID, "qit_")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQueuedItems(t *testing.T) {
	d, mock := newTestDatasource(t)

	rows := sqlmock.NewRows([]string{"id", "queue_id", "rail", "amount", "currency", "reason", "reference", "created_at"}).
		AddRow(1, "qit_1", string(model.RailBankWire), int64(500), "USD", model.ReasonLimitExceeded, "ref_9", time.Now())
	mock.ExpectQuery("SELECT id, queue_id, rail, amount, currency, reason, reference, created_at").
		WithArgs(50).
		WillReturnRows(rows)

	items, err := d.GetQueuedItems(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "qit_1", items[0].QueueID)
	assert.Equal(t, model.RailBankWire, items[0].Rail)
}

func TestResolveQueuedItemAtomic(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM overflow_queue").
		WithArgs("qit_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO settlement_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO daily_usage").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := d.ResolveQueuedItem(context.Background(), "qit_1", &model.Transaction{
		Reference: "ref_1",
		Rail:      model.RailBankWire,
		Amount:    500,
		Currency:  "USD",
		Status:    model.StatusInTransit,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveQueuedItemNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM overflow_queue").
		WithArgs("qit_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := d.ResolveQueuedItem(context.Background(), "qit_missing", nil)
	assert.Error(t, err)
}

func TestTransactionExistsByRef(t *testing.T) {
	d, mock := newTestDatasource(t)

	rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("ref_1").
		WillReturnRows(rows)

	exists, err := d.TransactionExistsByRef(context.Background(), "ref_1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpdateTransactionStatusNotFound(t *testing.T) {
	d, mock := newTestDatasource(t)

	mock.ExpectExec("UPDATE settlement_transactions").
		WithArgs("txn_missing", model.StatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := d.UpdateTransactionStatus(context.Background(), "txn_missing", model.StatusCompleted)
	assert.Error(t, err)
}
