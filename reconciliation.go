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

package switchyard

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/switchyard-finance/switchyard/audit"
	"github.com/switchyard-finance/switchyard/config"
	redlock "github.com/switchyard-finance/switchyard/internal/lock"
	"github.com/switchyard-finance/switchyard/model"
)

const (
	actionQueueReconciled   = "QUEUE_RECONCILED"
	actionTransferConfirmed = "TRANSFER_CONFIRMED"

	// referenceMatchThreshold is the minimum normalized similarity for a
	// provider statement reference to be paired with a ledger transaction.
	referenceMatchThreshold = 0.85
)

// StatementEntry is one line of a provider statement used as an independent
// confirmation source during reconciliation.
type StatementEntry struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// ReconcileQueuedItems re-attempts queued amounts against rails that have
// since regained capacity or credentials. Each resolved item atomically
// swaps its queue entry for a ledger transaction, so an amount is never
// counted as both queued and routed.
func (s *Switchyard) ReconcileQueuedItems(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Reconciling overflow queue")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	locker := redlock.NewLocker(s.redis, ledgerLockKey, model.GenerateUUIDWithSuffix("lock"))
	lockTTL := time.Duration(cnf.Settlement.LockTTLSec) * time.Second
	lockWait := time.Duration(cnf.Settlement.LockWaitTimeoutSec) * time.Second
	if err := locker.WaitLock(ctx, lockTTL, lockWait); err != nil {
		return err
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.Error("ledger lock release error: ", err)
		}
	}()

	items, err := s.datasource.GetQueuedItems(ctx, cnf.Settlement.ReconcileBatchLimit)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := s.reattemptQueuedItem(ctx, cnf, item); err != nil {
			// One stuck item must not block the rest of the queue.
			logrus.Warnf("could not reattempt queued item %s: %v", item.QueueID, err)
		}
	}
	return nil
}

// reattemptQueuedItem tries to place the whole queued amount on a single
// rail. Items that still fit nowhere stay queued for a later pass.
func (s *Switchyard) reattemptQueuedItem(ctx context.Context, cnf *config.Configuration, item model.QueueItem) error {
	ranked, err := s.optimizer.Rank(ctx, item.Amount, item.Currency)
	if err != nil {
		return err
	}
	day := model.DayKey(time.Now())

	for _, rail := range ranked {
		policy, ok := s.policies[rail]
		if !ok {
			continue
		}
		if item.Amount < policy.MinAmount {
			continue
		}
		usage, err := s.datasource.GetDailyUsage(ctx, day, rail)
		if err != nil {
			return err
		}
		if policy.DailyLimit-usage < item.Amount {
			continue
		}
		if !cnf.HasCredentials(rail) {
			continue
		}
		dispatcher, ok := s.dispatchers[rail]
		if !ok {
			continue
		}

		reference := item.Reference
		if reference == "" {
			reference = model.GenerateUUIDWithSuffix("stl")
		}
		reference = reference + "_rq"

		started := time.Now()
		result, err := dispatchWithRetry(ctx, dispatcher, []TransferRequest{{
			Amount:    item.Amount,
			Currency:  item.Currency,
			Reference: reference,
		}}, cnf.Settlement.MaxDispatchRetries)
		latencyMs := float64(time.Since(started).Milliseconds())

		if err != nil {
			if recErr := s.optimizer.RecordOutcome(ctx, rail, false, latencyMs); recErr != nil {
				logrus.Errorf("failed to record outcome for %s: %v", rail, recErr)
			}
			return err
		}

		replacement := &model.Transaction{
			Reference: reference,
			Rail:      rail,
			Amount:    item.Amount,
			Currency:  item.Currency,
			Status:    model.StatusInTransit,
			Details: map[string]interface{}{
				"reconciled_from":   item.QueueID,
				"provider_response": result.ProviderResponse,
			},
		}
		if err := s.datasource.ResolveQueuedItem(ctx, item.QueueID, replacement); err != nil {
			return err
		}
		if err := s.optimizer.RecordOutcome(ctx, rail, true, latencyMs); err != nil {
			logrus.Errorf("failed to record outcome for %s: %v", rail, err)
		}

		if _, err := s.audit.Write(ctx, &audit.Entry{
			Action:   actionQueueReconciled,
			EntityID: item.QueueID,
			Actor:    "reconciler",
			Changes: audit.Changes{
				Before: item,
				After:  model.StepResult{Rail: rail, Amount: item.Amount, Status: model.StepInTransit},
			},
		}); err != nil {
			logrus.Errorf("audit write failed for reconciled item %s: %v", item.QueueID, err)
		}
		return nil
	}
	return nil
}

// MatchStatements pairs provider statement lines with in-transit ledger
// transactions and marks the matches completed. Amounts and currency must be
// equal; references are compared after normalization with a levenshtein
// similarity threshold, since providers routinely truncate or re-case
// references.
func (s *Switchyard) MatchStatements(ctx context.Context, entries []StatementEntry) (int, error) {
	ctx, span := tracer.Start(ctx, "Matching provider statements")
	defer span.End()

	inTransit, err := s.datasource.GetTransactionsByStatus(ctx, model.StatusInTransit, 500)
	if err != nil {
		return 0, err
	}

	matched := 0
	claimed := make(map[string]bool)
	for _, entry := range entries {
		for _, txn := range inTransit {
			if claimed[txn.TransactionID] {
				continue
			}
			if txn.Amount != entry.Amount || txn.Currency != entry.Currency {
				continue
			}
			if !referencesMatch(txn.Reference, entry.Reference) {
				continue
			}

			if err := s.datasource.UpdateTransactionStatus(ctx, txn.TransactionID, model.StatusCompleted); err != nil {
				return matched, err
			}
			claimed[txn.TransactionID] = true
			matched++

			if _, err := s.audit.Write(ctx, &audit.Entry{
				Action:   actionTransferConfirmed,
				EntityID: txn.TransactionID,
				Actor:    "reconciler",
				Changes:  audit.Changes{Before: model.StatusInTransit, After: model.StatusCompleted},
				Context:  map[string]interface{}{"statement_reference": entry.Reference},
			}); err != nil {
				logrus.Errorf("audit write failed for confirmed transfer %s: %v", txn.TransactionID, err)
			}
			break
		}
	}
	return matched, nil
}

func referencesMatch(a, b string) bool {
	na, nb := normalizeReference(a), normalizeReference(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	// Distance and length must both be in runes, or non-ASCII references
	// get scored against their byte length.
	ra, rb := []rune(na), []rune(nb)
	distance := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	similarity := 1.0 - float64(distance)/float64(longest)
	return similarity >= referenceMatchThreshold
}

func normalizeReference(ref string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ref) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
