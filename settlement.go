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
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/switchyard-finance/switchyard/audit"
	"github.com/switchyard-finance/switchyard/config"
	"github.com/switchyard-finance/switchyard/internal/apierror"
	redlock "github.com/switchyard-finance/switchyard/internal/lock"
	"github.com/switchyard-finance/switchyard/model"
)

const (
	ledgerLockKey      = "settlement-ledger"
	idempotencyKeyTTL  = 24 * time.Hour
	idempotencyPrefix  = "settlement:idem:"
	actionStep         = "SETTLEMENT_STEP"
	actionRunCompleted = "SETTLEMENT_RUN"
)

// SettlementRequest is the caller-facing input to RouteAndExecute. The
// idempotency key is caller-chosen; retrying with the same key yields the
// cached result instead of a second externally visible execution.
type SettlementRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
	Destination    string `json:"destination"`
	Reference      string `json:"reference"`
}

func (r SettlementRequest) validate() error {
	if r.Amount <= 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "settlement amount must be positive", nil)
	}
	if r.Currency == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "settlement currency is required", nil)
	}
	if r.IdempotencyKey == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "idempotency key is required", nil)
	}
	return nil
}

type allocation struct {
	rail   model.Rail
	amount int64
}

// RouteAndExecute routes the requested amount across rails and drives
// execution. Every minor unit of the request comes back in the step list:
// dispatched, queued with a reason, or failed-and-queued. Money is never
// dropped silently.
func (s *Switchyard) RouteAndExecute(ctx context.Context, req SettlementRequest) ([]model.StepResult, error) {
	ctx, span := tracer.Start(ctx, "Routing settlement")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Reference == "" {
		req.Reference = model.GenerateUUIDWithSuffix("stl")
	}

	// Idempotent replay: a previously completed run short-circuits here.
	var cached []model.StepResult
	if err := s.cache.Get(ctx, idempotencyPrefix+req.IdempotencyKey, &cached); err != nil {
		logrus.Warnf("idempotency lookup failed, proceeding without replay guard: %v", err)
	}
	if len(cached) > 0 {
		span.AddEvent("idempotent replay, returning cached result")
		return cached, nil
	}

	// Best-effort: see whether previously queued amounts can clear before
	// we consume today's capacity.
	if err := s.ReconcileQueuedItems(ctx); err != nil {
		logrus.Warnf("reconciliation pass failed: %v", err)
	}

	ranked, err := s.optimizer.Rank(ctx, req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	// All capacity reads and ledger writes below happen under the ledger
	// lock; without it two concurrent runs could both pass a capacity check
	// and jointly exceed a daily cap.
	locker := redlock.NewLocker(s.redis, ledgerLockKey, model.GenerateUUIDWithSuffix("lock"))
	lockTTL := time.Duration(cnf.Settlement.LockTTLSec) * time.Second
	lockWait := time.Duration(cnf.Settlement.LockWaitTimeoutSec) * time.Second
	if err := locker.WaitLock(ctx, lockTTL, lockWait); err != nil {
		var timeout redlock.ErrLockTimeout
		if errors.As(err, &timeout) {
			return nil, apierror.NewAPIError(apierror.ErrLockTimeout, "could not acquire settlement ledger lock", err)
		}
		return nil, err
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.Error("ledger lock release error: ", err)
		}
	}()

	// Re-check the replay cache now that we hold the lock: a concurrent
	// caller with the same key may have completed while we waited. Results
	// are stored before the lock is released, so this check is decisive.
	var replayed []model.StepResult
	if err := s.cache.Get(ctx, idempotencyPrefix+req.IdempotencyKey, &replayed); err != nil {
		logrus.Warnf("idempotency lookup failed, proceeding without replay guard: %v", err)
	}
	if len(replayed) > 0 {
		span.AddEvent("idempotent replay, returning cached result")
		return replayed, nil
	}

	allocations, remainder, err := s.allocate(ctx, ranked, req.Amount)
	if err != nil {
		return nil, err
	}

	steps := make([]model.StepResult, 0, len(allocations)+1)
	for i, alloc := range allocations {
		stepRef := fmt.Sprintf("%s_%d", req.Reference, i)
		step := s.executeStep(ctx, span, cnf, req, alloc, stepRef)
		steps = append(steps, step)
	}

	if remainder > 0 {
		item, err := s.datasource.QueueTransaction(ctx, &model.QueueItem{
			Rail:      model.RailQueueOverflow,
			Amount:    remainder,
			Currency:  req.Currency,
			Reason:    model.ReasonQueueOverflow,
			Reference: req.Reference,
		})
		if err != nil {
			return nil, err
		}
		steps = append(steps, model.StepResult{
			Rail:   model.RailQueueOverflow,
			Amount: remainder,
			Status: model.StepQueued,
			Reason: model.ReasonQueueOverflow,
		})
		s.auditStep(ctx, item.QueueID, steps[len(steps)-1], req)
	}

	if err := s.auditRun(ctx, req, steps); err != nil {
		return nil, err
	}

	// Stored while the ledger lock is still held, so a same-key caller
	// waiting on the lock replays this result instead of re-dispatching.
	if err := s.cache.Set(ctx, idempotencyPrefix+req.IdempotencyKey, steps, idempotencyKeyTTL); err != nil {
		logrus.Warnf("failed to store idempotency result: %v", err)
	}
	return steps, nil
}

// allocate walks the ranked rails greedily. A rail is considered only while
// the outstanding remainder is at or above its minimum; the allocation is
// then clamped to the rail's remaining daily capacity.
func (s *Switchyard) allocate(ctx context.Context, ranked []model.Rail, total int64) ([]allocation, int64, error) {
	day := model.DayKey(time.Now())
	remaining := total
	var allocations []allocation

	for _, rail := range ranked {
		if remaining == 0 {
			break
		}
		policy, ok := s.policies[rail]
		if !ok {
			continue
		}
		if remaining < policy.MinAmount {
			continue
		}

		usage, err := s.datasource.GetDailyUsage(ctx, day, rail)
		if err != nil {
			return nil, 0, err
		}
		capacity := policy.DailyLimit - usage
		if capacity <= 0 {
			continue
		}

		amount := remaining
		if capacity < amount {
			amount = capacity
		}
		allocations = append(allocations, allocation{rail: rail, amount: amount})
		remaining -= amount
	}
	return allocations, remaining, nil
}

// executeStep runs one allocated step: capability check, dispatch with
// retry, and the paired ledger write. A step's failure is isolated; it never
// aborts the remaining steps.
func (s *Switchyard) executeStep(ctx context.Context, span trace.Span, cnf *config.Configuration, req SettlementRequest, alloc allocation, stepRef string) model.StepResult {
	if !cnf.HasCredentials(alloc.rail) {
		return s.queueStep(ctx, req, alloc, stepRef, model.ReasonMissingResource, model.StepQueuedMissingResource)
	}
	dispatcher, ok := s.dispatchers[alloc.rail]
	if !ok {
		return s.queueStep(ctx, req, alloc, stepRef, model.ReasonMissingResource, model.StepQueuedMissingResource)
	}

	transfers := []TransferRequest{{
		Amount:      alloc.amount,
		Currency:    req.Currency,
		Destination: req.Destination,
		Reference:   stepRef,
	}}

	started := time.Now()
	result, err := dispatchWithRetry(ctx, dispatcher, transfers, cnf.Settlement.MaxDispatchRetries)
	latencyMs := float64(time.Since(started).Milliseconds())

	if err != nil {
		span.RecordError(err)
		logrus.Errorf("dispatch to %s failed after retries: %v", alloc.rail, err)
		if recErr := s.optimizer.RecordOutcome(ctx, alloc.rail, false, latencyMs); recErr != nil {
			logrus.Errorf("failed to record outcome for %s: %v", alloc.rail, recErr)
		}
		return s.queueStep(ctx, req, alloc, stepRef, model.ReasonExecutionError, model.StepFailedQueued)
	}

	txn, err := s.datasource.RecordTransaction(ctx, &model.Transaction{
		Reference: stepRef,
		Rail:      alloc.rail,
		Amount:    alloc.amount,
		Currency:  req.Currency,
		Status:    model.StatusInTransit,
		Details: map[string]interface{}{
			"destination":       req.Destination,
			"provider_response": result.ProviderResponse,
		},
	})
	if err != nil {
		// The transfer is on its way but the ledger write failed. Queue a
		// marker so the amount is not lost to reconciliation.
		logrus.Errorf("ledger write failed for dispatched step %s: %v", stepRef, err)
		return s.queueStep(ctx, req, alloc, stepRef, model.ReasonExecutionError, model.StepFailedQueued)
	}

	if err := s.optimizer.RecordOutcome(ctx, alloc.rail, true, latencyMs); err != nil {
		logrus.Errorf("failed to record outcome for %s: %v", alloc.rail, err)
	}

	step := model.StepResult{Rail: alloc.rail, Amount: alloc.amount, Status: model.StepInTransit}
	s.auditStep(ctx, txn.TransactionID, step, req)
	return step
}

func (s *Switchyard) queueStep(ctx context.Context, req SettlementRequest, alloc allocation, stepRef, reason, stepStatus string) model.StepResult {
	item, err := s.datasource.QueueTransaction(ctx, &model.QueueItem{
		Rail:      alloc.rail,
		Amount:    alloc.amount,
		Currency:  req.Currency,
		Reason:    reason,
		Reference: stepRef,
	})
	if err != nil {
		logrus.Errorf("failed to queue step %s: %v", stepRef, err)
	}
	step := model.StepResult{Rail: alloc.rail, Amount: alloc.amount, Status: stepStatus, Reason: reason}
	entityID := stepRef
	if item != nil {
		entityID = item.QueueID
	}
	s.auditStep(ctx, entityID, step, req)
	return step
}

// auditStep journals one step decision. Write failures are logged and
// surfaced through the run summary; configuration failures were already
// fatal at construction.
func (s *Switchyard) auditStep(ctx context.Context, entityID string, step model.StepResult, req SettlementRequest) {
	_, err := s.audit.Write(ctx, &audit.Entry{
		Action:   actionStep,
		EntityID: entityID,
		Actor:    "orchestrator",
		Changes:  audit.Changes{Before: nil, After: step},
		Context: map[string]interface{}{
			"reference":       req.Reference,
			"idempotency_key": req.IdempotencyKey,
			"currency":        req.Currency,
		},
	})
	if err != nil {
		logrus.Errorf("audit write failed for %s: %v", entityID, err)
	}
}

func (s *Switchyard) auditRun(ctx context.Context, req SettlementRequest, steps []model.StepResult) error {
	_, err := s.audit.Write(ctx, &audit.Entry{
		Action:   actionRunCompleted,
		EntityID: req.Reference,
		Actor:    "orchestrator",
		Changes:  audit.Changes{Before: nil, After: steps},
		Context: map[string]interface{}{
			"amount":          req.Amount,
			"currency":        req.Currency,
			"idempotency_key": req.IdempotencyKey,
		},
	})
	return err
}
