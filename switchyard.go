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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/switchyard-finance/switchyard/audit"
	"github.com/switchyard-finance/switchyard/config"
	"github.com/switchyard-finance/switchyard/database"
	"github.com/switchyard-finance/switchyard/internal/apierror"
	"github.com/switchyard-finance/switchyard/internal/cache"
	redis_db "github.com/switchyard-finance/switchyard/internal/redis-db"
	"github.com/switchyard-finance/switchyard/model"
)

var tracer = otel.Tracer("settlement.orchestrator")

// Switchyard is the settlement orchestrator: it routes an amount across
// payment rails under the daily caps, drives execution with idempotency and
// fallback, and journals every decision in the audit log.
type Switchyard struct {
	datasource  database.IDataSource
	redis       redis.UniversalClient
	queue       *Queue
	cache       cache.Cache
	audit       *audit.Log
	optimizer   *RailOptimizer
	dispatchers map[model.Rail]GatewayDispatcher
	policies    map[model.Rail]model.RailPolicy
}

// NewSwitchyard wires the orchestrator from the loaded configuration and the
// provided ledger datasource.
func NewSwitchyard(db database.IDataSource) (*Switchyard, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}

	policies, err := configuration.RailPolicies()
	if err != nil {
		return nil, err
	}

	auditLog, err := audit.NewLog(configuration.Audit.Dir, configuration.Audit.Secret, redisClient.Client())
	if err != nil {
		return nil, err
	}

	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	policyIndex := make(map[model.Rail]model.RailPolicy, len(policies))
	for _, p := range policies {
		policyIndex[p.Rail] = p
	}

	newSwitchyard := &Switchyard{
		datasource:  db,
		redis:       redisClient.Client(),
		queue:       NewQueue(configuration),
		cache:       newCache,
		audit:       auditLog,
		optimizer:   NewRailOptimizer(db, policies, configuration.Settlement.ExplorationRate),
		dispatchers: make(map[model.Rail]GatewayDispatcher),
		policies:    policyIndex,
	}
	return newSwitchyard, nil
}

// RegisterDispatcher attaches a gateway adapter for its rail.
func (s *Switchyard) RegisterDispatcher(dispatcher GatewayDispatcher) {
	s.dispatchers[dispatcher.Rail()] = dispatcher
}

// Optimizer exposes the rail optimizer, mainly for outcome recording from
// asynchronous confirmation flows.
func (s *Switchyard) Optimizer() *RailOptimizer {
	return s.optimizer
}

// Audit exposes the audit log for verification commands and handlers.
func (s *Switchyard) Audit() *audit.Log {
	return s.audit
}

// DeferSettlement hands a settlement request to the workers instead of
// running it inline. The idempotency key doubles as the task ID, so a key
// that is already pending is not enqueued a second time.
func (s *Switchyard) DeferSettlement(ctx context.Context, req SettlementRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	if s.queue == nil {
		return apierror.NewAPIError(apierror.ErrConfiguration, "settlement queue is not configured", nil)
	}

	pending, err := s.queue.GetPendingSettlement(req.IdempotencyKey)
	if err != nil {
		return err
	}
	if pending != nil {
		logrus.Infof("settlement %s is already pending, skipping enqueue", req.IdempotencyKey)
		return nil
	}
	return s.queue.EnqueueSettlement(ctx, req)
}

// ScheduleReconciliation enqueues a reconciliation sweep of the overflow
// queue after the given delay.
func (s *Switchyard) ScheduleReconciliation(ctx context.Context, delay time.Duration) error {
	if s.queue == nil {
		return apierror.NewAPIError(apierror.ErrConfiguration, "settlement queue is not configured", nil)
	}
	return s.queue.EnqueueReconciliation(ctx, delay)
}

// GetSettlement looks up a settlement transaction by its reference.
func (s *Switchyard) GetSettlement(ctx context.Context, reference string) (model.Transaction, error) {
	return s.datasource.GetTransactionByRef(ctx, reference)
}

// GetQueuedSettlements lists overflow queue items awaiting reconciliation.
func (s *Switchyard) GetQueuedSettlements(ctx context.Context, limit int) ([]model.QueueItem, error) {
	return s.datasource.GetQueuedItems(ctx, limit)
}

// VerifyAuditDay replays the audit chain for a calendar day and reports
// whether it is intact.
func (s *Switchyard) VerifyAuditDay(day string) (bool, error) {
	return s.audit.VerifyChain(s.audit.FilePathForDay(day))
}
