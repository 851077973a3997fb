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
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/switchyard-finance/switchyard/config"
	redis_db "github.com/switchyard-finance/switchyard/internal/redis-db"
)

// Queue wraps the asynq client used for asynchronous settlement work:
// deferred settlement requests and periodic reconciliation sweeps.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a Queue from the loaded configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
	}
}

// EnqueueSettlement queues a settlement request for asynchronous execution.
// The idempotency key doubles as the task ID, so re-submitting the same
// request while it is still pending is a no-op at the queue level too.
func (q *Queue) EnqueueSettlement(ctx context.Context, req SettlementRequest) error {
	ctx, span := tracer.Start(ctx, "Queueing settlement request")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(req.IdempotencyKey),
		asynq.Queue(cnf.Queue.OverflowQueue),
		asynq.MaxRetry(cnf.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cnf.Queue.OverflowQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued settlement: %+v", req.Reference)
	return nil
}

// EnqueueReconciliation schedules a reconciliation sweep of the overflow
// queue after the given delay. Sweeps are cheap; a duplicate sweep finds an
// empty queue and exits.
func (q *Queue) EnqueueReconciliation(ctx context.Context, delay time.Duration) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.Queue(cnf.Queue.ReconcileQueue),
		asynq.MaxRetry(cnf.Queue.MaxRetryAttempts),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}
	task := asynq.NewTask(cnf.Queue.ReconcileQueue, nil, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// GetPendingSettlement retrieves a queued settlement request by its
// idempotency key, or nil if no task with that key is pending.
func (q *Queue) GetPendingSettlement(idempotencyKey string) (*SettlementRequest, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	task, err := q.Inspector.GetTaskInfo(cnf.Queue.OverflowQueue, idempotencyKey)
	if err != nil || task == nil {
		return nil, nil
	}
	var req SettlementRequest
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
