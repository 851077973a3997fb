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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/switchyard-finance/switchyard"
	"github.com/switchyard-finance/switchyard/config"
	redis_db "github.com/switchyard-finance/switchyard/internal/redis-db"
)

// processSettlement executes a deferred settlement request from the queue.
// Idempotency inside RouteAndExecute makes asynq redelivery safe.
func (b *switchyardInstance) processSettlement(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("settlement.worker").Start(ctx, "Process Settlement From Queue")
	defer span.End()

	var req switchyard.SettlementRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		logrus.Error(err)
		return err
	}

	steps, err := b.switchyard.RouteAndExecute(ctx, req)
	if err != nil {
		logrus.Infof("Settlement %s pushed back for retry due to error: %v", req.Reference, err)
		return err
	}

	log.Printf(" [*] Settlement Processed %s (%d steps)", req.Reference, len(steps))
	return nil
}

// processReconciliation sweeps the overflow queue, then schedules the next
// sweep so the loop keeps itself alive across worker restarts.
func (b *switchyardInstance) processReconciliation(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("settlement.worker").Start(ctx, "Reconciliation Sweep")
	defer span.End()

	if err := b.switchyard.ReconcileQueuedItems(ctx); err != nil {
		logrus.Error(err)
		return err
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	interval := time.Duration(cfg.Queue.ReconcileIntervalSec) * time.Second
	if err := b.switchyard.ScheduleReconciliation(ctx, interval); err != nil {
		logrus.Errorf("could not schedule next reconciliation sweep: %v", err)
	}

	log.Println(" [*] Reconciliation sweep completed")
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.OverflowQueue] = 3
	queues[cfg.Queue.ReconcileQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			// Settlement runs serialize on the ledger lock anyway; a single
			// worker avoids pointless lock contention.
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *switchyardInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.OverflowQueue, b.processSettlement)
	mux.HandleFunc(cfg.Queue.ReconcileQueue, b.processReconciliation)
}

// workerCommands defines the "workers" command to start the queue consumers.
func workerCommands(b *switchyardInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start switchyard workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Kick off the sweep loop; each sweep schedules its successor.
			if err := b.switchyard.ScheduleReconciliation(context.Background(), 0); err != nil {
				log.Printf("could not schedule initial reconciliation sweep: %v", err)
			}

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
