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
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/switchyard-finance/switchyard"
	"github.com/switchyard-finance/switchyard/api/middleware"
	"github.com/switchyard-finance/switchyard/config"
	"github.com/switchyard-finance/switchyard/model"
)

// SettlementService is the part of the orchestrator the HTTP layer needs.
// *switchyard.Switchyard satisfies it; handler tests use a stub.
type SettlementService interface {
	RouteAndExecute(ctx context.Context, req switchyard.SettlementRequest) ([]model.StepResult, error)
	DeferSettlement(ctx context.Context, req switchyard.SettlementRequest) error
	GetSettlement(ctx context.Context, reference string) (model.Transaction, error)
	GetQueuedSettlements(ctx context.Context, limit int) ([]model.QueueItem, error)
	ReconcileQueuedItems(ctx context.Context) error
	MatchStatements(ctx context.Context, entries []switchyard.StatementEntry) (int, error)
	VerifyAuditDay(day string) (bool, error)
}

type Api struct {
	service SettlementService
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/settlements", a.CreateSettlement)
	router.GET("/settlements/:reference", a.GetSettlement)

	router.GET("/queue", a.GetQueue)

	router.POST("/reconciliation/run", a.RunReconciliation)
	router.POST("/reconciliation/statements", a.MatchStatements)

	router.POST("/audit/verify", a.VerifyAudit)
	return a.router
}

func NewAPI(service SettlementService) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{service: service, router: r}
}
