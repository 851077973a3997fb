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
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/switchyard-finance/switchyard/api/model"
	"github.com/switchyard-finance/switchyard/audit"
	"github.com/switchyard-finance/switchyard/internal/apierror"
)

// CreateSettlement routes and executes a settlement request. The response is
// the ordered step list; amounts that could not be placed come back as
// queued steps rather than an error.
func (a Api) CreateSettlement(c *gin.Context) {
	var newSettlement model2.CreateSettlement
	if err := c.ShouldBindJSON(&newSettlement); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := newSettlement.ValidateCreateSettlement(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if newSettlement.Async {
		if err := a.service.DeferSettlement(c.Request.Context(), newSettlement.ToSettlementRequest()); err != nil {
			logrus.Error(err)
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "idempotency_key": newSettlement.IdempotencyKey})
		return
	}

	steps, err := a.service.RouteAndExecute(c.Request.Context(), newSettlement.ToSettlementRequest())
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"steps": steps})
}

// GetSettlement returns a settlement transaction by reference.
func (a Api) GetSettlement(c *gin.Context) {
	reference, passed := c.Params.Get("reference")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference is required. pass reference in the route /settlements/:reference"})
		return
	}

	txn, err := a.service.GetSettlement(c.Request.Context(), reference)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, txn)
}

// GetQueue lists overflow queue items awaiting reconciliation.
func (a Api) GetQueue(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	items, err := a.service.GetQueuedSettlements(c.Request.Context(), limit)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// RunReconciliation triggers a reconciliation pass over the overflow queue.
func (a Api) RunReconciliation(c *gin.Context) {
	if err := a.service.ReconcileQueuedItems(c.Request.Context()); err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// MatchStatements pairs provider statement lines with in-transit settlements.
func (a Api) MatchStatements(c *gin.Context) {
	var body model2.MatchStatements
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := body.ValidateMatchStatements(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	matched, err := a.service.MatchStatements(c.Request.Context(), body.ToStatementEntries())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"matched": matched})
}

// VerifyAudit replays a day's audit chain and reports whether it is intact.
// A broken chain is a 422, not a 500: the server is healthy, the journal
// is not.
func (a Api) VerifyAudit(c *gin.Context) {
	var body model2.VerifyAudit
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := body.ValidateVerifyAudit(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	ok, err := a.service.VerifyAuditDay(body.Day)
	if err != nil {
		var verifyErr audit.VerifyError
		if errors.As(err, &verifyErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"valid": false, "kind": verifyErr.Kind, "line": verifyErr.Line})
			return
		}
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no audit file for day " + body.Day})
			return
		}
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error(), "valid": false})
		return
	}
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}
