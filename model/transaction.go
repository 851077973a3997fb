package model

import (
	"encoding/json"
	"time"
)

const (
	StatusQueued    = "QUEUED"
	StatusInTransit = "IN_TRANSIT"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Queue reasons attached to overflow items.
const (
	ReasonLimitExceeded   = "LIMIT_EXCEEDED"
	ReasonMissingResource = "MISSING_RESOURCE"
	ReasonExecutionError  = "EXECUTION_ERROR"
	ReasonQueueOverflow   = "QUEUE_OVERFLOW"
)

// Step statuses returned to callers of RouteAndExecute.
const (
	StepInTransit             = "IN_TRANSIT"
	StepQueued                = "QUEUED"
	StepQueuedMissingResource = "QUEUED_MISSING_RESOURCE"
	StepFailedQueued          = "FAILED_QUEUED"
)

// Transaction is an immutable record of a settlement attempt through a rail.
// Amounts are in currency minor units.
type Transaction struct {
	ID            int64                  `json:"-"`
	TransactionID string                 `json:"id"`
	Reference     string                 `json:"reference"`
	Rail          Rail                   `json:"rail"`
	Amount        int64                  `json:"amount"`
	Currency      string                 `json:"currency"`
	Status        string                 `json:"status"`
	Hash          string                 `json:"hash"`
	CreatedAt     time.Time              `json:"created_at"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

func (transaction *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}

// QueueItem represents money that could not be routed this cycle and awaits
// a later reconciliation pass.
type QueueItem struct {
	ID        int64     `json:"-"`
	QueueID   string    `json:"id"`
	Rail      Rail      `json:"rail"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// StepResult is one entry of the ordered outcome list returned by the
// orchestrator. The sum of step amounts always equals the requested total.
type StepResult struct {
	Rail   Rail   `json:"rail"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}
