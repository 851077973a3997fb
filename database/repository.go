package database

import (
	"context"

	"github.com/switchyard-finance/switchyard/model"
)

// IDataSource is the persistence contract for the settlement ledger. The
// underlying storage is mutated only through this API; read-modify-write
// sequences are serialized by the orchestrator's exclusive lock.
type IDataSource interface {
	ledger
	stats
}

type ledger interface {
	RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetDailyUsage(ctx context.Context, day string, rail model.Rail) (int64, error)
	QueueTransaction(ctx context.Context, item *model.QueueItem) (*model.QueueItem, error)
	GetQueuedItems(ctx context.Context, limit int) ([]model.QueueItem, error)
	ResolveQueuedItem(ctx context.Context, queueID string, replacement *model.Transaction) error
	TransactionExistsByRef(ctx context.Context, reference string) (bool, error)
	GetTransactionByRef(ctx context.Context, reference string) (model.Transaction, error)
	GetTransactionsByStatus(ctx context.Context, status string, limit int) ([]model.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status string) error
}

type stats interface {
	GetRailStats(ctx context.Context, rail model.Rail) (*model.RailStats, error)
	SaveRailStats(ctx context.Context, railStats *model.RailStats) error
}
