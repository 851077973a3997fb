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
	"sync"
	"time"

	"github.com/switchyard-finance/switchyard/internal/apierror"
	"github.com/switchyard-finance/switchyard/model"
)

// mockDataSource is an in-memory database.IDataSource with the same
// semantics as the SQL implementation: successful transactions advance the
// daily usage counter, queue resolution is atomic, missing stats come back
// zero-valued.
type mockDataSource struct {
	mu           sync.Mutex
	transactions []model.Transaction
	queued       []model.QueueItem
	usage        map[string]int64
	railStats    map[model.Rail]model.RailStats
	seq          int64
}

func newMockDataSource() *mockDataSource {
	return &mockDataSource{
		usage:     make(map[string]int64),
		railStats: make(map[model.Rail]model.RailStats),
	}
}

func usageKey(day string, rail model.Rail) string {
	return day + "|" + string(rail)
}

func (m *mockDataSource) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_%d", prefix, m.seq)
}

func (m *mockDataSource) RecordTransaction(_ context.Context, txn *model.Transaction) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn.TransactionID = m.nextID("txn")
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	m.transactions = append(m.transactions, *txn)
	if txn.Status == model.StatusInTransit || txn.Status == model.StatusCompleted {
		m.usage[usageKey(model.DayKey(txn.CreatedAt), txn.Rail)] += txn.Amount
	}
	return txn, nil
}

func (m *mockDataSource) GetDailyUsage(_ context.Context, day string, rail model.Rail) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[usageKey(day, rail)], nil
}

func (m *mockDataSource) QueueTransaction(_ context.Context, item *model.QueueItem) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item.QueueID = m.nextID("qit")
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	m.queued = append(m.queued, *item)
	return item, nil
}

func (m *mockDataSource) GetQueuedItems(_ context.Context, limit int) ([]model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]model.QueueItem, 0, len(m.queued))
	for _, item := range m.queued {
		if limit > 0 && len(items) >= limit {
			break
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *mockDataSource) ResolveQueuedItem(_ context.Context, queueID string, replacement *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, item := range m.queued {
		if item.QueueID != queueID {
			continue
		}
		m.queued = append(m.queued[:i], m.queued[i+1:]...)
		if replacement != nil {
			replacement.TransactionID = m.nextID("txn")
			if replacement.CreatedAt.IsZero() {
				replacement.CreatedAt = time.Now()
			}
			m.transactions = append(m.transactions, *replacement)
			if replacement.Status == model.StatusInTransit || replacement.Status == model.StatusCompleted {
				m.usage[usageKey(model.DayKey(replacement.CreatedAt), replacement.Rail)] += replacement.Amount
			}
		}
		return nil
	}
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("queue item %s not found", queueID), nil)
}

func (m *mockDataSource) TransactionExistsByRef(_ context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, txn := range m.transactions {
		if txn.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDataSource) GetTransactionByRef(_ context.Context, reference string) (model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, txn := range m.transactions {
		if txn.Reference == reference {
			return txn, nil
		}
	}
	return model.Transaction{}, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("transaction %s not found", reference), nil)
}

func (m *mockDataSource) GetTransactionsByStatus(_ context.Context, status string, limit int) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []model.Transaction
	for _, txn := range m.transactions {
		if limit > 0 && len(matched) >= limit {
			break
		}
		if txn.Status == status {
			matched = append(matched, txn)
		}
	}
	return matched, nil
}

func (m *mockDataSource) UpdateTransactionStatus(_ context.Context, id string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.transactions {
		if m.transactions[i].TransactionID == id {
			m.transactions[i].Status = status
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("transaction %s not found", id), nil)
}

func (m *mockDataSource) GetRailStats(_ context.Context, rail model.Rail) (*model.RailStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if railStats, ok := m.railStats[rail]; ok {
		copied := railStats
		return &copied, nil
	}
	return &model.RailStats{Rail: rail}, nil
}

func (m *mockDataSource) SaveRailStats(_ context.Context, railStats *model.RailStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.railStats[railStats.Rail] = *railStats
	return nil
}

// mockDispatcher is a scripted gateway used by orchestrator tests.
type mockDispatcher struct {
	rail    model.Rail
	execute func(ctx context.Context, transfers []TransferRequest) (*DispatchResult, error)
	mu      sync.Mutex
	calls   [][]TransferRequest
}

func (d *mockDispatcher) Rail() model.Rail {
	return d.rail
}

func (d *mockDispatcher) Execute(ctx context.Context, transfers []TransferRequest) (*DispatchResult, error) {
	d.mu.Lock()
	d.calls = append(d.calls, transfers)
	d.mu.Unlock()

	if d.execute != nil {
		return d.execute(ctx, transfers)
	}
	return &DispatchResult{Status: DispatchInTransit}, nil
}

func (d *mockDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}
