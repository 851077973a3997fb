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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-finance/switchyard/model"
)

func TestReconcileQueuedItemsResolves(t *testing.T) {
	ds := newMockDataSource()
	_, err := ds.QueueTransaction(context.Background(), &model.QueueItem{
		Rail:      model.RailQueueOverflow,
		Amount:    500,
		Currency:  "USD",
		Reason:    model.ReasonQueueOverflow,
		Reference: "stl_reconcile",
	})
	require.NoError(t, err)

	policies := []model.RailPolicy{
		{Rail: model.RailBankWire, DailyLimit: 10000, MinAmount: 100, Currency: "USD"},
	}
	s := newTestSwitchyard(t, ds, policies, allCredentials())
	dispatcher := &mockDispatcher{rail: model.RailBankWire}
	s.RegisterDispatcher(dispatcher)

	require.NoError(t, s.ReconcileQueuedItems(context.Background()))

	queued, err := ds.GetQueuedItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, queued)
	assert.Equal(t, 1, dispatcher.callCount())

	inTransit, err := ds.GetTransactionsByStatus(context.Background(), model.StatusInTransit, 10)
	require.NoError(t, err)
	require.Len(t, inTransit, 1)
	assert.Equal(t, int64(500), inTransit[0].Amount)
	assert.Equal(t, model.RailBankWire, inTransit[0].Rail)

	usage, err := ds.GetDailyUsage(context.Background(), model.DayKey(time.Now()), model.RailBankWire)
	require.NoError(t, err)
	assert.Equal(t, int64(500), usage)
}

func TestReconcileQueuedItemsLeavesItemWithoutCapacity(t *testing.T) {
	ds := newMockDataSource()
	ds.usage[usageKey(model.DayKey(time.Now()), model.RailBankWire)] = 9800
	_, err := ds.QueueTransaction(context.Background(), &model.QueueItem{
		Rail:     model.RailQueueOverflow,
		Amount:   500,
		Currency: "USD",
		Reason:   model.ReasonQueueOverflow,
	})
	require.NoError(t, err)

	policies := []model.RailPolicy{
		{Rail: model.RailBankWire, DailyLimit: 10000, MinAmount: 100, Currency: "USD"},
	}
	s := newTestSwitchyard(t, ds, policies, allCredentials())
	dispatcher := &mockDispatcher{rail: model.RailBankWire}
	s.RegisterDispatcher(dispatcher)

	require.NoError(t, s.ReconcileQueuedItems(context.Background()))

	queued, err := ds.GetQueuedItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
	assert.Equal(t, 0, dispatcher.callCount())
}

func TestReconcileQueuedItemsLeavesItemWithoutCredentials(t *testing.T) {
	ds := newMockDataSource()
	_, err := ds.QueueTransaction(context.Background(), &model.QueueItem{
		Rail:     model.RailBankWire,
		Amount:   500,
		Currency: "USD",
		Reason:   model.ReasonMissingResource,
	})
	require.NoError(t, err)

	policies := []model.RailPolicy{
		{Rail: model.RailBankWire, DailyLimit: 10000, MinAmount: 100, Currency: "USD"},
	}
	s := newTestSwitchyard(t, ds, policies, map[string]bool{})
	s.RegisterDispatcher(&mockDispatcher{rail: model.RailBankWire})

	require.NoError(t, s.ReconcileQueuedItems(context.Background()))

	queued, err := ds.GetQueuedItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestMatchStatementsConfirmsTransfer(t *testing.T) {
	ds := newMockDataSource()
	_, err := ds.RecordTransaction(context.Background(), &model.Transaction{
		Reference: "stl_abc123_0",
		Rail:      model.RailBankWire,
		Amount:    500,
		Currency:  "USD",
		Status:    model.StatusInTransit,
	})
	require.NoError(t, err)

	policies := []model.RailPolicy{
		{Rail: model.RailBankWire, DailyLimit: 10000, MinAmount: 100, Currency: "USD"},
	}
	s := newTestSwitchyard(t, ds, policies, allCredentials())

	// Providers re-case and re-punctuate references; normalization absorbs it.
	matched, err := s.MatchStatements(context.Background(), []StatementEntry{
		{Reference: "STL-ABC123-0", Amount: 500, Currency: "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	completed, err := ds.GetTransactionsByStatus(context.Background(), model.StatusCompleted, 10)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
}

func TestMatchStatementsRejectsAmountMismatch(t *testing.T) {
	ds := newMockDataSource()
	_, err := ds.RecordTransaction(context.Background(), &model.Transaction{
		Reference: "stl_abc123_0",
		Rail:      model.RailBankWire,
		Amount:    500,
		Currency:  "USD",
		Status:    model.StatusInTransit,
	})
	require.NoError(t, err)

	policies := []model.RailPolicy{
		{Rail: model.RailBankWire, DailyLimit: 10000, MinAmount: 100, Currency: "USD"},
	}
	s := newTestSwitchyard(t, ds, policies, allCredentials())

	matched, err := s.MatchStatements(context.Background(), []StatementEntry{
		{Reference: "stl_abc123_0", Amount: 499, Currency: "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, matched)
}

func TestMatchStatementsClaimsEachTransactionOnce(t *testing.T) {
	ds := newMockDataSource()
	_, err := ds.RecordTransaction(context.Background(), &model.Transaction{
		Reference: "stl_abc123_0",
		Rail:      model.RailBankWire,
		Amount:    500,
		Currency:  "USD",
		Status:    model.StatusInTransit,
	})
	require.NoError(t, err)

	policies := []model.RailPolicy{
		{Rail: model.RailBankWire, DailyLimit: 10000, MinAmount: 100, Currency: "USD"},
	}
	s := newTestSwitchyard(t, ds, policies, allCredentials())

	matched, err := s.MatchStatements(context.Background(), []StatementEntry{
		{Reference: "stl_abc123_0", Amount: 500, Currency: "USD"},
		{Reference: "stl_abc123_0", Amount: 500, Currency: "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
}

func TestReferencesMatch(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"stl_abc123_0", "STL-ABC123-0", true},
		{"stl_abc123_0", "stlabc1230", true},
		{"stl_abc123_0", "stl_abc124_0", true}, // one edit over ten characters
		{"stl_abc123_0", "completely-different", false},
		{"", "stl_abc123_0", false},
		{"", "", false},
		// Multi-byte references: similarity is over runes, so two edits in
		// ten characters miss the threshold even at two bytes per rune.
		{"éáéáéáéáéá", "éáéáéáéáüü", false},
		{"éáéáéáéáéá", "éáéáéáéáéü", true}, // one edit over ten runes
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, referencesMatch(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
}
