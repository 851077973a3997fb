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

package model

import (
	"fmt"
	"time"
)

// Rail identifies a payment channel through which funds can be moved.
type Rail string

const (
	RailBankWire       Rail = "BANK_WIRE"
	RailCardPayout     Rail = "CARD_PAYOUT"
	RailEWallet        Rail = "E_WALLET"
	RailCryptoTransfer Rail = "CRYPTO_TRANSFER"
)

// RailQueueOverflow is the pseudo-rail carried by steps and queue items for
// amounts no real rail could accept this cycle.
const RailQueueOverflow Rail = "QUEUE_OVERFLOW"

// AllRails lists every known rail in registration order. The first entry is
// the designated fallback rail when every rail is excluded by its breaker.
var AllRails = []Rail{RailBankWire, RailCardPayout, RailEWallet, RailCryptoTransfer}

// IsValid reports whether the rail is one of the registered rails.
func (r Rail) IsValid() bool {
	for _, known := range AllRails {
		if r == known {
			return true
		}
	}
	return false
}

// RailPolicy holds the static per-rail constraints. Amounts are in currency
// minor units. Policies are read-only at runtime; changes require a reconfig.
type RailPolicy struct {
	Rail       Rail   `json:"rail"`
	DailyLimit int64  `json:"daily_limit"`
	MinAmount  int64  `json:"min_amount"`
	Currency   string `json:"currency"`
	FeeFlat    int64  `json:"fee_flat"`
	FeeBps     int64  `json:"fee_bps"`
}

// Validate checks the policy invariants.
func (p RailPolicy) Validate() error {
	if !p.Rail.IsValid() {
		return fmt.Errorf("unknown rail %s", p.Rail)
	}
	if p.DailyLimit <= 0 {
		return fmt.Errorf("rail %s: daily limit must be positive", p.Rail)
	}
	if p.MinAmount < 0 {
		return fmt.Errorf("rail %s: minimum amount cannot be negative", p.Rail)
	}
	if p.MinAmount >= p.DailyLimit {
		return fmt.Errorf("rail %s: minimum amount %d must be below daily limit %d", p.Rail, p.MinAmount, p.DailyLimit)
	}
	if p.Currency == "" {
		return fmt.Errorf("rail %s: currency is required", p.Rail)
	}
	return nil
}

// RailStats holds the rolling outcome statistics for a rail. Stats are
// persisted after every recorded outcome so that ranking in a different
// process sees the latest counters.
type RailStats struct {
	Rail                Rail      `json:"rail"`
	SuccessCount        int64     `json:"success_count"`
	FailureCount        int64     `json:"failure_count"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	AverageLatencyMs    float64   `json:"average_latency_ms"`
	LastUsedAt          time.Time `json:"last_used_at"`
}

// TotalAttempts returns the total number of completed attempts.
func (s *RailStats) TotalAttempts() int64 {
	return s.SuccessCount + s.FailureCount
}

// DailyUsage is the running total of minor units successfully routed through
// a rail on a calendar day. A new day is a new key, never a reset in place.
type DailyUsage struct {
	Day    string `json:"day"`
	Rail   Rail   `json:"rail"`
	Amount int64  `json:"amount"`
}

// DayKey formats a time as the calendar-day key used by the ledger.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
