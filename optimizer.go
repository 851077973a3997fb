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
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/switchyard-finance/switchyard/database"
	"github.com/switchyard-finance/switchyard/model"
)

// Scoring weights, summing to 1.0.
const (
	weightSuccessRate = 0.6
	weightSpeed       = 0.2
	weightRecency     = 0.1
	weightCost        = 0.1

	// breakerThreshold is the number of consecutive failures after which a
	// rail is excluded from ranking until a success resets the counter.
	breakerThreshold = 3

	recencyWindow = 24 * time.Hour
)

// RailOptimizer ranks rails by rolling success, latency, recency and cost
// statistics, and applies a per-rail circuit breaker.
type RailOptimizer struct {
	datasource      database.IDataSource
	policies        []model.RailPolicy
	explorationRate float64
	rng             *rand.Rand
	now             func() time.Time
}

func NewRailOptimizer(datasource database.IDataSource, policies []model.RailPolicy, explorationRate float64) *RailOptimizer {
	return &RailOptimizer{
		datasource:      datasource,
		policies:        policies,
		explorationRate: explorationRate,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		now:             time.Now,
	}
}

type scoredRail struct {
	rail  model.Rail
	score float64
}

// Rank returns rails ordered best-first for the given amount and currency.
// Rails whose breaker is open are excluded; if every rail is excluded the
// designated fallback rail (first-registered for the currency) is returned
// as the single candidate, so callers never receive zero candidates.
func (o *RailOptimizer) Rank(ctx context.Context, amount int64, currency string) ([]model.Rail, error) {
	ctx, span := tracer.Start(ctx, "Ranking rails")
	defer span.End()

	candidates := o.policiesForCurrency(currency)
	if len(candidates) == 0 {
		return nil, nil
	}

	var scored []scoredRail
	for _, policy := range candidates {
		railStats, err := o.datasource.GetRailStats(ctx, policy.Rail)
		if err != nil {
			return nil, err
		}
		if railStats.ConsecutiveFailures >= breakerThreshold {
			span.AddEvent("rail excluded by circuit breaker: " + string(policy.Rail))
			continue
		}
		scored = append(scored, scoredRail{rail: policy.Rail, score: o.score(railStats, policy, amount)})
	}

	// Breaker took out everything: fall back to the first-registered rail
	// for the currency rather than returning an empty list.
	if len(scored) == 0 {
		fallback := candidates[0].Rail
		logrus.Warnf("all rails excluded by circuit breaker, falling back to %s", fallback)
		return []model.Rail{fallback}, nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	ranked := make([]model.Rail, len(scored))
	for i, s := range scored {
		ranked[i] = s.rail
	}

	// Occasionally promote a random eligible rail so stale statistics can
	// self-correct. Suppressed when only one rail is eligible.
	if len(ranked) >= 2 && o.rng.Float64() < o.explorationRate {
		pick := o.rng.Intn(len(ranked))
		ranked[0], ranked[pick] = ranked[pick], ranked[0]
		span.AddEvent("exploration pick: " + string(ranked[0]))
	}

	return ranked, nil
}

// RecordOutcome updates a rail's counters and running latency average after
// a completed attempt and persists immediately, so the next ranking (possibly
// in another process) sees the outcome.
func (o *RailOptimizer) RecordOutcome(ctx context.Context, rail model.Rail, success bool, latencyMs float64) error {
	railStats, err := o.datasource.GetRailStats(ctx, rail)
	if err != nil {
		return err
	}

	if success {
		railStats.SuccessCount++
		railStats.ConsecutiveFailures = 0
	} else {
		railStats.FailureCount++
		railStats.ConsecutiveFailures++
	}

	n := float64(railStats.TotalAttempts())
	railStats.AverageLatencyMs = (railStats.AverageLatencyMs*(n-1) + latencyMs) / n
	railStats.LastUsedAt = o.now()

	return o.datasource.SaveRailStats(ctx, railStats)
}

func (o *RailOptimizer) policiesForCurrency(currency string) []model.RailPolicy {
	var matched []model.RailPolicy
	for _, policy := range o.policies {
		if policy.Currency == currency {
			matched = append(matched, policy)
		}
	}
	return matched
}

func (o *RailOptimizer) score(railStats *model.RailStats, policy model.RailPolicy, amount int64) float64 {
	successRate := 0.5
	if railStats.TotalAttempts() > 0 {
		successRate = float64(railStats.SuccessCount) / float64(railStats.TotalAttempts())
	}

	speed := 0.5
	if railStats.AverageLatencyMs > 0 {
		speed = 1.0 / (railStats.AverageLatencyMs / 1000.0)
		if speed > 1.0 {
			speed = 1.0
		}
	}

	recency := 0.0
	if !railStats.LastUsedAt.IsZero() {
		elapsed := o.now().Sub(railStats.LastUsedAt)
		if elapsed < recencyWindow {
			recency = 1.0 - float64(elapsed)/float64(recencyWindow)
		}
	}

	cost := costScore(policy, amount)

	return weightSuccessRate*successRate + weightSpeed*speed + weightRecency*recency + weightCost*cost
}

// costScore computes max(0, 1 - fee/amount) where fee is the rail's flat fee
// plus basis points on the amount. Decimal arithmetic avoids float drift on
// large minor-unit amounts.
func costScore(policy model.RailPolicy, amount int64) float64 {
	if amount <= 0 {
		return 0
	}
	amt := decimal.NewFromInt(amount)
	fee := decimal.NewFromInt(policy.FeeFlat).Add(
		amt.Mul(decimal.NewFromInt(policy.FeeBps)).Div(decimal.NewFromInt(10000)),
	)
	ratio, _ := fee.Div(amt).Float64()
	score := 1.0 - ratio
	if score < 0 {
		return 0
	}
	return score
}

// EstimatedFee exposes the fee model used by the cost component, in minor
// units, for audit context.
func EstimatedFee(policy model.RailPolicy, amount int64) int64 {
	amt := decimal.NewFromInt(amount)
	fee := decimal.NewFromInt(policy.FeeFlat).Add(
		amt.Mul(decimal.NewFromInt(policy.FeeBps)).Div(decimal.NewFromInt(10000)),
	)
	return fee.Round(0).IntPart()
}
