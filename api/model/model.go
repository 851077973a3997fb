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
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/switchyard-finance/switchyard"
)

// CreateSettlement is the request body for POST /settlements. With Async set
// the request is queued for the workers and the response is 202.
type CreateSettlement struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
	Destination    string `json:"destination"`
	Reference      string `json:"reference"`
	Async          bool   `json:"async"`
}

func (s *CreateSettlement) ValidateCreateSettlement() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Amount, validation.Required, validation.Min(1)),
		validation.Field(&s.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&s.IdempotencyKey, validation.Required),
	)
}

func (s *CreateSettlement) ToSettlementRequest() switchyard.SettlementRequest {
	return switchyard.SettlementRequest{
		Amount:         s.Amount,
		Currency:       s.Currency,
		IdempotencyKey: s.IdempotencyKey,
		Destination:    s.Destination,
		Reference:      s.Reference,
	}
}

// MatchStatements is the request body for POST /reconciliation/statements.
type MatchStatements struct {
	Entries []StatementEntry `json:"entries"`
}

type StatementEntry struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (m *MatchStatements) ValidateMatchStatements() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Entries, validation.Required, validation.Each(validation.By(func(value interface{}) error {
			entry, ok := value.(StatementEntry)
			if !ok {
				return errors.New("invalid statement entry")
			}
			if entry.Reference == "" {
				return errors.New("statement reference is required")
			}
			if entry.Amount <= 0 {
				return errors.New("statement amount must be positive")
			}
			if entry.Currency == "" {
				return errors.New("statement currency is required")
			}
			return nil
		}))),
	)
}

func (m *MatchStatements) ToStatementEntries() []switchyard.StatementEntry {
	entries := make([]switchyard.StatementEntry, len(m.Entries))
	for i, e := range m.Entries {
		entries[i] = switchyard.StatementEntry{
			Reference: e.Reference,
			Amount:    e.Amount,
			Currency:  e.Currency,
		}
	}
	return entries
}

// VerifyAudit is the request body for POST /audit/verify.
type VerifyAudit struct {
	Day string `json:"day"`
}

func (v *VerifyAudit) ValidateVerifyAudit() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.Day, validation.Required, validation.By(func(value interface{}) error {
			day, _ := value.(string)
			if _, err := time.Parse("2006-01-02", day); err != nil {
				return errors.New("day must be formatted as YYYY-MM-DD")
			}
			return nil
		})),
	)
}
