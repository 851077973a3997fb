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
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID prefixed with a given module name.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// HashTxn generates a SHA-256 hash of a transaction's identifying fields.
// Two transactions with the same rail, amount, currency and reference hash
// to the same value, which is how duplicate submissions are detected.
func (transaction *Transaction) HashTxn() string {
	data := fmt.Sprintf("%d%s%s%s", transaction.Amount, transaction.Reference, transaction.Currency, transaction.Rail)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
