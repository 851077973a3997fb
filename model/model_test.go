package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("txn")
	assert.Contains(t, id, "txn_")
	assert.NotEqual(t, id, GenerateUUIDWithSuffix("txn"))
}

func TestHashTxnDeterministic(t *testing.T) {
	txn := Transaction{Rail: RailBankWire, Amount: 1500, Currency: "USD", Reference: "ref_1"}
	other := Transaction{Rail: RailBankWire, Amount: 1500, Currency: "USD", Reference: "ref_1"}
	assert.Equal(t, txn.HashTxn(), other.HashTxn())

	other.Amount = 1501
	assert.NotEqual(t, txn.HashTxn(), other.HashTxn())
}

func TestRailPolicyValidate(t *testing.T) {
	valid := RailPolicy{Rail: RailBankWire, DailyLimit: 10000, MinAmount: 500, Currency: "USD"}
	assert.NoError(t, valid.Validate())

	invalidMin := RailPolicy{Rail: RailBankWire, DailyLimit: 10000, MinAmount: 10000, Currency: "USD"}
	assert.Error(t, invalidMin.Validate())

	unknownRail := RailPolicy{Rail: Rail("CARRIER_PIGEON"), DailyLimit: 10000, MinAmount: 500, Currency: "USD"}
	assert.Error(t, unknownRail.Validate())

	missingCurrency := RailPolicy{Rail: RailEWallet, DailyLimit: 10000, MinAmount: 500}
	assert.Error(t, missingCurrency.Validate())
}

func TestDayKey(t *testing.T) {
	ts := time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-14", DayKey(ts))
}
