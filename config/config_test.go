package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchyard-finance/switchyard/model"
)

func writeConfigFile(t *testing.T, cnf Configuration) string {
	t.Helper()
	data, err := json.Marshal(cnf)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "switchyard.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestInitConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/switchyard"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Audit:      AuditConfig{Secret: "test-secret"},
	})

	require.NoError(t, InitConfig(path))
	cnf, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "Switchyard Server", cnf.ProjectName)
	assert.Equal(t, 10, cnf.Settlement.LockWaitTimeoutSec)
	assert.Equal(t, 3, cnf.Settlement.MaxDispatchRetries)
	assert.InDelta(t, 0.1, cnf.Settlement.ExplorationRate, 0.0001)
	assert.Len(t, cnf.Rails, 4)
}

func TestInitConfigRequiresDataSource(t *testing.T) {
	path := writeConfigFile(t, Configuration{
		Redis: RedisConfig{Dns: "localhost:6379"},
	})
	assert.Error(t, InitConfig(path))
}

func TestRailPolicies(t *testing.T) {
	MockConfig(&Configuration{
		Rails: map[string]RailPolicyConfig{
			string(model.RailBankWire):   {DailyLimit: 10000, MinAmount: 500, Currency: "USD"},
			string(model.RailCardPayout): {DailyLimit: 5000, MinAmount: 100, Currency: "USD"},
		},
	})
	cnf, err := Fetch()
	require.NoError(t, err)

	policies, err := cnf.RailPolicies()
	require.NoError(t, err)
	require.Len(t, policies, 2)
	// Registration order is preserved regardless of map iteration order.
	assert.Equal(t, model.RailBankWire, policies[0].Rail)
	assert.Equal(t, model.RailCardPayout, policies[1].Rail)
}

func TestRailPoliciesRejectsInvalidPolicy(t *testing.T) {
	cnf := &Configuration{
		Rails: map[string]RailPolicyConfig{
			string(model.RailBankWire): {DailyLimit: 100, MinAmount: 100, Currency: "USD"},
		},
	}
	_, err := cnf.RailPolicies()
	assert.Error(t, err)
}

func TestHasCredentials(t *testing.T) {
	cnf := &Configuration{Credentials: map[string]bool{string(model.RailEWallet): true}}
	assert.True(t, cnf.HasCredentials(model.RailEWallet))
	assert.False(t, cnf.HasCredentials(model.RailBankWire))
}
