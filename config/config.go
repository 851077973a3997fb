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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"

	"github.com/switchyard-finance/switchyard/model"
)

const (
	DEFAULT_PORT = "5002"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"SWITCHYARD_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SWITCHYARD_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"SWITCHYARD_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SWITCHYARD_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"SWITCHYARD_REDIS_DNS"`
}

// AuditConfig configures the tamper-evident audit journal. Secret is the HMAC
// key; it must be supplied at runtime and its absence is a fatal configuration
// error for any write path.
type AuditConfig struct {
	Secret string `json:"secret" envconfig:"SWITCHYARD_AUDIT_SECRET"`
	Dir    string `json:"dir" envconfig:"SWITCHYARD_AUDIT_DIR"`
}

// RailPolicyConfig mirrors model.RailPolicy in the config file, keyed by rail
// name in the Rails map.
type RailPolicyConfig struct {
	DailyLimit int64  `json:"daily_limit"`
	MinAmount  int64  `json:"min_amount"`
	Currency   string `json:"currency"`
	FeeFlat    int64  `json:"fee_flat"`
	FeeBps     int64  `json:"fee_bps"`
}

// SettlementConfig tunes the orchestrator: lock bounds, dispatch retries and
// the optimizer exploration rate.
type SettlementConfig struct {
	LockWaitTimeoutSec  int     `json:"lock_wait_timeout_sec" envconfig:"SWITCHYARD_LOCK_WAIT_TIMEOUT_SEC"`
	LockTTLSec          int     `json:"lock_ttl_sec" envconfig:"SWITCHYARD_LOCK_TTL_SEC"`
	MaxDispatchRetries  int     `json:"max_dispatch_retries" envconfig:"SWITCHYARD_MAX_DISPATCH_RETRIES"`
	ExplorationRate     float64 `json:"exploration_rate" envconfig:"SWITCHYARD_EXPLORATION_RATE"`
	ReconcileBatchLimit int     `json:"reconcile_batch_limit" envconfig:"SWITCHYARD_RECONCILE_BATCH_LIMIT"`
}

// GatewayConfig holds the provider connection details for one rail, keyed by
// rail name in the Gateways map. Whether a rail is usable at all is governed
// separately by the Credentials map.
type GatewayConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
}

type QueueConfig struct {
	OverflowQueue        string `json:"overflow_queue" envconfig:"SWITCHYARD_OVERFLOW_QUEUE"`
	ReconcileQueue       string `json:"reconcile_queue" envconfig:"SWITCHYARD_RECONCILE_QUEUE"`
	MaxRetryAttempts     int    `json:"max_retry_attempts" envconfig:"SWITCHYARD_QUEUE_MAX_RETRY_ATTEMPTS"`
	ReconcileIntervalSec int    `json:"reconcile_interval_sec" envconfig:"SWITCHYARD_RECONCILE_INTERVAL_SEC"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SWITCHYARD_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SWITCHYARD_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SWITCHYARD_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName string                      `json:"project_name" envconfig:"SWITCHYARD_PROJECT_NAME"`
	Server      ServerConfig                `json:"server"`
	DataSource  DataSourceConfig            `json:"data_source"`
	Redis       RedisConfig                 `json:"redis"`
	Audit       AuditConfig                 `json:"audit"`
	Rails       map[string]RailPolicyConfig `json:"rails"`
	Credentials map[string]bool             `json:"credentials"`
	Gateways    map[string]GatewayConfig    `json:"gateways"`
	Settlement  SettlementConfig            `json:"settlement"`
	Queue       QueueConfig                 `json:"queue"`
	RateLimit   RateLimitConfig             `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("switchyard", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called switchyard.json with your config")
	}
	return c, nil
}

// RailPolicies converts the configured rail table into validated model
// policies, in registration order.
func (cnf *Configuration) RailPolicies() ([]model.RailPolicy, error) {
	policies := make([]model.RailPolicy, 0, len(cnf.Rails))
	for _, rail := range model.AllRails {
		rc, ok := cnf.Rails[string(rail)]
		if !ok {
			continue
		}
		policy := model.RailPolicy{
			Rail:       rail,
			DailyLimit: rc.DailyLimit,
			MinAmount:  rc.MinAmount,
			Currency:   rc.Currency,
			FeeFlat:    rc.FeeFlat,
			FeeBps:     rc.FeeBps,
		}
		if err := policy.Validate(); err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}
	if len(policies) == 0 {
		return nil, errors.New("no rail policies configured")
	}
	return policies, nil
}

// HasCredentials reports whether credentials are present for a rail right
// now. This is the capability check used by the orchestrator; it is a pure
// function over typed config, not an environment lookup.
func (cnf *Configuration) HasCredentials(rail model.Rail) bool {
	return cnf.Credentials[string(rail)]
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Switchyard Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Audit.Secret = strings.TrimSpace(cnf.Audit.Secret)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Audit.Dir == "" {
		cnf.Audit.Dir = "audit"
	}

	if len(cnf.Rails) == 0 {
		log.Println("Warning: No rail policies configured. Loading default rail table.")
		cnf.Rails = defaultRailTable()
	}
	for name, rc := range cnf.Rails {
		policy := model.RailPolicy{
			Rail:       model.Rail(name),
			DailyLimit: rc.DailyLimit,
			MinAmount:  rc.MinAmount,
			Currency:   rc.Currency,
			FeeFlat:    rc.FeeFlat,
			FeeBps:     rc.FeeBps,
		}
		if err := policy.Validate(); err != nil {
			return err
		}
	}

	if cnf.Settlement.LockWaitTimeoutSec == 0 {
		cnf.Settlement.LockWaitTimeoutSec = 10
	}
	if cnf.Settlement.LockTTLSec == 0 {
		cnf.Settlement.LockTTLSec = 60
	}
	if cnf.Settlement.MaxDispatchRetries == 0 {
		cnf.Settlement.MaxDispatchRetries = 3
	}
	if cnf.Settlement.ExplorationRate == 0 {
		cnf.Settlement.ExplorationRate = 0.1
	}
	if cnf.Settlement.ReconcileBatchLimit == 0 {
		cnf.Settlement.ReconcileBatchLimit = 50
	}

	if cnf.Queue.OverflowQueue == "" {
		cnf.Queue.OverflowQueue = "settlement:overflow"
	}
	if cnf.Queue.ReconcileQueue == "" {
		cnf.Queue.ReconcileQueue = "settlement:reconcile"
	}
	if cnf.Queue.MaxRetryAttempts == 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.ReconcileIntervalSec == 0 {
		cnf.Queue.ReconcileIntervalSec = 300
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		cnf.RateLimit.Burst = ptr.Int(2 * int(*cnf.RateLimit.RequestsPerSecond))
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", *cnf.RateLimit.Burst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		cnf.RateLimit.RequestsPerSecond = ptr.Float64(float64(*cnf.RateLimit.Burst) / 2)
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", *cnf.RateLimit.RequestsPerSecond)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		cnf.RateLimit.CleanupIntervalSec = ptr.Int(10800)
	}

	return nil
}

func defaultRailTable() map[string]RailPolicyConfig {
	return map[string]RailPolicyConfig{
		string(model.RailBankWire):       {DailyLimit: 1000000, MinAmount: 500, Currency: "USD", FeeFlat: 25, FeeBps: 10},
		string(model.RailCardPayout):     {DailyLimit: 500000, MinAmount: 100, Currency: "USD", FeeFlat: 30, FeeBps: 250},
		string(model.RailEWallet):        {DailyLimit: 250000, MinAmount: 100, Currency: "USD", FeeFlat: 5, FeeBps: 100},
		string(model.RailCryptoTransfer): {DailyLimit: 2000000, MinAmount: 1000, Currency: "USD", FeeFlat: 50, FeeBps: 30},
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Audit.Dir == "" {
		mockConfig.Audit.Dir = os.TempDir()
	}
	if len(mockConfig.Rails) == 0 {
		mockConfig.Rails = defaultRailTable()
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
