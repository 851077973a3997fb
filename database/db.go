package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/switchyard-finance/switchyard/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error: %v", err)
		return nil, errors.Wrap(err, "database ping failed")
	}
	err = createTransactionTable(db)
	if err != nil {
		return nil, err
	}
	err = createDailyUsageTable(db)
	if err != nil {
		return nil, err
	}
	err = createOverflowQueueTable(db)
	if err != nil {
		return nil, err
	}
	err = createRailStatsTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createTransactionTable creates a PostgreSQL table for the Transaction struct
func createTransactionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settlement_transactions (
			id SERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			reference TEXT NOT NULL,
			rail TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			hash TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			details JSONB
		)
	`)
	if err != nil {
		log.Printf("Error creating settlement_transactions table: %v", err)
	}
	return err
}

// createDailyUsageTable creates the per-day per-rail usage totals table.
// A new day is a new row; amounts are only ever incremented.
func createDailyUsageTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_usage (
			day TEXT NOT NULL,
			rail TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (day, rail)
		)
	`)
	if err != nil {
		log.Printf("Error creating daily_usage table: %v", err)
	}
	return err
}

// createOverflowQueueTable creates the overflow queue table.
func createOverflowQueueTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS overflow_queue (
			id SERIAL PRIMARY KEY,
			queue_id TEXT NOT NULL UNIQUE,
			rail TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			reason TEXT NOT NULL,
			reference TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating overflow_queue table: %v", err)
	}
	return err
}

// createRailStatsTable creates the persisted rolling statistics table.
func createRailStatsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rail_stats (
			rail TEXT PRIMARY KEY,
			success_count BIGINT NOT NULL DEFAULT 0,
			failure_count BIGINT NOT NULL DEFAULT 0,
			consecutive_failures BIGINT NOT NULL DEFAULT 0,
			average_latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_used_at TIMESTAMP
		)
	`)
	if err != nil {
		log.Printf("Error creating rail_stats table: %v", err)
	}
	return err
}
