package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Connect opens the debit outbox database with sensible pooling defaults.
// driver is either "mysql" or "sqlite".
func Connect(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if driver == "mysql" {
		normalized, err := withParseTime(dsn)
		if err != nil {
			return nil, err
		}
		dsn = normalized
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// A single writer avoids SQLITE_BUSY under concurrent enqueues.
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxLifetime(time.Minute * 5)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	pingCtx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return db, nil
}

// Migrate runs the bootstrap schema for the given driver.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	stmt, ok := schemas[driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", driver)
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// withParseTime forces parseTime so TIMESTAMP columns scan into time.Time.
func withParseTime(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
