package db

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	// necessary import to wire up the postgres driver
	_ "github.com/lib/pq"
)

// schemaNamePattern restricts the schema to a plain identifier. Repositories
// interpolate the schema name into their queries, so anything else is
// rejected before a connection is even attempted.
var schemaNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewConnection opens a pooled connection and verifies it with a bounded
// ping. The fetch fan-out and the embed worker share this pool, so the open
// limit sits above their combined default concurrency.
func NewConnection(databaseURL, schema string) (*sqlx.DB, error) {
	if !schemaNamePattern.MatchString(schema) {
		return nil, fmt.Errorf("invalid database schema name: %q", schema)
	}

	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(40)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
