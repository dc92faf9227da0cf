// Package store abstracts the analytical database behind a minimal read-only
// interface. Concrete implementations exist for PostgreSQL, SQL Server, and a
// fixture-backed mock used in development and tests. The driver is chosen at
// startup from configuration; nothing downstream knows which one is active.
package store

import (
	"context"
	"fmt"

	"github.com/quarrylabs/quarry-agent/pkg/config"
)

// QueryResult is the raw outcome of a statement: ordered column names and
// rows whose values align with the column order. Type classification of the
// values is the executor's job, not the store's.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// RowCount returns the number of data rows.
func (r *QueryResult) RowCount() int {
	return len(r.Rows)
}

// Store executes read-only SQL against the analytical database.
type Store interface {
	// Query runs a single statement and materializes the full result set.
	// The statement is expected to have passed guard validation already.
	Query(ctx context.Context, sql string) (*QueryResult, error)
	// Close releases the underlying connections.
	Close() error
}

// New selects a store implementation from configuration.
func New(ctx context.Context, cfg *config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgresStore(ctx, cfg)
	case "mssql":
		return NewMSSQLStore(cfg)
	case "mock":
		return NewMockStore(cfg.FixturesPath)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
