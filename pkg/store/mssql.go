package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/quarrylabs/quarry-agent/pkg/config"
)

// MSSQLStore executes queries against SQL Server through database/sql.
type MSSQLStore struct {
	db *sql.DB
}

// NewMSSQLStore opens a connection pool using the configured DSN. Opening is
// lazy in database/sql, so reachability is checked on first query.
func NewMSSQLStore(cfg *config.StoreConfig) (*MSSQLStore, error) {
	db, err := sql.Open("sqlserver", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}
	db.SetMaxOpenConns(int(cfg.MaxConnections))

	return &MSSQLStore{db: db}, nil
}

// Query runs a single statement and materializes the full result set.
func (s *MSSQLStore) Query(ctx context.Context, query string) (*QueryResult, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &QueryResult{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			// The driver hands back []byte for character data; normalize to
			// string so downstream rendering does not see raw bytes.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// Close releases the pool.
func (s *MSSQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*MSSQLStore)(nil)
