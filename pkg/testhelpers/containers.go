// Package testhelpers provides utilities for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// postgresImage is the stock image used for integration tests; the analytics
// schema is seeded after startup.
const postgresImage = "postgres:16-alpine"

// seedSchema creates the analytics tables with a small two-tenant dataset, so
// tenant isolation is actually observable in tests.
const seedSchema = `
CREATE TABLE companies (
    id BIGINT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    trade TEXT,
    active BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE addresses (
    id BIGINT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    company_id BIGINT REFERENCES companies(id),
    street TEXT NOT NULL,
    city TEXT NOT NULL,
    state TEXT,
    postal_code TEXT
);
CREATE TABLE projects (
    id BIGINT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    company_id BIGINT REFERENCES companies(id),
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    budget NUMERIC(14,2),
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);

INSERT INTO companies (id, tenant_id, name, trade, active) VALUES
    (1, 'acme', 'Granite Works LLC', 'masonry', true),
    (2, 'acme', 'Summit Electric', 'electrical', true),
    (3, 'other', 'Rival Builders', 'general', true);
INSERT INTO addresses (id, tenant_id, company_id, street, city, state, postal_code) VALUES
    (1, 'acme', 1, '12 Quarry Rd', 'Barre', 'VT', '05641'),
    (2, 'acme', 2, '800 Ridge Ave', 'Denver', 'CO', '80211'),
    (3, 'other', 3, '1 Elsewhere St', 'Reno', 'NV', '89501');
INSERT INTO projects (id, tenant_id, company_id, name, status, budget, started_at) VALUES
    (1, 'acme', 1, 'Riverside Tower', 'active', 1250000.00, now() - interval '90 days'),
    (2, 'acme', 2, 'Harbor Depot', 'completed', 480000.00, now() - interval '400 days'),
    (3, 'other', 3, 'Secret Annex', 'active', 90000.00, now());
`

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared seeded PostgreSQL container. The container is
// created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "quarry_test",
			"POSTGRES_USER":     "quarry",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://quarry:test_password@%s:%s/quarry_test?sslmode=disable",
		host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// The ready log can race the final restart; retry the first connection.
	var pingErr error
	for i := 0; i < 10; i++ {
		if pingErr = pool.Ping(ctx); pingErr == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if pingErr != nil {
		return nil, fmt.Errorf("connect to test container: %w", pingErr)
	}

	if _, err := pool.Exec(ctx, seedSchema); err != nil {
		return nil, fmt.Errorf("seed test schema: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}, nil
}
