//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/executor"
	"github.com/quarrylabs/quarry-agent/pkg/limiter"
	"github.com/quarrylabs/quarry-agent/pkg/sqlguard"
	"github.com/quarrylabs/quarry-agent/pkg/store"
	"github.com/quarrylabs/quarry-agent/pkg/testhelpers"
)

func TestPostgresStoreQuery(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	s := store.NewPostgresStoreFromPool(testDB.Pool)

	result, err := s.Query(context.Background(),
		"SELECT name, status FROM projects WHERE tenant_id = 'acme' ORDER BY id")
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "status"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Riverside Tower", result.Rows[0][0])
}

func TestPostgresStoreQueryError(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	s := store.NewPostgresStoreFromPool(testDB.Pool)

	_, err := s.Query(context.Background(), "SELECT * FROM no_such_table")
	require.Error(t, err)
}

// TestGuardedExecutionAgainstPostgres runs the full guard, limiter, and
// executor path against a real database.
func TestGuardedExecutionAgainstPostgres(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	s := store.NewPostgresStoreFromPool(testDB.Pool)
	exec := executor.New(s, limiter.New(4), 5*time.Second, zap.NewNop())

	guarded, err := sqlguard.Guard(
		"SELECT c.name, COUNT(p.id) AS project_count FROM companies c JOIN projects p ON p.company_id = c.id WHERE c.tenant_id = 'acme' GROUP BY c.name",
		sqlguard.Options{MaxRows: 100, TenantID: "acme"})
	require.NoError(t, err)

	result, err := exec.Execute(context.Background(), guarded, "acme")
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowCount)
	assert.ElementsMatch(t, []string{"companies", "projects"}, result.Tables)
	for _, col := range result.Columns {
		if col.Name == "project_count" {
			assert.Equal(t, "number", col.Type)
		}
	}
}

// TestTenantIsolation verifies the seeded dataset actually spans tenants and
// that a tenant-filtered query never sees the other tenant's rows.
func TestTenantIsolation(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	s := store.NewPostgresStoreFromPool(testDB.Pool)

	result, err := s.Query(context.Background(),
		"SELECT tenant_id FROM projects WHERE tenant_id = 'acme'")
	require.NoError(t, err)
	require.NotEmpty(t, result.Rows)
	for _, row := range result.Rows {
		assert.Equal(t, "acme", row[0])
	}

	all, err := s.Query(context.Background(), "SELECT DISTINCT tenant_id FROM projects")
	require.NoError(t, err)
	assert.Len(t, all.Rows, 2, "seed data must span two tenants")
}
