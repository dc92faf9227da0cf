package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFixtures = `
tables:
  projects:
    columns: [id, name, status]
    rows:
      - [1, "Riverside Tower", "active"]
      - [2, "Harbor Depot", "completed"]
queries:
  - match: "count(*)"
    columns: [count]
    rows:
      - [2]
`

func TestMockStore_TableLookup(t *testing.T) {
	s, err := NewMockStoreFromBytes([]byte(testFixtures))
	require.NoError(t, err)

	result, err := s.Query(context.Background(), "SELECT id, name, status FROM projects WHERE tenant_id = 'dev' LIMIT 100")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "status"}, result.Columns)
	assert.Equal(t, 2, result.RowCount())
	assert.Equal(t, "Riverside Tower", result.Rows[0][1])
}

func TestMockStore_PinnedQueryTakesPrecedence(t *testing.T) {
	s, err := NewMockStoreFromBytes([]byte(testFixtures))
	require.NoError(t, err)

	result, err := s.Query(context.Background(), "SELECT COUNT(*) FROM projects WHERE tenant_id = 'dev'")
	require.NoError(t, err)
	assert.Equal(t, []string{"count"}, result.Columns)
	require.Equal(t, 1, result.RowCount())
	assert.Equal(t, 2, result.Rows[0][0])
}

func TestMockStore_UnknownTable(t *testing.T) {
	s, err := NewMockStoreFromBytes([]byte(testFixtures))
	require.NoError(t, err)

	_, err = s.Query(context.Background(), "SELECT * FROM invoices")
	assert.ErrorContains(t, err, "invoices")
}

func TestMockStore_SystemInfo(t *testing.T) {
	s, err := NewMockStoreFromBytes([]byte(testFixtures))
	require.NoError(t, err)

	result, err := s.Query(context.Background(), "SELECT NOW()")
	require.NoError(t, err)
	require.Equal(t, 1, result.RowCount())
	assert.Len(t, result.Rows[0], 1)
}

func TestMockStore_CanceledContext(t *testing.T) {
	s, err := NewMockStoreFromBytes([]byte(testFixtures))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Query(ctx, "SELECT * FROM projects")
	assert.ErrorIs(t, err, context.Canceled)
}
