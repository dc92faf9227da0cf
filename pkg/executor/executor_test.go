package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/apperrors"
	"github.com/quarrylabs/quarry-agent/pkg/limiter"
	"github.com/quarrylabs/quarry-agent/pkg/sqlguard"
	"github.com/quarrylabs/quarry-agent/pkg/store"
)

// stubStore lets tests script store behavior.
type stubStore struct {
	queryFunc  func(ctx context.Context, sql string) (*store.QueryResult, error)
	queryCalls int
}

func (s *stubStore) Query(ctx context.Context, sql string) (*store.QueryResult, error) {
	s.queryCalls++
	return s.queryFunc(ctx, sql)
}

func (s *stubStore) Close() error { return nil }

var _ store.Store = (*stubStore)(nil)

func guarded(sql string, tables ...string) *sqlguard.GuardedSQL {
	return &sqlguard.GuardedSQL{SQL: sql, TablesUsed: tables}
}

func TestExecutor_ShapesResult(t *testing.T) {
	s := &stubStore{
		queryFunc: func(ctx context.Context, sql string) (*store.QueryResult, error) {
			return &store.QueryResult{
				Columns: []string{"name", "budget", "active", "started_at"},
				Rows: [][]any{
					{"Riverside Tower", int64(1250000), true, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
				},
			}, nil
		},
	}
	e := New(s, nil, time.Second, zap.NewNop())

	result, err := e.Execute(context.Background(), guarded("SELECT 1", "projects"), "acme")
	require.NoError(t, err)

	require.Len(t, result.Columns, 4)
	assert.Equal(t, "string", result.Columns[0].Type)
	assert.Equal(t, "number", result.Columns[1].Type)
	assert.Equal(t, "boolean", result.Columns[2].Type)
	assert.Equal(t, "date", result.Columns[3].Type)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, []string{"projects"}, result.Tables)
}

func TestExecutor_Timeout(t *testing.T) {
	s := &stubStore{
		queryFunc: func(ctx context.Context, sql string) (*store.QueryResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	e := New(s, nil, 20*time.Millisecond, zap.NewNop())

	_, err := e.Execute(context.Background(), guarded("SELECT 1"), "acme")
	assert.ErrorIs(t, err, apperrors.ErrQueryTimeout)
}

func TestExecutor_CallerCancellationIsNotTimeout(t *testing.T) {
	s := &stubStore{
		queryFunc: func(ctx context.Context, sql string) (*store.QueryResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	e := New(s, nil, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := e.Execute(ctx, guarded("SELECT 1"), "acme")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrQueryTimeout)
}

func TestExecutor_UsesLimiter(t *testing.T) {
	s := &stubStore{
		queryFunc: func(ctx context.Context, sql string) (*store.QueryResult, error) {
			return &store.QueryResult{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}, nil
		},
	}
	l := limiter.New(1)
	e := New(s, l, time.Second, zap.NewNop())

	// Hold the only slot; a short-deadline execute must fail in the queue.
	require.NoError(t, l.Acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := e.Execute(ctx, guarded("SELECT 1"), "acme")
	assert.Error(t, err)
	assert.Equal(t, 0, s.queryCalls)

	l.Release()
	_, err = e.Execute(context.Background(), guarded("SELECT 1"), "acme")
	assert.NoError(t, err)
}

func TestResult_Tabular(t *testing.T) {
	tests := []struct {
		name    string
		columns int
		rows    int
		want    bool
	}{
		{"empty result", 3, 0, false},
		{"single cell", 1, 1, false},
		{"single row multiple columns", 2, 1, true},
		{"single column multiple rows", 1, 2, true},
		{"full table", 3, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Result{
				Columns:  make([]Column, tt.columns),
				RowCount: tt.rows,
			}
			assert.Equal(t, tt.want, r.Tabular())
		})
	}
}

func TestResult_Summary(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		r := &Result{Columns: []Column{{Name: "n"}}}
		assert.Equal(t, "No rows returned.", r.Summary())
	})

	t.Run("single cell", func(t *testing.T) {
		r := &Result{
			Columns:  []Column{{Name: "count", Type: "number"}},
			Rows:     [][]any{{int64(42)}},
			RowCount: 1,
		}
		assert.Equal(t, "Result: 42", r.Summary())
	})

	t.Run("small set rendered in full", func(t *testing.T) {
		r := &Result{
			Columns:  []Column{{Name: "name"}, {Name: "status"}},
			Rows:     [][]any{{"Riverside Tower", "active"}, {"Harbor Depot", "completed"}},
			RowCount: 2,
		}
		summary := r.Summary()
		assert.Contains(t, summary, "name | status")
		assert.Contains(t, summary, "Riverside Tower | active")
		assert.Contains(t, summary, "Harbor Depot | completed")
		assert.NotContains(t, summary, "limited to")
	})

	t.Run("large set previewed", func(t *testing.T) {
		rows := make([][]any, 8)
		for i := range rows {
			rows[i] = []any{i, "row"}
		}
		r := &Result{
			Columns:  []Column{{Name: "id"}, {Name: "label"}},
			Rows:     rows,
			RowCount: 8,
		}
		summary := r.Summary()
		assert.Contains(t, summary, "limited to 8 rows")
		assert.Contains(t, summary, "0 | row")
		assert.Contains(t, summary, "2 | row")
		assert.NotContains(t, summary, "3 | row")
	})
}
