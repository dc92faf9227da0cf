// Package executor runs guarded SQL against the store under a concurrency
// limit and a per-query timeout, and shapes raw results for the agent loop:
// column type inference, tabular detection, and a model-facing summary.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/apperrors"
	"github.com/quarrylabs/quarry-agent/pkg/limiter"
	"github.com/quarrylabs/quarry-agent/pkg/logging"
	"github.com/quarrylabs/quarry-agent/pkg/sqlguard"
	"github.com/quarrylabs/quarry-agent/pkg/store"
)

// DefaultQueryTimeout bounds a single statement's execution.
const DefaultQueryTimeout = 5 * time.Second

// previewRows is how many rows a summary shows for large result sets.
const previewRows = 3

// fullRenderThreshold is the largest result rendered in full.
const fullRenderThreshold = 5

// Column pairs a result column with its inferred type.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Result is a shaped query outcome ready for the agent and the stream layer.
type Result struct {
	Columns  []Column `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"rowCount"`
	Tables   []string `json:"tables,omitempty"`
}

// Tabular reports whether the result is worth rendering as a table: at least
// one row, and either multiple columns or multiple rows. A single cell is a
// scalar answer, not a table.
func (r *Result) Tabular() bool {
	if r.RowCount < 1 {
		return false
	}
	return len(r.Columns) >= 2 || r.RowCount > 1
}

// Executor owns the path from guarded SQL to shaped result.
type Executor struct {
	store   store.Store
	limiter *limiter.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// New builds an executor. A nil limiter disables concurrency limiting, which
// the fixture-backed store uses since it performs no real work.
func New(s store.Store, l *limiter.Limiter, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Executor{
		store:   s,
		limiter: l,
		timeout: timeout,
		logger:  logger.Named("executor"),
	}
}

// Execute runs a guarded statement for a tenant. The concurrency slot is
// acquired under the caller's context; the per-query timeout starts only once
// the slot is held, so queue time does not eat into execution time.
func (e *Executor) Execute(ctx context.Context, guarded *sqlguard.GuardedSQL, tenantID string) (*Result, error) {
	if e.limiter != nil {
		if err := e.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("waiting for query slot: %w", err)
		}
		defer e.limiter.Release()
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	raw, err := e.store.Query(queryCtx, guarded.SQL)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			e.logger.Warn("query timed out",
				zap.String("tenant_id", tenantID),
				zap.String("query", logging.Fingerprint(guarded.SQL)),
				zap.Duration("elapsed", elapsed))
			return nil, fmt.Errorf("%w after %s", apperrors.ErrQueryTimeout, e.timeout)
		}
		e.logger.Error("query failed",
			zap.String("tenant_id", tenantID),
			zap.String("query", logging.Fingerprint(guarded.SQL)),
			zap.Error(err))
		return nil, err
	}

	result := shape(raw, guarded.TablesUsed)

	e.logger.Info("query executed",
		zap.String("tenant_id", tenantID),
		zap.String("query", logging.Fingerprint(guarded.SQL)),
		zap.Strings("tables", guarded.TablesUsed),
		zap.Int("rows", result.RowCount),
		zap.Duration("elapsed", elapsed))

	return result, nil
}

// shape converts a raw store result into a typed Result. Column types are
// inferred from the first row's values; an empty result set infers nothing
// and every column reports as string.
func shape(raw *store.QueryResult, tables []string) *Result {
	columns := make([]Column, len(raw.Columns))
	for i, name := range raw.Columns {
		columns[i] = Column{Name: name, Type: "string"}
	}
	if len(raw.Rows) > 0 {
		first := raw.Rows[0]
		for i := range columns {
			if i < len(first) {
				columns[i].Type = inferType(first[i])
			}
		}
	}

	return &Result{
		Columns:  columns,
		Rows:     raw.Rows,
		RowCount: len(raw.Rows),
		Tables:   tables,
	}
}

// inferType classifies a single value as number, boolean, date, or string.
func inferType(v any) string {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case bool:
		return "boolean"
	case time.Time:
		return "date"
	default:
		return "string"
	}
}

// Summary renders the result as compact text for the model. A single cell
// becomes a scalar answer, small sets render in full, and large sets render a
// short preview with an explicit row-count note so the model does not assume
// it saw everything.
func (r *Result) Summary() string {
	if r.RowCount == 0 {
		return "No rows returned."
	}

	if r.RowCount == 1 && len(r.Columns) == 1 {
		return fmt.Sprintf("Result: %s", formatValue(r.Rows[0][0]))
	}

	var b strings.Builder
	shown := r.RowCount
	if r.RowCount > fullRenderThreshold {
		shown = previewRows
	}

	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	b.WriteString(strings.Join(names, " | "))
	b.WriteString("\n")

	for _, row := range r.Rows[:shown] {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}

	if r.RowCount > fullRenderThreshold {
		b.WriteString(fmt.Sprintf("(showing %d of %d rows, limited to %d rows)", shown, r.RowCount, r.RowCount))
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return val.Format(time.RFC3339)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", val), "0"), ".")
	case float32:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", val), "0"), ".")
	default:
		return fmt.Sprintf("%v", val)
	}
}
