package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/apperrors"
	"github.com/quarrylabs/quarry-agent/pkg/audit"
	"github.com/quarrylabs/quarry-agent/pkg/executor"
	"github.com/quarrylabs/quarry-agent/pkg/jsonutil"
	"github.com/quarrylabs/quarry-agent/pkg/logging"
	"github.com/quarrylabs/quarry-agent/pkg/sqlguard"
)

// ToolRunner executes model-requested tools. Failures the model can recover
// from, guard violations above all, are returned as tool output with a nil
// error so the loop feeds them back instead of aborting the turn.
type ToolRunner struct {
	executor *executor.Executor
	catalog  *SchemaCatalog
	maxRows  int
	auditor  *audit.SecurityAuditor
	logger   *zap.Logger
}

// NewToolRunner wires the tool surface to the guard, executor, and catalog.
func NewToolRunner(exec *executor.Executor, catalog *SchemaCatalog, maxRows int, logger *zap.Logger) *ToolRunner {
	return &ToolRunner{
		executor: exec,
		catalog:  catalog,
		maxRows:  maxRows,
		auditor:  audit.NewSecurityAuditor(logger),
		logger:   logger.Named("tools"),
	}
}

// ToolOutcome is what a tool execution hands back to the loop: the payload
// for the model, and the shaped result when the tool ran a query.
type ToolOutcome struct {
	Payload string
	Result  *executor.Result
}

// Execute dispatches a tool call for a tenant. The returned error is non-nil
// only for failures the model cannot recover from, such as cancellation.
func (r *ToolRunner) Execute(ctx context.Context, tenantID, name, arguments string) (*ToolOutcome, error) {
	r.logger.Debug("executing tool",
		zap.String("tool", name),
		zap.String("tenant_id", tenantID))

	switch name {
	case ToolExecuteSQL:
		return r.executeSQL(ctx, tenantID, arguments)
	case ToolDescribeSchema:
		return r.describeSchema(arguments)
	default:
		return softError(fmt.Sprintf("unknown tool: %s", name)), nil
	}
}

// ============================================================================
// Tool: execute_sql
// ============================================================================

// Argument fields are raw so models that emit numbers or booleans where a
// string belongs still parse.
type executeSQLArgs struct {
	Query json.RawMessage `json:"query"`
}

type executeSQLPayload struct {
	Summary  string            `json:"summary"`
	RowCount int               `json:"rowCount"`
	Columns  []executor.Column `json:"columns,omitempty"`
	Tables   []string          `json:"tables,omitempty"`
}

func (r *ToolRunner) executeSQL(ctx context.Context, tenantID, arguments string) (*ToolOutcome, error) {
	var args executeSQLArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return softError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	query := jsonutil.FlexibleStringValue(args.Query)

	guarded, err := sqlguard.Guard(query, sqlguard.Options{
		MaxRows:  r.maxRows,
		TenantID: tenantID,
	})
	if err != nil {
		var violation *sqlguard.Violation
		if errors.As(err, &violation) {
			r.logger.Info("query rejected",
				zap.String("tenant_id", tenantID),
				zap.String("code", string(violation.Code)))
			if violation.Fingerprint != "" {
				r.auditor.LogInjectionAttempt(tenantID, violation.Fingerprint, logging.Fingerprint(query))
			} else {
				r.auditor.LogQueryRejected(tenantID, string(violation.Code), violation.Message, logging.Fingerprint(query))
			}
			return softErrorWithCode(violation.Message, string(violation.Code)), nil
		}
		return nil, err
	}

	result, err := r.executor.Execute(ctx, guarded, tenantID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, apperrors.ErrQueryTimeout) {
			return softError("query timed out; simplify the query or add more selective filters"), nil
		}
		// Driver errors can carry hosts or DSN fragments. The executor already
		// logged the original; the model only needs to know the query failed.
		return softError("query failed; adjust the query and try again"), nil
	}

	payload, err := json.Marshal(executeSQLPayload{
		Summary:  result.Summary(),
		RowCount: result.RowCount,
		Columns:  result.Columns,
		Tables:   result.Tables,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tool payload: %w", err)
	}

	return &ToolOutcome{Payload: string(payload), Result: result}, nil
}

// ============================================================================
// Tool: describe_schema
// ============================================================================

type describeSchemaArgs struct {
	Table string `json:"table"`
}

func (r *ToolRunner) describeSchema(arguments string) (*ToolOutcome, error) {
	var args describeSchemaArgs
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return softError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}

	if args.Table == "" {
		return &ToolOutcome{Payload: r.catalog.DescribeAll()}, nil
	}

	description, ok := r.catalog.Describe(args.Table)
	if !ok {
		return softError(fmt.Sprintf("unknown table %q; available tables: %v",
			args.Table, r.catalog.TableNames())), nil
	}
	return &ToolOutcome{Payload: description}, nil
}

func softError(message string) *ToolOutcome {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &ToolOutcome{Payload: string(payload)}
}

func softErrorWithCode(message, code string) *ToolOutcome {
	payload, _ := json.Marshal(map[string]string{"error": message, "code": code})
	return &ToolOutcome{Payload: string(payload)}
}
