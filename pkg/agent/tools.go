package agent

import (
	"github.com/quarrylabs/quarry-agent/pkg/llm"
)

// Tool names offered to the model.
const (
	ToolExecuteSQL     = "execute_sql"
	ToolDescribeSchema = "describe_schema"
)

// ToolDefinitions returns the tool surface the model sees. The guard, not the
// tool description, is what actually enforces the constraints; the
// description exists so the model writes acceptable SQL on the first try.
func ToolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name: ToolExecuteSQL,
			Description: "Execute a single read-only SQL SELECT statement against the analytics database. " +
				"The statement must filter by tenant_id and may not modify data. " +
				"Results are row-capped; use aggregates for totals.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The SQL SELECT statement to run.",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name: ToolDescribeSchema,
			Description: "Describe the analytics schema. Returns column names, types, and " +
				"descriptions for one table, or for all tables when no table is given.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"table": map[string]any{
						"type":        "string",
						"description": "Optional table name. Omit to describe every table.",
					},
				},
			},
		},
	}
}
