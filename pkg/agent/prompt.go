package agent

import (
	"fmt"
	"strings"
)

// BuildSystemPrompt assembles the system prompt for one conversation turn.
// The prompt restates the guard's constraints so the model writes compliant
// SQL instead of discovering the rules through rejections.
func BuildSystemPrompt(catalog *SchemaCatalog, tenantID string, maxRows int, preferredTable string, deepResearch bool) string {
	var b strings.Builder

	b.WriteString("You are a data analyst for a construction contractor. ")
	b.WriteString("Answer questions by querying the analytics database with the execute_sql tool. ")
	b.WriteString("Use describe_schema when unsure about columns.\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Only single SELECT or WITH statements; no data modification.\n")
	fmt.Fprintf(&b, "- Every query against a table must include the filter tenant_id = '%s'.\n", tenantID)
	fmt.Fprintf(&b, "- Results are capped at %d rows; use aggregates (COUNT, SUM, AVG) for totals.\n", maxRows)
	b.WriteString("- Do not query system catalogs.\n\n")

	b.WriteString("Schema:\n")
	b.WriteString(catalog.Summary())
	b.WriteString("\n")

	if preferredTable != "" {
		if t, ok := catalog.Lookup(preferredTable); ok {
			fmt.Fprintf(&b, "\nThe user is currently viewing the %s table; prefer it when the question is ambiguous.\n", t.Name)
		}
	}

	if deepResearch {
		b.WriteString("\nDeep research mode: break the question into sub-questions, ")
		b.WriteString("run a query for each, and synthesize the findings into one answer. ")
		b.WriteString("Cite the numbers your queries returned.\n")
	}

	b.WriteString("\nWhen you have the data, answer concisely in plain language. ")
	b.WriteString("State numbers exactly as returned; do not invent values.")

	return b.String()
}
