package agent

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
)

// TableSchema describes one queryable table for the model.
type TableSchema struct {
	Name        string
	Description string
	Columns     []ColumnSchema
}

// ColumnSchema describes one column.
type ColumnSchema struct {
	Name        string
	Type        string
	Description string
}

// SchemaCatalog is the static description of the analytical schema exposed to
// the model. Lookups accept singular and plural forms so "project" and
// "projects" resolve to the same table.
type SchemaCatalog struct {
	tables map[string]TableSchema
	order  []string
}

// NewSchemaCatalog builds a catalog from table schemas.
func NewSchemaCatalog(tables []TableSchema) *SchemaCatalog {
	c := &SchemaCatalog{tables: make(map[string]TableSchema)}
	for _, t := range tables {
		name := strings.ToLower(t.Name)
		c.tables[name] = t
		c.order = append(c.order, name)
	}
	return c
}

// DefaultCatalog returns the contractor analytics schema.
func DefaultCatalog() *SchemaCatalog {
	return NewSchemaCatalog([]TableSchema{
		{
			Name:        "projects",
			Description: "Construction projects with status, budget, and schedule.",
			Columns: []ColumnSchema{
				{Name: "id", Type: "number", Description: "Primary key."},
				{Name: "tenant_id", Type: "string", Description: "Owning tenant; every query must filter on it."},
				{Name: "company_id", Type: "number", Description: "References companies.id."},
				{Name: "address_id", Type: "number", Description: "References addresses.id."},
				{Name: "name", Type: "string", Description: "Project name."},
				{Name: "status", Type: "string", Description: "One of planned, active, on_hold, completed."},
				{Name: "budget", Type: "number", Description: "Approved budget in dollars."},
				{Name: "started_at", Type: "date", Description: "Construction start date."},
				{Name: "completed_at", Type: "date", Description: "Completion date, null while in progress."},
			},
		},
		{
			Name:        "companies",
			Description: "Contractors and subcontractors.",
			Columns: []ColumnSchema{
				{Name: "id", Type: "number", Description: "Primary key."},
				{Name: "tenant_id", Type: "string", Description: "Owning tenant; every query must filter on it."},
				{Name: "name", Type: "string", Description: "Company name."},
				{Name: "trade", Type: "string", Description: "Primary trade, e.g. electrical, plumbing."},
				{Name: "active", Type: "boolean", Description: "Whether the company is currently engaged."},
			},
		},
		{
			Name:        "addresses",
			Description: "Site and office addresses.",
			Columns: []ColumnSchema{
				{Name: "id", Type: "number", Description: "Primary key."},
				{Name: "tenant_id", Type: "string", Description: "Owning tenant; every query must filter on it."},
				{Name: "street", Type: "string", Description: "Street address."},
				{Name: "city", Type: "string", Description: "City."},
				{Name: "state", Type: "string", Description: "Two-letter state code."},
				{Name: "postal_code", Type: "string", Description: "ZIP or postal code."},
			},
		},
	})
}

// Lookup resolves a table by name, accepting singular or plural spellings.
func (c *SchemaCatalog) Lookup(name string) (TableSchema, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if t, ok := c.tables[name]; ok {
		return t, true
	}
	if t, ok := c.tables[inflection.Plural(name)]; ok {
		return t, true
	}
	if t, ok := c.tables[inflection.Singular(name)]; ok {
		return t, true
	}
	return TableSchema{}, false
}

// TableNames returns the catalog's table names in declaration order.
func (c *SchemaCatalog) TableNames() []string {
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// Describe renders one table's schema as text for the model.
func (c *SchemaCatalog) Describe(name string) (string, bool) {
	t, ok := c.Lookup(name)
	if !ok {
		return "", false
	}
	return renderTable(t), true
}

// DescribeAll renders every table in the catalog.
func (c *SchemaCatalog) DescribeAll() string {
	var parts []string
	for _, name := range c.order {
		parts = append(parts, renderTable(c.tables[name]))
	}
	return strings.Join(parts, "\n\n")
}

// Summary is a one-line-per-table overview used in the system prompt.
func (c *SchemaCatalog) Summary() string {
	var b strings.Builder
	for _, name := range c.order {
		t := c.tables[name]
		cols := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			cols[i] = col.Name
		}
		fmt.Fprintf(&b, "%s (%s): %s\n", t.Name, strings.Join(cols, ", "), t.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTable(t TableSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s: %s\n", t.Name, t.Description)
	for _, col := range t.Columns {
		fmt.Fprintf(&b, "  %s (%s): %s\n", col.Name, col.Type, col.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
