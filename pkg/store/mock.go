package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quarrylabs/quarry-agent/pkg/sqlguard"
)

// MockStore serves canned results from YAML fixtures. It does not parse SQL;
// it resolves the first referenced table and returns that table's fixture
// rows, which is enough for development and agent-loop tests without a
// database.
type MockStore struct {
	tables  map[string]fixtureTable
	queries []fixtureQuery
}

type fixtureFile struct {
	Tables  map[string]fixtureTable `yaml:"tables"`
	Queries []fixtureQuery          `yaml:"queries"`
}

type fixtureTable struct {
	Columns []string `yaml:"columns"`
	Rows    [][]any  `yaml:"rows"`
}

// fixtureQuery pins a result to statements containing a marker substring.
// These take precedence over table resolution.
type fixtureQuery struct {
	Match   string   `yaml:"match"`
	Columns []string `yaml:"columns"`
	Rows    [][]any  `yaml:"rows"`
}

// NewMockStore loads fixtures from a YAML file.
func NewMockStore(path string) (*MockStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return NewMockStoreFromBytes(data)
}

// NewMockStoreFromBytes loads fixtures from YAML content.
func NewMockStoreFromBytes(data []byte) (*MockStore, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &MockStore{tables: file.Tables, queries: file.Queries}, nil
}

// Query resolves a canned result. Matching order: pinned query fixtures, then
// system-information statements, then the first table the statement
// references.
func (s *MockStore) Query(ctx context.Context, sql string) (*QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(sql)
	for _, q := range s.queries {
		if q.Match != "" && strings.Contains(lower, strings.ToLower(q.Match)) {
			return &QueryResult{Columns: q.Columns, Rows: q.Rows}, nil
		}
	}

	if strings.Contains(lower, "now()") || strings.Contains(lower, "current_timestamp") {
		return &QueryResult{
			Columns: []string{"now"},
			Rows:    [][]any{{time.Now().UTC().Format(time.RFC3339)}},
		}, nil
	}

	tables := sqlguard.ExtractTables(sql)
	if len(tables) == 0 {
		return &QueryResult{Columns: []string{"result"}, Rows: [][]any{}}, nil
	}

	fixture, ok := s.tables[tables[0]]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", tables[0])
	}
	return &QueryResult{Columns: fixture.Columns, Rows: fixture.Rows}, nil
}

// Close is a no-op for the mock.
func (s *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
