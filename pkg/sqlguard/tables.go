package sqlguard

import (
	"strings"
)

// ExtractTables returns the table names a statement references, in
// first-appearance order with duplicates removed. It tokenizes the statement
// and collects the identifier following FROM and JOIN keywords. UPDATE and
// INSERT INTO are handled too even though the guard rejects them, so callers
// auditing rejected statements still see the target table.
func ExtractTables(sql string) []string {
	tokens := tokenize(sql)

	var tables []string
	seen := make(map[string]bool)

	add := func(name string) {
		name = normalizeTableName(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		tables = append(tables, name)
	}

	for i := 0; i < len(tokens); i++ {
		upper := strings.ToUpper(tokens[i])
		switch upper {
		case "FROM", "JOIN", "UPDATE":
			if next, ok := nextIdentifier(tokens, i+1); ok {
				add(next)
			}
		case "INTO":
			if i > 0 && strings.ToUpper(tokens[i-1]) == "INSERT" {
				if next, ok := nextIdentifier(tokens, i+1); ok {
					add(next)
				}
			}
		}
	}

	return tables
}

// nextIdentifier returns the first token at or after position i that can name
// a table. A subquery in place of a table name yields nothing.
func nextIdentifier(tokens []string, i int) (string, bool) {
	if i >= len(tokens) {
		return "", false
	}
	tok := tokens[i]
	if tok == "(" || strings.HasPrefix(tok, "(") {
		return "", false
	}
	if isKeyword(tok) {
		return "", false
	}
	return tok, true
}

// normalizeTableName lowercases, unquotes, and strips a schema qualifier.
func normalizeTableName(name string) string {
	name = strings.TrimRight(name, ",)")
	name = strings.Trim(name, `"`+"`")
	if name == "" {
		return ""
	}
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
		name = strings.Trim(name, `"`+"`")
	}
	return strings.ToLower(name)
}

func isKeyword(tok string) bool {
	switch strings.ToUpper(tok) {
	case "SELECT", "FROM", "WHERE", "JOIN", "INNER", "OUTER", "LEFT", "RIGHT",
		"FULL", "CROSS", "ON", "AS", "GROUP", "ORDER", "BY", "LIMIT", "OFFSET",
		"HAVING", "UNION", "WITH", "LATERAL":
		return true
	}
	return false
}

// tokenize splits SQL into whitespace-separated tokens, keeping string
// literals intact and splitting parentheses into their own tokens.
func tokenize(sql string) []string {
	var tokens []string
	var current strings.Builder
	inString := false

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, char := range sql {
		switch {
		case inString:
			current.WriteRune(char)
			if char == '\'' {
				inString = false
			}
		case char == '\'':
			current.WriteRune(char)
			inString = true
		case char == ' ' || char == '\t' || char == '\n' || char == '\r':
			flush()
		case char == '(' || char == ')' || char == ',':
			flush()
			tokens = append(tokens, string(char))
		default:
			current.WriteRune(char)
		}
	}
	flush()

	return tokens
}
