// Package sqlguard validates model-generated SQL before it can reach the
// analytical store. The guard admits exactly one read-only, row-capped,
// tenant-scoped statement; everything else fails with a machine-readable
// violation code. It is a pure function of its inputs and performs no I/O.
package sqlguard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ViolationCode identifies why a statement was rejected.
type ViolationCode string

const (
	CodeEmptyQuery          ViolationCode = "EMPTY_QUERY"
	CodeDangerousOperation  ViolationCode = "DANGEROUS_OPERATION"
	CodeInvalidOperation    ViolationCode = "INVALID_OPERATION"
	CodeMultipleStatements  ViolationCode = "MULTIPLE_STATEMENTS"
	CodeMissingTenantFilter ViolationCode = "MISSING_TENANT_FILTER"
	CodeInvalidTenantID     ViolationCode = "INVALID_TENANT_ID"
)

// Violation is returned when a statement fails validation. Message is safe to
// feed back to the model as tool output.
type Violation struct {
	Code    ViolationCode
	Message string
	// Fingerprint is the libinjection fingerprint when the rejection came
	// from string-literal analysis, empty otherwise.
	Fingerprint string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

func newViolation(code ViolationCode, message string) *Violation {
	return &Violation{Code: code, Message: message}
}

// Options configures a single guard invocation.
type Options struct {
	// MaxRows caps the statement's row count; a LIMIT is appended when absent
	// and lowered when present but larger.
	MaxRows int
	// TenantID, when non-empty, requires a literal tenant_id = <value>
	// equality predicate on any statement that references tables.
	TenantID string
}

// GuardedSQL is a statement that passed validation. It is consumed exactly
// once by the query executor.
type GuardedSQL struct {
	// SQL is the normalized statement: comments stripped, trailing semicolon
	// removed, row cap enforced. Semantics are otherwise untouched.
	SQL string
	// TablesUsed lists referenced table names in first-appearance order.
	TablesUsed []string
}

var (
	lineCommentPattern  = regexp.MustCompile(`--[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)

	dangerousKeywordPattern = regexp.MustCompile(`(?i)\b(DROP|INSERT|UPDATE|DELETE|TRUNCATE|ALTER|CREATE|GRANT|REVOKE|EXEC)\b`)
	systemCatalogPattern    = regexp.MustCompile(`(?i)\b(information_schema\b|system\s*\.)`)
	alwaysTruePattern       = regexp.MustCompile(`(?i)\b1\s*=\s*1\b`)
	unionPattern            = regexp.MustCompile(`(?i)\bUNION\b`)

	// modifyingCTEPattern matches CTEs that contain data-modifying operations.
	// Example: WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted
	modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE)\b`)

	tenantFilterPattern = regexp.MustCompile(`(?i)\btenant_id\s*=\s*'?([A-Za-z0-9_-]+)'?`)
	limitPattern        = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)

	// System-information statements reference no tables and bypass the tenant
	// check. They still pass the dangerous-pattern scan.
	systemInfoPattern = regexp.MustCompile(`(?i)^\s*(SELECT\s+(NOW|VERSION|CURRENT_DATE|CURRENT_TIME|CURRENT_TIMESTAMP)\s*(\(\s*\))?|SHOW\s+\w+)`)
)

// Guard validates a candidate SQL string and returns its normalized,
// row-capped form. On failure the returned error is always a *Violation.
func Guard(sql string, opts Options) (*GuardedSQL, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return nil, newViolation(CodeEmptyQuery, "query is empty")
	}

	// Normalize before scanning: a trailing semicolon is cosmetic, any other
	// semicolon outside string literals means multiple statements.
	normalized := stripTrailingSemicolon(trimmed)
	if hasSemicolonOutsideStrings(normalized) {
		return nil, newViolation(CodeMultipleStatements, "only a single SQL statement is allowed")
	}

	// Comments can hide keywords from naive scans, so strip them first and
	// validate what remains.
	normalized = strings.TrimSpace(stripComments(normalized))
	if normalized == "" {
		return nil, newViolation(CodeEmptyQuery, "query contains only comments")
	}

	if err := scanDangerousPatterns(normalized); err != nil {
		return nil, err
	}

	upper := strings.ToUpper(normalized)
	isSystemInfo := systemInfoPattern.MatchString(normalized)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") && !isSystemInfo {
		return nil, newViolation(CodeInvalidOperation, "only SELECT and WITH statements are allowed")
	}

	if strings.HasPrefix(upper, "WITH") && modifyingCTEPattern.MatchString(normalized) {
		return nil, newViolation(CodeDangerousOperation, "data-modifying CTEs are not allowed")
	}

	if err := checkLiteralsForInjection(normalized); err != nil {
		return nil, err
	}

	tables := ExtractTables(normalized)

	if opts.TenantID != "" && len(tables) > 0 && !isSystemInfo {
		values := tenantPredicateValues(normalized)
		if len(values) == 0 {
			return nil, newViolation(CodeMissingTenantFilter,
				fmt.Sprintf("queries against tables must filter by tenant_id = '%s'", opts.TenantID))
		}
		// Every predicate must name the current tenant: a single mismatched
		// one, OR-ed in alongside a valid filter, would widen the result set
		// to another tenant's rows.
		for _, value := range values {
			if value != opts.TenantID {
				return nil, newViolation(CodeInvalidTenantID, "tenant_id filter does not match the current tenant")
			}
		}
	}

	normalized = enforceRowCap(normalized, opts.MaxRows, isSystemInfo)

	return &GuardedSQL{
		SQL:        normalized,
		TablesUsed: tables,
	}, nil
}

// scanDangerousPatterns rejects DDL/DML keywords, system-catalog access,
// always-true predicates, and UNION injection markers.
func scanDangerousPatterns(sql string) error {
	if m := dangerousKeywordPattern.FindString(sql); m != "" {
		return newViolation(CodeDangerousOperation,
			fmt.Sprintf("statement contains forbidden keyword %s", strings.ToUpper(m)))
	}
	if systemCatalogPattern.MatchString(sql) {
		return newViolation(CodeDangerousOperation, "system catalog access is not allowed")
	}
	if alwaysTruePattern.MatchString(sql) {
		return newViolation(CodeDangerousOperation, "always-true predicates are not allowed")
	}
	if unionPattern.MatchString(sql) {
		return newViolation(CodeDangerousOperation, "UNION is not allowed")
	}
	return nil
}

// enforceRowCap appends a LIMIT when absent and lowers one that exceeds the
// cap. System-information statements are left untouched.
func enforceRowCap(sql string, maxRows int, isSystemInfo bool) string {
	if maxRows <= 0 || isSystemInfo {
		return sql
	}

	if match := limitPattern.FindStringSubmatch(sql); match != nil {
		existing, err := strconv.Atoi(match[1])
		if err == nil && existing <= maxRows {
			return sql
		}
		return limitPattern.ReplaceAllString(sql, fmt.Sprintf("LIMIT %d", maxRows))
	}

	return sql + fmt.Sprintf(" LIMIT %d", maxRows)
}

// stripComments removes SQL line and block comments.
func stripComments(sql string) string {
	sql = blockCommentPattern.ReplaceAllString(sql, " ")
	sql = lineCommentPattern.ReplaceAllString(sql, " ")
	return sql
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace around it.
func stripTrailingSemicolon(sql string) string {
	sql = strings.TrimRight(sql, " \t\n\r")
	if strings.HasSuffix(sql, ";") {
		sql = strings.TrimSuffix(sql, ";")
		sql = strings.TrimRight(sql, " \t\n\r")
	}
	return sql
}

// tenantPredicateValues returns the value of every tenant_id equality
// predicate in the statement. Matches that start inside a string literal are
// text, not predicates, and are skipped.
func tenantPredicateValues(sql string) []string {
	spans := stringLiteralSpans(sql)
	inLiteral := func(pos int) bool {
		for _, span := range spans {
			if pos >= span[0] && pos < span[1] {
				return true
			}
		}
		return false
	}

	var values []string
	for _, m := range tenantFilterPattern.FindAllStringSubmatchIndex(sql, -1) {
		if inLiteral(m[0]) {
			continue
		}
		values = append(values, sql[m[2]:m[3]])
	}
	return values
}

// stringLiteralSpans returns the byte ranges of single-quoted literals,
// quotes included. A doubled-quote escape yields two adjacent spans, which is
// equivalent for membership checks.
func stringLiteralSpans(sql string) [][2]int {
	var spans [][2]int
	start := -1
	prev := rune(0)

	for i, char := range sql {
		if start < 0 {
			if char == '\'' {
				start = i
			}
		} else if char == '\'' && prev != '\\' {
			spans = append(spans, [2]int{start, i + 1})
			start = -1
		}
		prev = char
	}
	if start >= 0 {
		spans = append(spans, [2]int{start, len(sql)})
	}
	return spans
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals.
func hasSemicolonOutsideStrings(sql string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sql {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// Handle both backslash escape (\') and SQL standard escape ('').
			// For a doubled quote this exits and immediately re-enters on the
			// next quote, which correctly keeps us in the string.
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}
