package sqlguard

import (
	"strings"

	"github.com/corazawaf/libinjection-go"
)

// checkLiteralsForInjection runs each string literal through libinjection's
// SQLi fingerprinting. The keyword scan catches injection in the statement
// body; this catches payloads smuggled inside quoted values.
func checkLiteralsForInjection(sql string) error {
	for _, literal := range extractStringLiterals(sql) {
		if literal == "" {
			continue
		}
		if injected, fingerprint := libinjection.IsSQLi(literal); injected {
			return &Violation{
				Code:        CodeDangerousOperation,
				Message:     "string literal matches SQL injection fingerprint " + fingerprint,
				Fingerprint: fingerprint,
			}
		}
	}
	return nil
}

// extractStringLiterals returns the contents of single-quoted literals,
// honoring the doubled-quote escape.
func extractStringLiterals(sql string) []string {
	var literals []string
	var current strings.Builder
	inString := false

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		char := runes[i]
		if !inString {
			if char == '\'' {
				inString = true
			}
			continue
		}
		if char == '\'' {
			if i+1 < len(runes) && runes[i+1] == '\'' {
				current.WriteRune('\'')
				i++
				continue
			}
			literals = append(literals, current.String())
			current.Reset()
			inString = false
			continue
		}
		current.WriteRune(char)
	}

	return literals
}
