package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/quarrylabs/quarry-agent/pkg/llm"
)

const (
	maxContentLength = 2000
	maxHistory       = 10
)

// ChatRequest is the validated inbound body for a chat turn.
type ChatRequest struct {
	Content        string           `json:"content"`
	PreferredTable string           `json:"preferredTable,omitempty"`
	History        []HistoryMessage `json:"history,omitempty"`
}

// HistoryMessage is one prior message replayed by the client.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidationError rejects a request before any orchestration starts.
type ValidationError struct {
	Message string
	// Impersonation marks content that carried a smuggled system-role
	// marker, so the rejection can be audited.
	Impersonation bool
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

var (
	// impersonationPatterns catch attempts to smuggle a system role through
	// user content.
	impersonationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*system\s*:`),
		regexp.MustCompile(`(?i)<\|\s*(system|im_start)`),
		regexp.MustCompile(`(?i)\[\s*system\s*\]`),
	}

	// modePrefixPattern strips a leading [mode:<table>] marker the UI
	// prepends when the user is viewing a specific table.
	modePrefixPattern = regexp.MustCompile(`^\[mode:([a-zA-Z_]+)\]\s*`)

	allowedTables = map[string]bool{
		"projects":  true,
		"companies": true,
		"addresses": true,
	}

	allowedHistoryRoles = map[string]bool{
		llm.RoleUser:      true,
		llm.RoleAssistant: true,
	}
)

// ParseChatRequest decodes and validates a request body. Unknown fields are
// rejected, content is bounded and screened for role impersonation, and a
// [mode:<table>] prefix is folded into PreferredTable. Returned errors are
// always *ValidationError.
func ParseChatRequest(body io.Reader) (*ChatRequest, error) {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	var req ChatRequest
	if err := decoder.Decode(&req); err != nil {
		return nil, invalid("invalid request body: %v", err)
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return nil, invalid("content is required")
	}
	if utf8.RuneCountInString(req.Content) > maxContentLength {
		return nil, invalid("content exceeds %d characters", maxContentLength)
	}

	for _, pattern := range impersonationPatterns {
		if pattern.MatchString(req.Content) {
			return nil, &ValidationError{
				Message:       "content contains a disallowed role marker",
				Impersonation: true,
			}
		}
	}

	if match := modePrefixPattern.FindStringSubmatch(req.Content); match != nil {
		table := strings.ToLower(match[1])
		if req.PreferredTable == "" {
			req.PreferredTable = table
		}
		req.Content = strings.TrimSpace(modePrefixPattern.ReplaceAllString(req.Content, ""))
		if req.Content == "" {
			return nil, invalid("content is required")
		}
	}

	if req.PreferredTable != "" {
		req.PreferredTable = strings.ToLower(req.PreferredTable)
		if !allowedTables[req.PreferredTable] {
			return nil, invalid("unknown preferredTable %q", req.PreferredTable)
		}
	}

	for _, msg := range req.History {
		if !allowedHistoryRoles[msg.Role] {
			return nil, invalid("history role must be user or assistant")
		}
	}
	if len(req.History) > maxHistory {
		req.History = req.History[len(req.History)-maxHistory:]
	}

	return &req, nil
}

// HistoryMessages converts the validated history into model messages.
func (r *ChatRequest) HistoryMessages() []llm.Message {
	if len(r.History) == 0 {
		return nil
	}
	messages := make([]llm.Message, len(r.History))
	for i, msg := range r.History {
		messages[i] = llm.Message{Role: msg.Role, Content: msg.Content}
	}
	return messages
}
