// Package llm provides model clients that stream a single assistant turn as a
// sequence of tagged events. Providers differ in wire protocol; the event
// stream they emit does not.
package llm

// EventType discriminates the event union. Every event carries exactly the
// fields its type implies and nothing else.
type EventType string

const (
	EventTextDelta        EventType = "text_delta"
	EventToolCallStart    EventType = "tool_call_start"
	EventToolCallArgDelta EventType = "tool_call_arg_delta"
	EventToolCallComplete EventType = "tool_call_complete"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// Stop reasons reported by EventDone.
const (
	StopReasonEndTurn   = "stop"
	StopReasonToolCalls = "tool_calls"
)

// Event is one element of a model turn. A turn is zero or more content
// events followed by exactly one EventDone or EventError, after which the
// channel closes.
type Event struct {
	Type EventType

	// Text is set for EventTextDelta.
	Text string
	// ToolCall is set for EventToolCallStart (ID, Name) and
	// EventToolCallComplete (ID, Name, full Arguments).
	ToolCall *ToolCall
	// ArgDelta is a fragment of tool arguments for EventToolCallArgDelta.
	ArgDelta string
	// StopReason is set for EventDone.
	StopReason string
	// Err is set for EventError.
	Err error
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc names the function and carries its JSON-encoded arguments.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is a chat message in the conversation sent to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Request is a single model turn: the conversation so far plus the tools the
// model may call.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Temperature  float64
	MaxTokens    int
}
