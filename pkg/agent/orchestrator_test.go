package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/executor"
	"github.com/quarrylabs/quarry-agent/pkg/llm"
	"github.com/quarrylabs/quarry-agent/pkg/store"
)

const orchestratorFixtures = `
tables:
  projects:
    columns: [id, name, status]
    rows:
      - [1, "Riverside Tower", "active"]
      - [2, "Harbor Depot", "completed"]
queries:
  - match: "count(*)"
    columns: [count]
    rows:
      - [2]
`

func newTestOrchestrator(t *testing.T, client *llm.MockClient, maxToolCalls int) *Orchestrator {
	t.Helper()

	s, err := store.NewMockStoreFromBytes([]byte(orchestratorFixtures))
	require.NoError(t, err)

	exec := executor.New(s, nil, time.Second, zap.NewNop())
	catalog := DefaultCatalog()
	runner := NewToolRunner(exec, catalog, 100, zap.NewNop())

	return New(&Config{
		Client:       client,
		Runner:       runner,
		Catalog:      catalog,
		MaxToolCalls: maxToolCalls,
		MaxRows:      100,
		Logger:       zap.NewNop(),
	})
}

func runTurn(t *testing.T, o *Orchestrator, req *TurnRequest) ([]Event, error) {
	t.Helper()
	ch := make(chan Event, 128)
	err := o.Run(context.Background(), req, ch)
	close(ch)

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events, err
}

func textOf(events []Event) string {
	var out string
	for _, ev := range events {
		if ev.Type == EventText {
			out += ev.Content
		}
	}
	return out
}

func toolCallTurn(query string) []llm.Event {
	args := `{"query": "` + query + `"}`
	call := &llm.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: llm.ToolCallFunc{Name: ToolExecuteSQL, Arguments: args},
	}
	return []llm.Event{
		{Type: llm.EventToolCallStart, ToolCall: &llm.ToolCall{ID: "call_1", Function: llm.ToolCallFunc{Name: ToolExecuteSQL}}},
		{Type: llm.EventToolCallArgDelta, ArgDelta: args},
		{Type: llm.EventToolCallComplete, ToolCall: call},
		{Type: llm.EventDone, StopReason: llm.StopReasonToolCalls},
	}
}

func textTurn(text string) []llm.Event {
	return []llm.Event{
		{Type: llm.EventTextDelta, Text: text},
		{Type: llm.EventDone, StopReason: llm.StopReasonEndTurn},
	}
}

func TestOrchestrator_TextOnlyAnswer(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{textTurn("Construction is on schedule.")}}
	o := newTestOrchestrator(t, client, 3)

	events, err := runTurn(t, o, &TurnRequest{TenantID: "dev", Content: "How are things going?"})
	require.NoError(t, err)

	assert.Equal(t, "Construction is on schedule.", textOf(events))
	assert.Equal(t, EventDone, events[len(events)-1].Type)
	assert.Equal(t, 1, client.CallCount())
}

func TestOrchestrator_ToolRoundTrip(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{
		toolCallTurn("SELECT COUNT(*) FROM projects WHERE tenant_id = 'dev'"),
		textTurn("You have 2 projects."),
	}}
	o := newTestOrchestrator(t, client, 3)

	events, err := runTurn(t, o, &TurnRequest{TenantID: "dev", Content: "How many projects do we have?"})
	require.NoError(t, err)

	var sawToolCall, sawToolResult bool
	for _, ev := range events {
		switch ev.Type {
		case EventToolCall:
			sawToolCall = true
			assert.Equal(t, ToolExecuteSQL, ev.ToolCall.Function.Name)
		case EventToolResult:
			sawToolResult = true
			assert.Contains(t, ev.Content, "Result: 2")
			require.NotNil(t, ev.Result)
			assert.Equal(t, 1, ev.Result.RowCount)
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawToolResult)
	assert.Equal(t, "You have 2 projects.", textOf(events))

	// The second model request must carry the tool result back.
	requests := client.Requests()
	require.Len(t, requests, 2)
	last := requests[1].Messages[len(requests[1].Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Contains(t, last.Content, "Result: 2")
}

func TestOrchestrator_GuardViolationFedBack(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{
		toolCallTurn("DELETE FROM projects WHERE tenant_id = 'dev'"),
		textTurn("I can only read data, not modify it."),
	}}
	o := newTestOrchestrator(t, client, 3)

	events, err := runTurn(t, o, &TurnRequest{TenantID: "dev", Content: "Delete everything"})
	require.NoError(t, err)

	var toolResult string
	for _, ev := range events {
		if ev.Type == EventToolResult {
			toolResult = ev.Content
		}
		assert.NotEqual(t, EventError, ev.Type, "guard violations must not abort the turn")
	}
	assert.Contains(t, toolResult, "DANGEROUS_OPERATION")
	assert.Equal(t, EventDone, events[len(events)-1].Type)
}

func TestOrchestrator_ToolBudgetExhaustion(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{
		toolCallTurn("SELECT COUNT(*) FROM projects WHERE tenant_id = 'dev'"),
		toolCallTurn("SELECT id, name, status FROM projects WHERE tenant_id = 'dev'"),
	}}
	o := newTestOrchestrator(t, client, 1)

	events, err := runTurn(t, o, &TurnRequest{TenantID: "dev", Content: "Dig deep"})
	require.NoError(t, err)
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	// Turn two runs without tools; its tool call is ignored and the loop ends.
	requests := client.Requests()
	require.Len(t, requests, 2)
	assert.NotEmpty(t, requests[0].Tools)
	assert.Empty(t, requests[1].Tools)
}

func TestOrchestrator_ModelErrorTerminates(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{
		{{Type: llm.EventError, Err: llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, nil)}},
	}}
	o := newTestOrchestrator(t, client, 3)

	events, err := runTurn(t, o, &TurnRequest{TenantID: "dev", Content: "hello"})
	require.Error(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, EventError, events[len(events)-1].Type)
}

// slowStore blocks until the query context expires.
type slowStore struct{}

func (slowStore) Query(ctx context.Context, sql string) (*store.QueryResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowStore) Close() error { return nil }

// failingStore fails every query with a fixed error.
type failingStore struct{ err error }

func (s failingStore) Query(ctx context.Context, sql string) (*store.QueryResult, error) {
	return nil, s.err
}

func (failingStore) Close() error { return nil }

func TestOrchestrator_QueryTimeoutFedBack(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{
		toolCallTurn("SELECT COUNT(*) FROM projects WHERE tenant_id = 'dev'"),
		textTurn("The query took too long to answer."),
	}}

	exec := executor.New(slowStore{}, nil, 20*time.Millisecond, zap.NewNop())
	catalog := DefaultCatalog()
	runner := NewToolRunner(exec, catalog, 100, zap.NewNop())
	o := New(&Config{
		Client:       client,
		Runner:       runner,
		Catalog:      catalog,
		MaxToolCalls: 3,
		MaxRows:      100,
		Logger:       zap.NewNop(),
	})

	events, err := runTurn(t, o, &TurnRequest{TenantID: "dev", Content: "heavy question"})
	require.NoError(t, err)

	var toolResult string
	for _, ev := range events {
		if ev.Type == EventToolResult {
			toolResult = ev.Content
		}
		assert.NotEqual(t, EventError, ev.Type, "timeouts surface as tool output, not stream errors")
	}
	assert.Contains(t, toolResult, "query timed out")
	assert.NotContains(t, toolResult, "context deadline")
	assert.Equal(t, EventDone, events[len(events)-1].Type)
	assert.Equal(t, "The query took too long to answer.", textOf(events))
}

func TestToolRunner_ExecutionFailureStaysGeneric(t *testing.T) {
	storeErr := errors.New(`connect to "db-internal:5432" failed: password authentication failed`)
	exec := executor.New(failingStore{err: storeErr}, nil, time.Second, zap.NewNop())
	runner := NewToolRunner(exec, DefaultCatalog(), 100, zap.NewNop())

	outcome, err := runner.Execute(context.Background(), "dev", ToolExecuteSQL,
		`{"query": "SELECT id FROM projects WHERE tenant_id = 'dev'"}`)
	require.NoError(t, err, "backend failures are recoverable within the turn")
	assert.Contains(t, outcome.Payload, "query failed")
	assert.NotContains(t, outcome.Payload, "db-internal")
	assert.NotContains(t, outcome.Payload, "password")
}

func TestOrchestrator_AbortEmitsNoErrorEvent(t *testing.T) {
	client := &llm.MockClient{
		StreamTurnFunc: func(ctx context.Context, req *llm.Request) (<-chan llm.Event, error) {
			return make(chan llm.Event), nil
		},
	}
	o := newTestOrchestrator(t, client, 3)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- o.Run(ctx, &TurnRequest{TenantID: "dev", Content: "hello"}, events)
	}()
	cancel()

	err := <-errc
	require.ErrorIs(t, err, context.Canceled)

	// The abort closes the turn silently; nothing may sit in the buffer that
	// would render as an error chunk downstream.
	close(events)
	for ev := range events {
		assert.NotEqual(t, EventError, ev.Type, "aborts must not produce error events")
	}
}

func TestOrchestrator_PreferredTableInPrompt(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{textTurn("ok")}}
	o := newTestOrchestrator(t, client, 3)

	_, err := runTurn(t, o, &TurnRequest{
		TenantID:       "dev",
		Content:        "What is here?",
		PreferredTable: "company",
	})
	require.NoError(t, err)

	requests := client.Requests()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].SystemPrompt, "companies")
	assert.Contains(t, requests[0].SystemPrompt, "tenant_id = 'dev'")
}
