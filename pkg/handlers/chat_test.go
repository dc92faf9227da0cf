package handlers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/agent"
	"github.com/quarrylabs/quarry-agent/pkg/auth"
	"github.com/quarrylabs/quarry-agent/pkg/executor"
	"github.com/quarrylabs/quarry-agent/pkg/llm"
	"github.com/quarrylabs/quarry-agent/pkg/store"
	"github.com/quarrylabs/quarry-agent/pkg/stream"
)

const chatFixtures = `
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

func newChatHandler(t *testing.T, client *llm.MockClient) *ChatHandler {
	t.Helper()

	s, err := store.NewMockStoreFromBytes([]byte(chatFixtures))
	require.NoError(t, err)

	exec := executor.New(s, nil, time.Second, zap.NewNop())
	catalog := agent.DefaultCatalog()
	runner := agent.NewToolRunner(exec, catalog, 100, zap.NewNop())
	orch := agent.New(&agent.Config{
		Client:  client,
		Runner:  runner,
		Catalog: catalog,
		MaxRows: 100,
		Logger:  zap.NewNop(),
	})
	return NewChatHandler(orch, 5*time.Second, false, zap.NewNop())
}

func chatRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	ctx := auth.WithClaims(req.Context(), &auth.Claims{TenantID: "dev"})
	return req.WithContext(ctx)
}

func decodeChunks(t *testing.T, body string) []stream.AIChunk {
	t.Helper()
	var chunks []stream.AIChunk
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		var chunk stream.AIChunk
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &chunk))
		chunks = append(chunks, chunk)
	}
	return chunks
}

func toolCallTurn(query string) []llm.Event {
	args := `{"query": "` + query + `"}`
	return []llm.Event{
		{Type: llm.EventToolCallComplete, ToolCall: &llm.ToolCall{
			ID:       "call_1",
			Type:     "function",
			Function: llm.ToolCallFunc{Name: agent.ToolExecuteSQL, Arguments: args},
		}},
		{Type: llm.EventDone, StopReason: llm.StopReasonToolCalls},
	}
}

func TestChatStreamsTextAnswer(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{{
		{Type: llm.EventTextDelta, Text: "You have "},
		{Type: llm.EventTextDelta, Text: "two projects."},
		{Type: llm.EventDone, StopReason: llm.StopReasonEndTurn},
	}}}
	h := newChatHandler(t, client)

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, `{"content": "how many projects?"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream.ContentType, rec.Header().Get("Content-Type"))

	chunks := decodeChunks(t, rec.Body.String())
	require.NotEmpty(t, chunks)

	// Content is cumulative per line; the terminal line carries all of it.
	last := chunks[len(chunks)-1]
	require.NotNil(t, last.AssistantMessage)
	assert.Equal(t, "You have two projects.", last.AssistantMessage.Content)
	assert.Equal(t, "assistant", last.AssistantMessage.Type)
	assert.Nil(t, last.Error)
}

func TestChatStreamsTableIntent(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{
		toolCallTurn("SELECT COUNT(*) FROM projects WHERE tenant_id = 'dev'"),
		{
			{Type: llm.EventTextDelta, Text: "You have 2 projects."},
			{Type: llm.EventDone, StopReason: llm.StopReasonEndTurn},
		},
	}}
	h := newChatHandler(t, client)

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, `{"content": "how many projects?"}`))

	chunks := decodeChunks(t, rec.Body.String())
	require.NotEmpty(t, chunks)

	var intents int
	for _, chunk := range chunks {
		if chunk.DetectedTableIntent != nil {
			intents++
			assert.Equal(t, "projects", chunk.DetectedTableIntent.Table)
			assert.Equal(t, float64(1), chunk.DetectedTableIntent.Confidence)
		}
	}
	assert.Equal(t, 1, intents)
}

func TestChatModelFailureYieldsGenericError(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{{
		{Type: llm.EventError, Err: llm.NewError(llm.ErrorTypeAuth, "api key rejected by upstream", false, nil)},
	}}}
	h := newChatHandler(t, client)

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, `{"content": "hello"}`))

	chunks := decodeChunks(t, rec.Body.String())
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].AssistantMessage)
	require.NotNil(t, chunks[0].Error)
	assert.NotContains(t, *chunks[0].Error, "api key")
}

func TestChatRejectsMissingTenant(t *testing.T) {
	h := newChatHandler(t, &llm.MockClient{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"content": "hi"}`))
	h.Chat(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatRejectsInvalidBody(t *testing.T) {
	h := newChatHandler(t, &llm.MockClient{})

	rec := httptest.NewRecorder()
	h.Chat(rec, chatRequest(t, `{"content": "hi", "surprise": 1}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestChatCompleteReturnsTerminalChunk(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{{
		{Type: llm.EventTextDelta, Text: "All quiet."},
		{Type: llm.EventDone, StopReason: llm.StopReasonEndTurn},
	}}}
	h := newChatHandler(t, client)

	rec := httptest.NewRecorder()
	h.ChatComplete(rec, chatRequest(t, `{"content": "status?"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	var chunk stream.AIChunk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chunk))
	require.NotNil(t, chunk.AssistantMessage)
	assert.Equal(t, "All quiet.", chunk.AssistantMessage.Content)
	assert.Nil(t, chunk.Error)
}

func TestChatCompleteModelFailure(t *testing.T) {
	client := &llm.MockClient{Turns: [][]llm.Event{{
		{Type: llm.EventError, Err: llm.NewError(llm.ErrorTypeRateLimit, "rate limit exceeded", true, nil)},
	}}}
	h := newChatHandler(t, client)

	rec := httptest.NewRecorder()
	h.ChatComplete(rec, chatRequest(t, `{"content": "status?"}`))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var chunk stream.AIChunk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chunk))
	require.NotNil(t, chunk.Error)
}
