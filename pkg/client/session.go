// Package client maintains the conversation state a UI renders from the chat
// stream. Chunks carry cumulative content, so the session rebuilds correctly
// from whichever lines arrive; every state transition is an upsert keyed by a
// stable message id.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/llm"
	"github.com/quarrylabs/quarry-agent/pkg/stream"
)

const (
	cancelledMessage  = "Request cancelled."
	connectionMessage = "Could not reach the assistant. Please try again."
)

// Message is one rendered conversation entry.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is the full render state of a conversation.
type State struct {
	Messages        []Message
	IsProcessing    bool
	DetectedTable   string
	Error           string
	LastUserMessage string
}

// Session drives one conversation against the chat endpoint. A new Send
// aborts the in-flight turn; Stop cancels it and leaves a neutral cancelled
// message; Retry replays the last user message after a failure.
type Session struct {
	endpoint string
	token    string
	http     *http.Client
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	// assistantID is the placeholder message of the current turn; Stop
	// rewrites it in place.
	assistantID string
	// seq invalidates the stream goroutine of a superseded or stopped turn.
	seq int
}

// NewSession builds a session for one chat endpoint.
func NewSession(endpoint, token string, httpClient *http.Client, logger *zap.Logger) *Session {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Session{
		endpoint: endpoint,
		token:    token,
		http:     httpClient,
		logger:   logger.Named("client"),
	}
}

// State returns a copy of the current render state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	out.Messages = append([]Message(nil), s.state.Messages...)
	return out
}

// Send starts a new turn. Any in-flight turn is aborted first; its pending
// updates are discarded rather than rendered as a cancellation. The returned
// channel closes when the turn has fully settled.
func (s *Session) Send(content string) <-chan struct{} {
	s.mu.Lock()
	s.abortLocked()

	s.seq++
	seq := s.seq

	userID := uuid.NewString()
	assistantID := uuid.NewString()
	// The assistant placeholder goes in immediately so every chunk, and Stop,
	// lands on a stable id rather than appending new entries.
	s.state.Messages = append(s.state.Messages,
		Message{ID: userID, Role: llm.RoleUser, Content: content},
		Message{ID: assistantID, Role: llm.RoleAssistant})
	s.assistantID = assistantID
	s.state.IsProcessing = true
	s.state.DetectedTable = ""
	s.state.Error = ""
	s.state.LastUserMessage = content

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.streamTurn(ctx, seq, assistantID, content)
	}()
	return done
}

// Stop cancels the in-flight turn. The partial answer is replaced by a
// neutral cancelled message; cancellation is not an error state.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.abortLocked()
	s.upsertLocked(s.assistantID, llm.RoleAssistant, cancelledMessage)
	s.state.IsProcessing = false
	s.state.Error = ""
}

// Retry replays the last user message after a failed turn. It is a no-op
// when nothing has been sent.
func (s *Session) Retry() <-chan struct{} {
	s.mu.Lock()
	last := s.state.LastUserMessage
	s.mu.Unlock()
	if last == "" {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.Send(last)
}

// Clear aborts any in-flight turn and resets the conversation.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
	s.assistantID = ""
	s.state = State{}
}

// abortLocked cancels the current turn and invalidates its goroutine.
// Callers hold s.mu.
func (s *Session) abortLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.seq++
}

// streamTurn posts the turn and folds the chunk stream into state. Every
// update is discarded once seq has moved on.
func (s *Session) streamTurn(ctx context.Context, seq int, assistantID, content string) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		s.failTurn(seq, connectionMessage)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		s.failTurn(seq, connectionMessage)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("chat request failed", zap.Error(err))
		s.failTurn(seq, connectionMessage)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("chat request rejected", zap.Int("status", resp.StatusCode))
		s.failTurn(seq, connectionMessage)
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var chunk stream.AIChunk
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			s.logger.Warn("malformed chunk skipped", zap.Error(err))
			continue
		}
		s.applyChunk(seq, assistantID, &chunk)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("chat stream interrupted", zap.Error(err))
	}

	// A clean close settles the turn; whatever cumulative content arrived
	// last stands as the answer.
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return
	}
	s.state.IsProcessing = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// applyChunk folds one chunk into state.
func (s *Session) applyChunk(seq int, assistantID string, chunk *stream.AIChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return
	}

	if chunk.DetectedTableIntent != nil {
		s.state.DetectedTable = chunk.DetectedTableIntent.Table
	}
	if chunk.AssistantMessage != nil {
		s.upsertLocked(assistantID, llm.RoleAssistant, chunk.AssistantMessage.Content)
	}
	if chunk.Error != nil {
		s.state.Error = *chunk.Error
		s.state.IsProcessing = false
	}
}

// failTurn records a transport-level failure for the current turn.
func (s *Session) failTurn(seq int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return
	}
	s.state.Error = message
	s.state.IsProcessing = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// upsertLocked replaces the message with the given id, appending it on first
// sight. Callers hold s.mu.
func (s *Session) upsertLocked(id, role, content string) {
	for i := range s.state.Messages {
		if s.state.Messages[i].ID == id {
			s.state.Messages[i].Content = content
			return
		}
	}
	s.state.Messages = append(s.state.Messages, Message{ID: id, Role: role, Content: content})
}
