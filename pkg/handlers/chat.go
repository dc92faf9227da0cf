// Package handlers exposes the HTTP surface: the streaming chat endpoint, a
// non-streaming variant, and health. Validation happens here; everything
// after validation is the orchestrator's problem.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/agent"
	"github.com/quarrylabs/quarry-agent/pkg/audit"
	"github.com/quarrylabs/quarry-agent/pkg/auth"
	"github.com/quarrylabs/quarry-agent/pkg/stream"
)

// DefaultRequestTimeout bounds a whole turn regardless of how many tool
// iterations it takes.
const DefaultRequestTimeout = 60 * time.Second

// eventBuffer decouples the orchestrator from the wire so a slow client does
// not stall tool execution.
const eventBuffer = 64

// ChatHandler serves chat turns.
type ChatHandler struct {
	orchestrator *agent.Orchestrator
	timeout      time.Duration
	deepResearch bool
	auditor      *audit.SecurityAuditor
	logger       *zap.Logger
}

// NewChatHandler builds the handler. A non-positive timeout falls back to
// DefaultRequestTimeout.
func NewChatHandler(orchestrator *agent.Orchestrator, timeout time.Duration, deepResearch bool, logger *zap.Logger) *ChatHandler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &ChatHandler{
		orchestrator: orchestrator,
		timeout:      timeout,
		deepResearch: deepResearch,
		auditor:      audit.NewSecurityAuditor(logger),
		logger:       logger.Named("chat"),
	}
}

// Chat handles POST /api/chat with a streamed NDJSON response.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	turn, logger, ok := h.prepare(w, r)
	if !ok {
		return
	}

	// Composed deadline: the client abort (r.Context) and the total turn
	// timeout share one context threaded through every suspension point.
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	events := make(chan agent.Event, eventBuffer)
	go func() {
		defer close(events)
		if err := h.orchestrator.Run(ctx, turn, events); err != nil && ctx.Err() == nil {
			logger.Error("turn failed", zap.Error(err))
		}
	}()

	encoder := stream.NewEncoder(w, h.logger)
	if err := encoder.Stream(ctx, events); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Info("turn cancelled", zap.Error(err))
			return
		}
		logger.Warn("stream write failed", zap.Error(err))
	}
}

// ChatComplete handles POST /api/chat/complete: the same turn without
// streaming, answering with the single terminal chunk.
func (h *ChatHandler) ChatComplete(w http.ResponseWriter, r *http.Request) {
	turn, logger, ok := h.prepare(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	events := make(chan agent.Event, eventBuffer)
	go func() {
		defer close(events)
		if err := h.orchestrator.Run(ctx, turn, events); err != nil && ctx.Err() == nil {
			logger.Error("turn failed", zap.Error(err))
		}
	}()

	chunk := stream.Collect(ctx, events)
	if chunk.Error != nil {
		_ = WriteJSON(w, http.StatusBadGateway, chunk)
		return
	}
	_ = WriteJSON(w, http.StatusOK, chunk)
}

// prepare authenticates, validates the body, and builds the turn request.
// On failure it writes the error response and returns ok=false.
func (h *ChatHandler) prepare(w http.ResponseWriter, r *http.Request) (*agent.TurnRequest, *zap.Logger, bool) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "tenant context required")
		return nil, nil, false
	}

	req, err := ParseChatRequest(r.Body)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) && verr.Impersonation {
			h.auditor.LogImpersonationAttempt(tenantID)
		}
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return nil, nil, false
	}

	correlationID := uuid.NewString()
	logger := h.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("tenant_id", tenantID))
	logger.Info("chat turn started",
		zap.Int("content_len", len(req.Content)),
		zap.String("preferred_table", req.PreferredTable),
		zap.Int("history_len", len(req.History)))

	return &agent.TurnRequest{
		TenantID:       tenantID,
		Content:        req.Content,
		History:        req.HistoryMessages(),
		PreferredTable: req.PreferredTable,
		DeepResearch:   h.deepResearch,
	}, logger, true
}
