// Package agent runs the bounded tool loop: it streams model turns, executes
// requested tools through the guard and executor, feeds results back, and
// stops when the model answers in text or the tool budget runs out.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/executor"
	"github.com/quarrylabs/quarry-agent/pkg/llm"
	"github.com/quarrylabs/quarry-agent/pkg/retry"
)

// DefaultMaxToolCalls bounds tool executions per conversation turn.
const DefaultMaxToolCalls = 3

// EventType discriminates orchestrator events.
type EventType string

const (
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one orchestrator output. Consumers receive text deltas as they
// stream, tool activity as it happens, and exactly one done or error event.
type Event struct {
	Type     EventType
	Content  string
	ToolCall *llm.ToolCall
	// Result is set on tool_result events that ran a query.
	Result *executor.Result
	Err    error
}

// TurnRequest is one user turn to answer.
type TurnRequest struct {
	TenantID       string
	Content        string
	History        []llm.Message
	PreferredTable string
	DeepResearch   bool
}

// Orchestrator drives the model/tool loop for a single turn at a time.
type Orchestrator struct {
	client       llm.Client
	runner       *ToolRunner
	catalog      *SchemaCatalog
	maxToolCalls int
	maxRows      int
	retryCfg     *retry.Config
	logger       *zap.Logger
}

// Config holds orchestrator dependencies.
type Config struct {
	Client       llm.Client
	Runner       *ToolRunner
	Catalog      *SchemaCatalog
	MaxToolCalls int
	MaxRows      int
	Retry        *retry.Config
	Logger       *zap.Logger
}

// New builds an orchestrator.
func New(cfg *Config) *Orchestrator {
	maxToolCalls := cfg.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = DefaultMaxToolCalls
	}
	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &Orchestrator{
		client:       cfg.Client,
		runner:       cfg.Runner,
		catalog:      cfg.Catalog,
		maxToolCalls: maxToolCalls,
		maxRows:      cfg.MaxRows,
		retryCfg:     retryCfg,
		logger:       cfg.Logger.Named("agent"),
	}
}

// emit delivers an event unless ctx has fired. Once the consumer is gone the
// turn must not block on the channel.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run answers one turn, emitting events to the channel. The channel is not
// closed; the caller owns it. Run returns after emitting a terminal event,
// or with ctx's error when the turn is aborted mid-flight.
func (o *Orchestrator) Run(ctx context.Context, req *TurnRequest, events chan<- Event) error {
	systemPrompt := BuildSystemPrompt(o.catalog, req.TenantID, o.maxRows, req.PreferredTable, req.DeepResearch)

	messages := make([]llm.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Content})

	used := 0
	for {
		// After the budget is spent the model gets one final turn without
		// tools so it can still answer from what it has seen.
		finalTurn := used >= o.maxToolCalls
		var tools []llm.ToolDefinition
		if !finalTurn {
			tools = ToolDefinitions()
		}

		turn, err := o.streamOneTurn(ctx, &llm.Request{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        tools,
		}, events)
		if err != nil {
			// An abort must close the stream silently; only genuine upstream
			// failures surface as an error event. The emit select alone is not
			// enough since the buffered channel can still accept the send.
			if ctx.Err() == nil {
				emit(ctx, events, Event{Type: EventError, Err: err})
			}
			return err
		}

		if len(turn.toolCalls) == 0 || finalTurn {
			emit(ctx, events, Event{Type: EventDone})
			return nil
		}

		assistantMsg := llm.Message{
			Role:      llm.RoleAssistant,
			Content:   turn.content,
			ToolCalls: turn.toolCalls,
		}
		messages = append(messages, assistantMsg)

		for _, tc := range turn.toolCalls {
			if !emit(ctx, events, Event{Type: EventToolCall, ToolCall: &tc}) {
				return ctx.Err()
			}

			var payload string
			var result *executor.Result
			if used >= o.maxToolCalls {
				payload = `{"error": "tool call budget exhausted; answer with the information you already have"}`
			} else {
				outcome, execErr := o.runner.Execute(ctx, req.TenantID, tc.Function.Name, tc.Function.Arguments)
				if execErr != nil {
					if ctx.Err() == nil {
						emit(ctx, events, Event{Type: EventError, Err: execErr})
					}
					return execErr
				}
				payload = outcome.Payload
				result = outcome.Result
				used++
			}

			if !emit(ctx, events, Event{Type: EventToolResult, Content: payload, Result: result}) {
				return ctx.Err()
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    payload,
				ToolCallID: tc.ID,
			})
		}
	}
}

// turnResult is one model turn: streamed text plus any tool calls.
type turnResult struct {
	content   string
	toolCalls []llm.ToolCall
}

// streamOneTurn streams a single model turn, forwarding text deltas as
// events. Establishing the stream is retried for transient failures; once
// events are flowing a failure terminates the turn.
func (o *Orchestrator) streamOneTurn(ctx context.Context, req *llm.Request, events chan<- Event) (*turnResult, error) {
	var stream <-chan llm.Event
	err := retry.DoIfRetryable(ctx, o.retryCfg, func() error {
		s, err := o.client.StreamTurn(ctx, req)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("model turn failed: %w", err)
	}

	var content strings.Builder
	var toolCalls []llm.ToolCall

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-stream:
			if !ok {
				// Defensive: a conforming client closes only after a
				// terminal event.
				return &turnResult{content: content.String(), toolCalls: toolCalls}, nil
			}

			switch ev.Type {
			case llm.EventTextDelta:
				content.WriteString(ev.Text)
				if !emit(ctx, events, Event{Type: EventText, Content: ev.Text}) {
					return nil, ctx.Err()
				}
			case llm.EventToolCallComplete:
				if ev.ToolCall != nil {
					toolCalls = append(toolCalls, *ev.ToolCall)
				}
			case llm.EventToolCallStart, llm.EventToolCallArgDelta:
				// Argument assembly is the client's job; the loop only needs
				// completed calls.
			case llm.EventDone:
				o.logger.Debug("turn complete",
					zap.String("stop_reason", ev.StopReason),
					zap.Int("tool_calls", len(toolCalls)))
				return &turnResult{content: content.String(), toolCalls: toolCalls}, nil
			case llm.EventError:
				return nil, ev.Err
			}
		}
	}
}
