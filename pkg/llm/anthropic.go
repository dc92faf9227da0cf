package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/config"
)

const defaultMaxTokens = 4096

// AnthropicClient adapts the Anthropic Messages API to the event stream
// contract. The turn is fetched as a whole and replayed as events, so
// consumers see the same shape regardless of provider.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// NewAnthropicClient builds a client from model configuration.
func NewAnthropicClient(cfg *config.ModelConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.Name == "" {
		return nil, errors.New("model name is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required for anthropic")
	}

	opts := []anthropic.ClientOption{
		anthropic.WithHTTPClient(newHTTPClient(cfg.TimeoutMs)),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(cfg.APIKey, opts...),
		model:  cfg.Name,
		logger: logger.Named("llm"),
	}, nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

// StreamTurn fetches one assistant turn and replays it as tagged events.
func (c *AnthropicClient) StreamTurn(ctx context.Context, req *Request) (<-chan Event, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    req.SystemPrompt,
		Messages:  buildAnthropicMessages(req.Messages),
		Tools:     buildAnthropicTools(req.Tools),
		MaxTokens: maxTokens,
	})
	if err != nil {
		c.logger.Error("messages request failed", zap.Error(err))
		return nil, ClassifyError(err)
	}

	c.logger.Debug("model turn completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("content_blocks", len(resp.Content)))

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		replayAnthropicTurn(&resp, events)
	}()

	return events, nil
}

// replayAnthropicTurn converts a complete response into the event sequence a
// streaming provider would have produced.
func replayAnthropicTurn(resp *anthropic.MessagesResponse, events chan<- Event) {
	toolCalls := 0

	for _, block := range resp.Content {
		if text := block.GetText(); text != "" {
			events <- Event{Type: EventTextDelta, Text: text}
			continue
		}
		if block.MessageContentToolUse == nil {
			continue
		}

		use := block.MessageContentToolUse
		args := string(use.Input)
		toolCalls++

		events <- Event{Type: EventToolCallStart, ToolCall: &ToolCall{
			ID:       use.ID,
			Type:     "function",
			Function: ToolCallFunc{Name: use.Name},
		}}
		if args != "" {
			events <- Event{Type: EventToolCallArgDelta, ArgDelta: args}
		}
		events <- Event{Type: EventToolCallComplete, ToolCall: &ToolCall{
			ID:       use.ID,
			Type:     "function",
			Function: ToolCallFunc{Name: use.Name, Arguments: args},
		}}
	}

	stopReason := StopReasonEndTurn
	if toolCalls > 0 || resp.StopReason == anthropic.MessagesStopReasonToolUse {
		stopReason = StopReasonToolCalls
	}
	events <- Event{Type: EventDone, StopReason: stopReason}
}

// buildAnthropicMessages converts the provider-neutral conversation. Tool
// results ride in user messages per the Messages API; assistant tool calls
// become tool_use content blocks.
func buildAnthropicMessages(messages []Message) []anthropic.Message {
	var result []anthropic.Message

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			result = append(result, anthropic.NewUserTextMessage(msg.Content))
		case RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" {
				text := msg.Content
				content = append(content, anthropic.MessageContent{
					Type: anthropic.MessagesContentTypeText,
					Text: &text,
				})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropic.MessageContent{
					Type: anthropic.MessagesContentTypeToolUse,
					MessageContentToolUse: &anthropic.MessageContentToolUse{
						ID:    tc.ID,
						Name:  tc.Function.Name,
						Input: json.RawMessage(tc.Function.Arguments),
					},
				})
			}
			result = append(result, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: content,
			})
		case RoleTool:
			result = append(result, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewToolResultMessageContent(msg.ToolCallID, msg.Content, false),
				},
			})
		}
	}

	return result
}

func buildAnthropicTools(tools []ToolDefinition) []anthropic.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}

	result := make([]anthropic.ToolDefinition, len(tools))
	for i, def := range tools {
		result[i] = anthropic.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		}
	}

	return result
}

var _ Client = (*AnthropicClient)(nil)
