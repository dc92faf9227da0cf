package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/config"
)

// OpenAIClient talks to OpenAI-compatible endpoints, which includes local
// vLLM and Ollama deployments.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIClient builds a client from model configuration.
func NewOpenAIClient(cfg *config.ModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Name == "" {
		return nil, errors.New("model name is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = newHTTPClient(cfg.TimeoutMs)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Name,
		logger: logger.Named("llm"),
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// StreamTurn opens a chat completion stream and translates it into tagged
// events. Tool call fragments arrive interleaved across chunks keyed by
// index; each index surfaces as a start event on first sight, arg deltas as
// they stream, and a complete event with the assembled arguments at the end
// of the turn.
func (c *OpenAIClient) StreamTurn(ctx context.Context, req *Request) (<-chan Event, error) {
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = 0.3
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildOpenAIMessages(req.Messages, req.SystemPrompt),
		Tools:       buildOpenAITools(req.Tools),
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, ClassifyError(err)
	}

	events := make(chan Event, 32)
	go func() {
		defer close(events)
		defer stream.Close()
		c.pump(stream, events)
	}()

	return events, nil
}

func (c *OpenAIClient) pump(stream *openai.ChatCompletionStream, events chan<- Event) {
	start := time.Now()
	toolCalls := make(map[int]*ToolCall)

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.logger.Error("stream receive failed", zap.Error(err))
			events <- Event{Type: EventError, Err: ClassifyError(err)}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			events <- Event{Type: EventTextDelta, Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}

			existing, seen := toolCalls[idx]
			if !seen {
				call := &ToolCall{
					ID:   tc.ID,
					Type: string(tc.Type),
					Function: ToolCallFunc{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
				toolCalls[idx] = call
				events <- Event{Type: EventToolCallStart, ToolCall: &ToolCall{
					ID:       call.ID,
					Type:     call.Type,
					Function: ToolCallFunc{Name: call.Function.Name},
				}}
				if tc.Function.Arguments != "" {
					events <- Event{Type: EventToolCallArgDelta, ArgDelta: tc.Function.Arguments}
				}
				continue
			}

			existing.Function.Arguments += tc.Function.Arguments
			if tc.Function.Arguments != "" {
				events <- Event{Type: EventToolCallArgDelta, ArgDelta: tc.Function.Arguments}
			}
		}
	}

	indexes := make([]int, 0, len(toolCalls))
	for idx := range toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		events <- Event{Type: EventToolCallComplete, ToolCall: toolCalls[idx]}
	}

	stopReason := StopReasonEndTurn
	if len(toolCalls) > 0 {
		stopReason = StopReasonToolCalls
	}

	c.logger.Debug("model turn completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("tool_calls", len(toolCalls)),
		zap.String("stop_reason", stopReason))

	events <- Event{Type: EventDone, StopReason: stopReason}
}

func buildOpenAIMessages(messages []Message, systemPrompt string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		result = append(result, oaiMsg)
	}

	return result
}

func buildOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, len(tools))
	for i, def := range tools {
		paramsJSON, _ := json.Marshal(def.Parameters)
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(paramsJSON),
			},
		}
	}

	return result
}

var _ Client = (*OpenAIClient)(nil)
