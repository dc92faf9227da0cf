package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/config"
)

// Client streams one assistant turn. Implementations must deliver events in
// order and close the channel after exactly one terminal event (done or
// error). Cancellation of ctx terminates the stream with an error event.
type Client interface {
	StreamTurn(ctx context.Context, req *Request) (<-chan Event, error)
	Model() string
}

// NewClient selects a provider implementation from configuration.
func NewClient(cfg *config.ModelConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg, logger)
	case "anthropic":
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}
