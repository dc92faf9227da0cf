package stream

import (
	"context"
	"strings"

	"github.com/quarrylabs/quarry-agent/pkg/agent"
)

// Collect drains a turn and returns the terminal chunk a streaming client
// would have received last. Cancellation yields whatever content had
// accumulated, without an error, matching the streaming path's treatment of
// aborts.
func Collect(ctx context.Context, events <-chan agent.Event) *AIChunk {
	var content strings.Builder
	var intent *TableIntent

	finish := func() *AIChunk {
		return &AIChunk{
			AssistantMessage:    &AssistantMessage{Content: content.String(), Type: "assistant"},
			DetectedTableIntent: intent,
		}
	}

	for {
		select {
		case <-ctx.Done():
			return finish()
		case ev, ok := <-events:
			if !ok {
				return finish()
			}

			switch ev.Type {
			case agent.EventText:
				content.WriteString(ev.Content)
			case agent.EventToolResult:
				if intent == nil && ev.Result != nil {
					intent = detectTableIntent(ev.Result.Tables)
				}
			case agent.EventDone:
				return finish()
			case agent.EventError:
				message := genericErrorMessage
				return &AIChunk{Error: &message}
			}
		}
	}
}
