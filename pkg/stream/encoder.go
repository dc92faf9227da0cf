// Package stream serializes orchestrator events as newline-delimited JSON on
// a streamed HTTP response. Every line carries the cumulative assistant
// content so far, so a client that drops a line still renders correctly from
// the next one.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/agent"
)

// ContentType is the wire content type for the chunk stream.
const ContentType = "application/x-ndjson"

// genericErrorMessage is what users see when the turn fails. Detail stays in
// server logs keyed by correlation id.
const genericErrorMessage = "Something went wrong while answering. Please try again."

// AssistantMessage is the message portion of a chunk.
type AssistantMessage struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// TableIntent signals which table the answer is about, with confidence 1 when
// exactly one table was queried and 0.5 when the first of several is guessed.
type TableIntent struct {
	Table      string  `json:"table"`
	Confidence float64 `json:"confidence"`
}

// AIChunk is one NDJSON line. All three keys are always present; absent
// values are null.
type AIChunk struct {
	AssistantMessage    *AssistantMessage `json:"assistantMessage"`
	DetectedTableIntent *TableIntent      `json:"detectedTableIntent"`
	Error               *string           `json:"error"`
}

// Encoder writes the chunk stream for one turn.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
	logger  *zap.Logger
}

// NewEncoder wraps a response writer. Flushing after each line is best
// effort; writers without http.Flusher (tests, buffers) are fine.
func NewEncoder(w io.Writer, logger *zap.Logger) *Encoder {
	flusher, _ := w.(http.Flusher)
	return &Encoder{
		w:       w,
		flusher: flusher,
		logger:  logger.Named("stream"),
	}
}

// Stream consumes orchestrator events until a terminal event or ctx fires.
// Content chunks are cumulative. The table intent is emitted at most once,
// attached to the first chunk written after it becomes known. The final line
// carries either the complete content or an error, never both. A canceled
// ctx closes the stream without a terminal line; the client renders that as
// cancellation, not failure.
func (e *Encoder) Stream(ctx context.Context, events <-chan agent.Event) error {
	var content strings.Builder
	var pendingIntent *TableIntent
	intentSent := false

	takeIntent := func() *TableIntent {
		if pendingIntent == nil {
			return nil
		}
		intent := pendingIntent
		pendingIntent = nil
		intentSent = true
		return intent
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			switch ev.Type {
			case agent.EventText:
				content.WriteString(ev.Content)
				if err := e.writeChunk(&AIChunk{
					AssistantMessage:    &AssistantMessage{Content: content.String(), Type: "assistant"},
					DetectedTableIntent: takeIntent(),
				}); err != nil {
					return err
				}

			case agent.EventToolResult:
				if !intentSent && pendingIntent == nil && ev.Result != nil {
					pendingIntent = detectTableIntent(ev.Result.Tables)
				}

			case agent.EventDone:
				return e.writeChunk(&AIChunk{
					AssistantMessage:    &AssistantMessage{Content: content.String(), Type: "assistant"},
					DetectedTableIntent: takeIntent(),
				})

			case agent.EventError:
				e.logger.Warn("turn failed", zap.Error(ev.Err))
				message := genericErrorMessage
				return e.writeChunk(&AIChunk{Error: &message})
			}
		}
	}
}

func (e *Encoder) writeChunk(chunk *AIChunk) error {
	line, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(append(line, '\n')); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// detectTableIntent maps queried tables to an intent signal.
func detectTableIntent(tables []string) *TableIntent {
	switch len(tables) {
	case 0:
		return nil
	case 1:
		return &TableIntent{Table: tables[0], Confidence: 1}
	default:
		return &TableIntent{Table: tables[0], Confidence: 0.5}
	}
}
