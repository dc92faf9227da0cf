package llm

import (
	"context"
	"sync"
)

// MockClient replays scripted turns for tests. Each call to StreamTurn
// consumes the next entry in Turns; the request it was given is recorded for
// assertions. StreamTurnFunc, when set, overrides the scripted behavior.
type MockClient struct {
	StreamTurnFunc func(ctx context.Context, req *Request) (<-chan Event, error)

	// Turns are scripted event sequences, one per StreamTurn call.
	Turns     [][]Event
	ModelName string

	mu       sync.Mutex
	requests []*Request
	turn     int
}

// StreamTurn records the request and replays the next scripted turn.
func (m *MockClient) StreamTurn(ctx context.Context, req *Request) (<-chan Event, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	turn := m.turn
	m.turn++
	m.mu.Unlock()

	if m.StreamTurnFunc != nil {
		return m.StreamTurnFunc(ctx, req)
	}

	var script []Event
	if turn < len(m.Turns) {
		script = m.Turns[turn]
	} else {
		script = []Event{{Type: EventDone, StopReason: StopReasonEndTurn}}
	}

	events := make(chan Event, len(script))
	for _, ev := range script {
		events <- ev
	}
	close(events)
	return events, nil
}

// Model returns the scripted model name.
func (m *MockClient) Model() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return "mock-model"
}

// Requests returns a copy of the recorded requests.
func (m *MockClient) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many turns were requested.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var _ Client = (*MockClient)(nil)
