package provider

import (
	"context"
	"encoding/json"
	"sync"
)

// MockProvider deterministically replays a scripted sequence of turns,
// chunking each turn's text into fixed-size pieces, so orchestrator tests
// run with no network and fully reproducible streams.
type MockProvider struct {
	mu    sync.Mutex
	turns []MockTurn
	next  int
}

// MockTurn scripts one Stream() call's worth of response. When Err is set
// the stream yields any scripted text first, then terminates with that
// error — the shape a transport failure or an API rejection takes through
// Drain.
type MockTurn struct {
	Text       string
	ToolCalls  []AccumulatedToolUse
	StopReason StopReason
	ChunkSize  int // defaults to 32 if zero
	Err        error
}

// NewMockProvider returns a provider that replays turns in order, then
// repeats the last turn forever once exhausted.
func NewMockProvider(turns ...MockTurn) *MockProvider {
	return &MockProvider{turns: turns}
}

func (m *MockProvider) Stream(ctx context.Context, messages []Message, opts StreamOptions) (Stream, error) {
	m.mu.Lock()
	idx := m.next
	if idx >= len(m.turns) && len(m.turns) > 0 {
		idx = len(m.turns) - 1
	}
	if m.next < len(m.turns) {
		m.next++
	}
	m.mu.Unlock()

	if len(m.turns) == 0 {
		return &mockStream{events: []Event{{Kind: EventDone, StopReason: StopEndTurn}}}, nil
	}
	turn := m.turns[idx]
	return newMockStream(turn), nil
}

func (m *MockProvider) BuildAssistantMessage(text string, toolCalls []AccumulatedToolUse) Message {
	return Message{Role: "assistant", Content: map[string]any{"text": text, "toolCalls": toolCalls}}
}

func (m *MockProvider) BuildToolResultMessage(results []ToolResult) Message {
	return Message{Role: "tool", Content: results}
}

type mockStream struct {
	events []Event
	pos    int
}

func newMockStream(turn MockTurn) *mockStream {
	chunkSize := turn.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 32
	}
	var events []Event
	events = append(events, Event{Kind: EventMessageStart})
	if turn.Text != "" {
		events = append(events, Event{Kind: EventBlockStart, BlockIndex: 0, Block: BlockText})
		for i := 0; i < len(turn.Text); i += chunkSize {
			end := i + chunkSize
			if end > len(turn.Text) {
				end = len(turn.Text)
			}
			events = append(events, Event{Kind: EventDelta, BlockIndex: 0, TextDelta: turn.Text[i:end]})
		}
		events = append(events, Event{Kind: EventBlockStop, BlockIndex: 0})
	}
	for i, tc := range turn.ToolCalls {
		idx := i + 1
		events = append(events, Event{Kind: EventBlockStart, BlockIndex: idx, Block: BlockToolUse, ToolUseID: tc.ID, ToolName: tc.Name})
		if tc.Input != nil {
			if raw, err := json.Marshal(tc.Input); err == nil {
				events = append(events, Event{Kind: EventDelta, BlockIndex: idx, PartialJSONDelta: string(raw)})
			}
		}
		events = append(events, Event{Kind: EventBlockStop, BlockIndex: idx})
	}
	if turn.Err != nil {
		events = append(events, Event{Kind: EventDone, Err: turn.Err})
		return &mockStream{events: events}
	}
	stop := turn.StopReason
	if stop == "" {
		if len(turn.ToolCalls) > 0 {
			stop = StopToolUse
		} else {
			stop = StopEndTurn
		}
	}
	events = append(events, Event{Kind: EventMessageDelta, StopReason: stop})
	events = append(events, Event{Kind: EventDone, StopReason: stop})
	return &mockStream{events: events}
}

func (s *mockStream) Next(ctx context.Context) (Event, bool) {
	select {
	case <-ctx.Done():
		return Event{Kind: EventDone, StopReason: StopCancelled, Err: ctx.Err()}, false
	default:
	}
	if s.pos >= len(s.events) {
		return Event{Kind: EventDone}, false
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, s.pos < len(s.events)
}
