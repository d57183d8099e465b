// Package provider abstracts an LLM streaming endpoint behind a small event
// contract: given a message list and tool schemas, Stream yields a sequence
// of block-delimited events the orchestrator accumulates into text and
// tool_use input, independent of which concrete wire protocol backs it.
package provider

import (
	"context"
	"encoding/json"
)

// Message is one entry in the wire-shape message list sent to the
// provider. Role is "user", "assistant", or "tool". Content is treated as
// opaque by everything except the concrete adapter that produced it via
// BuildAssistantMessage/BuildToolResultMessage.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ToolSchema describes one tool definition advertised to the provider.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// StreamOptions configures one Stream call.
type StreamOptions struct {
	Model         string
	Tools         []ToolSchema
	SystemPrompt  string
	MaxTokens     int
}

// EventKind discriminates the Event union.
type EventKind string

const (
	EventMessageStart EventKind = "message_start"
	EventBlockStart   EventKind = "block_start"
	EventDelta        EventKind = "delta"
	EventBlockStop    EventKind = "block_stop"
	EventMessageDelta EventKind = "message_delta"
	EventDone         EventKind = "done"
)

// BlockKind discriminates a content block started by EventBlockStart.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockToolUse BlockKind = "tool_use"
)

// Usage is the last-seen token accounting for the in-flight message.
type Usage struct {
	InputTokens      int `json:"inputTokens"`
	OutputTokens     int `json:"outputTokens"`
	CacheReadTokens  int `json:"cacheReadTokens"`
	CacheWriteTokens int `json:"cacheWriteTokens"`
}

// StopReason is the terminal reason a message finished.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopCancelled StopReason = "cancelled"
)

// Event is a single item in the stream, tagged by Kind; only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// EventBlockStart
	BlockIndex int
	Block      BlockKind
	ToolUseID  string
	ToolName   string

	// EventDelta
	TextDelta        string
	PartialJSONDelta string

	// EventMessageDelta / EventDone
	StopReason StopReason
	Usage      Usage

	// EventDone
	Err error
}

// AccumulatedToolUse is one fully-accumulated tool_use block.
type AccumulatedToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// Stream is the live handle to one in-flight request: Next returns events
// one at a time until the stream is exhausted (EventDone is always the
// final event, whether the stream ended normally, errored, or was
// cancelled).
type Stream interface {
	Next(ctx context.Context) (Event, bool)
}

// Provider is the contract every concrete LLM backend implements.
type Provider interface {
	// Stream begins a request and returns a live event stream.
	Stream(ctx context.Context, messages []Message, opts StreamOptions) (Stream, error)

	// BuildAssistantMessage constructs an opaque assistant-role message from
	// accumulated text and tool calls, for appending to the next request's
	// message list.
	BuildAssistantMessage(text string, toolCalls []AccumulatedToolUse) Message

	// BuildToolResultMessage constructs an opaque tool-role message batching
	// every tool result produced this round.
	BuildToolResultMessage(results []ToolResult) Message
}

// ToolResult is one tool_use_id/content pair fed back to the provider.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// ErrIncompleteToolCall is returned by Drain, the accumulation helper below,
// when the stream ends with a tool_use block that never reached block_stop.
type ErrIncompleteToolCall struct {
	ToolUseID string
}

func (e *ErrIncompleteToolCall) Error() string {
	return "incomplete tool call — possible timeout"
}

// Accumulated is the fully-drained result of one Stream: the plain text,
// any completed tool calls, the final usage figures, and stop reason.
type Accumulated struct {
	Text       string
	ToolCalls  []AccumulatedToolUse
	Usage      Usage
	StopReason StopReason
}

// Drain consumes every event from s, accumulating text and tool_use input
// exactly as described by the Provider Adapter contract: plain text blocks
// concatenate into one string, tool_use blocks accumulate partial JSON
// input and decode it once block_stop arrives (an empty object if the
// accumulated JSON never parses). A tool_use block open at end-of-stream
// without a block_stop is reported as ErrIncompleteToolCall.
func Drain(ctx context.Context, s Stream) (Accumulated, error) {
	var acc Accumulated
	type openBlock struct {
		kind      BlockKind
		toolUseID string
		toolName  string
		json      []byte
	}
	open := map[int]*openBlock{}

	for {
		ev, more := s.Next(ctx)
		switch ev.Kind {
		case EventBlockStart:
			open[ev.BlockIndex] = &openBlock{kind: ev.Block, toolUseID: ev.ToolUseID, toolName: ev.ToolName}
		case EventDelta:
			b := open[ev.BlockIndex]
			if b == nil {
				break
			}
			if ev.TextDelta != "" {
				acc.Text += ev.TextDelta
			}
			if ev.PartialJSONDelta != "" {
				b.json = append(b.json, []byte(ev.PartialJSONDelta)...)
			}
		case EventBlockStop:
			b := open[ev.BlockIndex]
			if b != nil && b.kind == BlockToolUse {
				input := map[string]any{}
				if len(b.json) > 0 {
					_ = json.Unmarshal(b.json, &input)
				}
				acc.ToolCalls = append(acc.ToolCalls, AccumulatedToolUse{
					ID: b.toolUseID, Name: b.toolName, Input: input,
				})
			}
			delete(open, ev.BlockIndex)
		case EventMessageDelta:
			acc.Usage = ev.Usage
			if ev.StopReason != "" {
				acc.StopReason = ev.StopReason
			}
		case EventDone:
			if ev.Err != nil {
				return acc, ev.Err
			}
			if ev.StopReason != "" {
				acc.StopReason = ev.StopReason
			}
			for idx, b := range open {
				if b.kind == BlockToolUse {
					return acc, &ErrIncompleteToolCall{ToolUseID: b.toolUseID}
				}
				delete(open, idx)
			}
			return acc, nil
		}
		if !more {
			return acc, nil
		}
	}
}
