package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the concrete Anthropic-backed Provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// AnthropicProvider adapts the Anthropic Messages streaming API to the
// Provider contract: message_start/content_block_start/content_block_delta/
// content_block_stop/message_delta/message_stop become this package's
// own Event union, and tool_use partial-JSON accumulation happens the same
// way it would against the raw SDK stream.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// NewAnthropicProvider builds a Provider backed by the real Anthropic API.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider: anthropic api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
		maxTokens:    maxTokens,
	}, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, messages []Message, opts StreamOptions) (Stream, error) {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := p.maxTokens

	anthMessages, err := p.convertMessages(messages)
	if err != nil {
		return nil, fmt.Errorf("provider: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthMessages,
		MaxTokens: int64(maxTokens),
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: opts.SystemPrompt}}
	}
	if len(opts.Tools) > 0 {
		params.Tools = p.convertTools(opts.Tools)
	}

	sdkStream := p.client.Messages.NewStreaming(ctx, params)

	s := &anthropicStream{events: make(chan Event, 16)}
	go s.pump(ctx, sdkStream)
	return s, nil
}

func (p *AnthropicProvider) BuildAssistantMessage(text string, toolCalls []AccumulatedToolUse) Message {
	var blocks []anthropic.ContentBlockParamUnion
	if text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	for _, tc := range toolCalls {
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
	}
	return Message{Role: "assistant", Content: blocks}
}

func (p *AnthropicProvider) BuildToolResultMessage(results []ToolResult) Message {
	var blocks []anthropic.ContentBlockParamUnion
	for _, r := range results {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.ToolUseID, r.Content, r.IsError))
	}
	return Message{Role: "user", Content: blocks}
}

func (p *AnthropicProvider) convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks, ok := m.Content.([]anthropic.ContentBlockParamUnion)
		if !ok {
			// Plain-string messages (e.g. the initial user turn) convert
			// directly; anything else is a programming error upstream.
			text, ok := m.Content.(string)
			if !ok {
				return nil, fmt.Errorf("unsupported message content for role %q", m.Role)
			}
			blocks = []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)}
		}
		switch m.Role {
		case "user", "tool":
			out = append(out, anthropic.NewUserMessage(blocks...))
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func (p *AnthropicProvider) convertTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		raw, _ := json.Marshal(t.InputSchema)
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(raw, &schema)

		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, param)
	}
	return out
}

// anthropicStream wraps the SDK's pull-style ssestream into this package's
// pull-style Stream interface by pumping converted events through a
// buffered channel from a background goroutine — the same
// read-loop-feeds-a-channel shape used throughout the rest of the engine
// for bridging a blocking source into a cancellable consumer.
type anthropicStream struct {
	events chan Event
}

func (s *anthropicStream) pump(ctx context.Context, sdkStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}) {
	defer close(s.events)

	emit := func(ev Event) bool {
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for sdkStream.Next() {
		event := sdkStream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if !emit(Event{Kind: EventMessageStart, Usage: Usage{InputTokens: int(ms.Message.Usage.InputTokens)}}) {
				return
			}

		case "content_block_start":
			cbs := event.AsContentBlockStart()
			idx := int(cbs.Index)
			switch cbs.ContentBlock.Type {
			case "text":
				if !emit(Event{Kind: EventBlockStart, BlockIndex: idx, Block: BlockText}) {
					return
				}
			case "tool_use":
				tu := cbs.ContentBlock.AsToolUse()
				if !emit(Event{Kind: EventBlockStart, BlockIndex: idx, Block: BlockToolUse, ToolUseID: tu.ID, ToolName: tu.Name}) {
					return
				}
			}

		case "content_block_delta":
			cbd := event.AsContentBlockDelta()
			idx := int(cbd.Index)
			switch cbd.Delta.Type {
			case "text_delta":
				if cbd.Delta.Text != "" {
					if !emit(Event{Kind: EventDelta, BlockIndex: idx, TextDelta: cbd.Delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				if cbd.Delta.PartialJSON != "" {
					if !emit(Event{Kind: EventDelta, BlockIndex: idx, PartialJSONDelta: cbd.Delta.PartialJSON}) {
						return
					}
				}
			}

		case "content_block_stop":
			cbsp := event.AsContentBlockStop()
			if !emit(Event{Kind: EventBlockStop, BlockIndex: int(cbsp.Index)}) {
				return
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if !emit(Event{
				Kind:       EventMessageDelta,
				StopReason: mapStopReason(string(md.Delta.StopReason)),
				Usage:      Usage{OutputTokens: int(md.Usage.OutputTokens)},
			}) {
				return
			}

		case "message_stop":
			emit(Event{Kind: EventDone})
			return

		case "error":
			emit(Event{Kind: EventDone, Err: fmt.Errorf("provider: anthropic stream error")})
			return
		}
	}
	if err := sdkStream.Err(); err != nil {
		emit(Event{Kind: EventDone, Err: err})
		return
	}
	emit(Event{Kind: EventDone})
}

func mapStopReason(raw string) StopReason {
	switch raw {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "end_turn", "stop_sequence":
		return StopEndTurn
	default:
		return StopReason(raw)
	}
}

func (s *anthropicStream) Next(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{Kind: EventDone}, false
		}
		return ev, true
	case <-ctx.Done():
		return Event{Kind: EventDone, StopReason: StopCancelled, Err: ctx.Err()}, false
	}
}
