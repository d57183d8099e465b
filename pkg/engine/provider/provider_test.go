package provider

import (
	"context"
	"errors"
	"testing"
)

func TestDrainAccumulatesTextAndToolCalls(t *testing.T) {
	turn := MockTurn{
		Text: "checking the file now",
		ToolCalls: []AccumulatedToolUse{
			{ID: "tc-1", Name: "read_file", Input: map[string]any{"path": "main.go"}},
		},
		StopReason: StopToolUse,
	}
	stream := newMockStream(turn)

	acc, err := Drain(context.Background(), stream)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if acc.Text != turn.Text {
		t.Fatalf("Text = %q, want %q", acc.Text, turn.Text)
	}
	if acc.StopReason != StopToolUse {
		t.Fatalf("StopReason = %q, want %q", acc.StopReason, StopToolUse)
	}
	if len(acc.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(acc.ToolCalls))
	}
	got := acc.ToolCalls[0]
	if got.ID != "tc-1" || got.Name != "read_file" {
		t.Fatalf("unexpected tool call: %+v", got)
	}
	if got.Input["path"] != "main.go" {
		t.Fatalf("expected scripted tool call Input to round-trip through PartialJSONDelta, got %+v", got.Input)
	}
}

func TestDrainMultipleToolCallsKeepInputsIndependent(t *testing.T) {
	turn := MockTurn{
		ToolCalls: []AccumulatedToolUse{
			{ID: "tc-1", Name: "edit_replace_exact", Input: map[string]any{"path": "a.txt", "old_text": "foo", "new_text": "bar"}},
			{ID: "tc-2", Name: "shell_run", Input: map[string]any{"command": "go test ./..."}},
		},
		StopReason: StopToolUse,
	}
	stream := newMockStream(turn)

	acc, err := Drain(context.Background(), stream)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(acc.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d: %+v", len(acc.ToolCalls), acc.ToolCalls)
	}
	if acc.ToolCalls[0].Input["path"] != "a.txt" || acc.ToolCalls[0].Input["old_text"] != "foo" {
		t.Fatalf("unexpected first tool call input: %+v", acc.ToolCalls[0].Input)
	}
	if acc.ToolCalls[1].Input["command"] != "go test ./..." {
		t.Fatalf("unexpected second tool call input: %+v", acc.ToolCalls[1].Input)
	}
}

func TestDrainDetectsIncompleteToolCall(t *testing.T) {
	// Simulate a stream that opens a tool_use block and ends (EventDone)
	// without ever closing it — the orphan-recovery scenario.
	stream := &mockStream{events: []Event{
		{Kind: EventMessageStart},
		{Kind: EventBlockStart, BlockIndex: 0, Block: BlockToolUse, ToolUseID: "tc-orphan", ToolName: "shell_run"},
		{Kind: EventDone, StopReason: StopCancelled},
	}}

	_, err := Drain(context.Background(), stream)
	if err == nil {
		t.Fatalf("expected an error for an unclosed tool_use block at EventDone")
	}
	var incomplete *ErrIncompleteToolCall
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected ErrIncompleteToolCall, got %v (%T)", err, err)
	}
	if incomplete.ToolUseID != "tc-orphan" {
		t.Fatalf("ToolUseID = %q, want %q", incomplete.ToolUseID, "tc-orphan")
	}
}

func TestMockProviderStreamRepeatsLastTurnAfterExhaustion(t *testing.T) {
	p := NewMockProvider(
		MockTurn{Text: "first", StopReason: StopEndTurn},
		MockTurn{Text: "second", StopReason: StopEndTurn},
	)
	for i, want := range []string{"first", "second", "second", "second"} {
		s, err := p.Stream(context.Background(), nil, StreamOptions{})
		if err != nil {
			t.Fatalf("Stream call %d: %v", i, err)
		}
		acc, err := Drain(context.Background(), s)
		if err != nil {
			t.Fatalf("Drain call %d: %v", i, err)
		}
		if acc.Text != want {
			t.Fatalf("call %d: Text = %q, want %q", i, acc.Text, want)
		}
	}
}
