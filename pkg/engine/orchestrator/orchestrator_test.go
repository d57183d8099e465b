package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"AgentEngine/pkg/engine/convo"
	"AgentEngine/pkg/engine/provider"
	"AgentEngine/pkg/engine/store"
	"AgentEngine/pkg/engine/tools"
)

type stubShellRunner struct {
	called  bool
	command string
	result  ShellResult
	err     error
}

func (s *stubShellRunner) Run(ctx context.Context, command string, timeout time.Duration) (ShellResult, error) {
	s.called = true
	s.command = command
	return s.result, s.err
}

func newTestEngine(t *testing.T, p provider.Provider, toolReg *tools.Registry, shell ShellRunner) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	allow, err := store.NewFileAllowlistStore(root)
	if err != nil {
		t.Fatalf("NewFileAllowlistStore: %v", err)
	}
	auto, err := store.NewFileAutoAcceptStore(root)
	if err != nil {
		t.Fatalf("NewFileAutoAcceptStore: %v", err)
	}
	eng := NewEngine(Config{
		RepoRoot:   root,
		Provider:   p,
		Tools:      toolReg,
		ShellSvc:   shell,
		Allowlist:  allow,
		AutoAccept: auto,
		Model:      "mock-model",
	})
	return eng, root
}

func pendingReviewEntry(t *testing.T, eng *Engine) convo.Entry {
	t.Helper()
	state := eng.State()
	if state.PendingReviewID == "" {
		t.Fatalf("expected a pending review")
	}
	entry, ok := eng.findEntry(state.PendingReviewID)
	if !ok {
		t.Fatalf("pending review entry %q not found in transcript", state.PendingReviewID)
	}
	return entry
}

func waitForPending(t *testing.T, eng *Engine) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if eng.State().PendingReviewID != "" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a pending review")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestSendMessageTextOnlyRound covers a no-tool-call round: the provider
// replies with plain text and StopEndTurn, so SendMessage returns without
// ever touching the tool registry or gate manager.
func TestSendMessageTextOnlyRound(t *testing.T) {
	p := provider.NewMockProvider(provider.MockTurn{Text: "hello there", StopReason: provider.StopEndTurn})
	eng, _ := newTestEngine(t, p, tools.NewRegistry(), &stubShellRunner{})

	if err := eng.SendMessage(context.Background(), "hi", convo.ModeAgent); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	transcript := eng.GetTranscript()
	if len(transcript) != 2 {
		t.Fatalf("expected user+assistant entries, got %d: %+v", len(transcript), transcript)
	}
	if transcript[0].Kind != convo.EntryUser || transcript[0].Content != "hi" {
		t.Fatalf("unexpected user entry: %+v", transcript[0])
	}
	if transcript[1].Kind != convo.EntryAssistant || transcript[1].Content != "hello there" {
		t.Fatalf("unexpected assistant entry: %+v", transcript[1])
	}
	if eng.State().PendingReviewID != "" {
		t.Fatalf("expected no pending review for a text-only round")
	}
}

// TestDispatchWriteAcceptAppliesEdit drives a full write round through the
// diff_review gate, resolved with "accept", and checks the edit actually
// lands on disk.
func TestDispatchWriteAcceptAppliesEdit(t *testing.T) {
	toolCallID := "tool-1"
	p := provider.NewMockProvider(
		provider.MockTurn{
			ToolCalls: []provider.AccumulatedToolUse{
				{ID: toolCallID, Name: "edit_replace_exact", Input: map[string]any{
					"path": "a.txt", "old_text": "foo", "new_text": "bar",
				}},
			},
			StopReason: provider.StopToolUse,
		},
		provider.MockTurn{Text: "done", StopReason: provider.StopEndTurn},
	)
	// the write tool must be rooted at the engine's real temp workspace, so
	// construct the engine first and register the tool against its root.
	eng, root := newTestEngine(t, p, tools.NewRegistry(), &stubShellRunner{})
	eng.cfg.Tools.MustRegister(tools.NewEditReplaceExactTool(root))

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("foo"), 0644); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- eng.SendMessage(context.Background(), "fix a.txt", convo.ModeAgent) }()

	waitForPending(t, eng)
	review := pendingReviewEntry(t, eng)
	if review.Kind != convo.EntryDiffReview {
		t.Fatalf("expected a diff_review entry, got %+v", review)
	}
	if err := eng.ResolveWriteReview(review.ID, WriteDecisionAccept); err != nil {
		t.Fatalf("ResolveWriteReview: %v", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "bar" {
		t.Fatalf("file contents = %q, want %q", got, "bar")
	}

	resolved, ok := eng.findEntry(review.ID)
	if !ok || resolved.ReviewStatus != convo.ReviewAccepted || !resolved.Applied {
		t.Fatalf("unexpected resolved review entry: %+v", resolved)
	}
}

// TestDispatchWriteAlwaysPersistsAutoAccept resolves a write gate with
// "always", then sends a second message whose write tool call must apply
// without ever opening a gate, because the decision persisted to the
// repo's .north/autoaccept.json.
func TestDispatchWriteAlwaysPersistsAutoAccept(t *testing.T) {
	p := provider.NewMockProvider(
		provider.MockTurn{
			ToolCalls: []provider.AccumulatedToolUse{
				{ID: "tc-1", Name: "edit_replace_exact", Input: map[string]any{
					"path": "a.txt", "old_text": "foo", "new_text": "bar",
				}},
			},
			StopReason: provider.StopToolUse,
		},
		provider.MockTurn{Text: "done 1", StopReason: provider.StopEndTurn},
		provider.MockTurn{
			ToolCalls: []provider.AccumulatedToolUse{
				{ID: "tc-2", Name: "edit_replace_exact", Input: map[string]any{
					"path": "b.txt", "old_text": "baz", "new_text": "qux",
				}},
			},
			StopReason: provider.StopToolUse,
		},
		provider.MockTurn{Text: "done 2", StopReason: provider.StopEndTurn},
	)
	eng, root := newTestEngine(t, p, tools.NewRegistry(), &stubShellRunner{})
	reg := tools.NewRegistry()
	reg.MustRegister(tools.NewEditReplaceExactTool(root))
	eng.cfg.Tools = reg

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("foo"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("baz"), 0644); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- eng.SendMessage(context.Background(), "fix a.txt", convo.ModeAgent) }()
	waitForPending(t, eng)
	review := pendingReviewEntry(t, eng)
	if err := eng.ResolveWriteReview(review.ID, WriteDecisionAlways); err != nil {
		t.Fatalf("ResolveWriteReview: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("SendMessage (1): %v", err)
	}

	enabled, err := eng.cfg.AutoAccept.IsEditsAutoAcceptEnabled(context.Background())
	if err != nil || !enabled {
		t.Fatalf("expected edits auto-accept persisted, enabled=%v err=%v", enabled, err)
	}

	// Second message's write tool call must apply without suspending on a
	// gate at all.
	if err := eng.SendMessage(context.Background(), "fix b.txt", convo.ModeAgent); err != nil {
		t.Fatalf("SendMessage (2): %v", err)
	}
	if eng.State().PendingReviewID != "" {
		t.Fatalf("expected no pending review once auto-accept is enabled")
	}
	got, err := os.ReadFile(filepath.Join(root, "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "qux" {
		t.Fatalf("b.txt contents = %q, want %q", got, "qux")
	}
}

// TestDispatchShellDenyNeverRunsCommand resolves a shell_review gate with
// "deny" and asserts the underlying ShellRunner was never invoked.
func TestDispatchShellDenyNeverRunsCommand(t *testing.T) {
	reg := tools.NewRegistry()
	// dispatchShell bypasses tool.Execute entirely, but the tool still needs
	// to be registered so the dispatch loop's lookup and approval-policy
	// check succeed; a nil *shellsvc.Service is never dereferenced here.
	reg.MustRegister(tools.NewShellRunTool(nil))
	p := provider.NewMockProvider(
		provider.MockTurn{
			ToolCalls: []provider.AccumulatedToolUse{
				{ID: "tc-1", Name: "shell_run", Input: map[string]any{"command": "rm -rf /tmp/whatever"}},
			},
			StopReason: provider.StopToolUse,
		},
		provider.MockTurn{Text: "ok", StopReason: provider.StopEndTurn},
	)
	shell := &stubShellRunner{result: ShellResult{Stdout: "should not run"}}
	eng, _ := newTestEngine(t, p, reg, shell)

	errCh := make(chan error, 1)
	go func() { errCh <- eng.SendMessage(context.Background(), "clean up", convo.ModeAgent) }()

	waitForPending(t, eng)
	review := pendingReviewEntry(t, eng)
	if review.Kind != convo.EntryShellReview {
		t.Fatalf("expected a shell_review entry, got %+v", review)
	}
	if err := eng.ResolveShellReview(review.ID, ShellDecisionDeny); err != nil {
		t.Fatalf("ResolveShellReview: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if shell.called {
		t.Fatalf("shell runner should never have been invoked for a denied command")
	}
	resolved, ok := eng.findEntry(review.ID)
	if !ok || resolved.ReviewStatus != convo.ReviewDenied {
		t.Fatalf("unexpected resolved review entry: %+v", resolved)
	}
}

// TestCancelUnblocksPendingWriteGate verifies Cancel() resolves a suspended
// write review as rejected and lets SendMessage return promptly.
func TestCancelUnblocksPendingWriteGate(t *testing.T) {
	reg := tools.NewRegistry()
	p := provider.NewMockProvider(
		provider.MockTurn{
			ToolCalls: []provider.AccumulatedToolUse{
				{ID: "tc-1", Name: "edit_replace_exact", Input: map[string]any{
					"path": "a.txt", "old_text": "foo", "new_text": "bar",
				}},
			},
			StopReason: provider.StopToolUse,
		},
		provider.MockTurn{Text: "done", StopReason: provider.StopEndTurn},
	)
	eng, root := newTestEngine(t, p, reg, &stubShellRunner{})
	eng.cfg.Tools.MustRegister(tools.NewEditReplaceExactTool(root))
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("foo"), 0644); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- eng.SendMessage(context.Background(), "fix a.txt", convo.ModeAgent) }()

	waitForPending(t, eng)
	review := pendingReviewEntry(t, eng)
	eng.Cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("SendMessage returned error after Cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SendMessage did not return after Cancel")
	}

	resolved, ok := eng.findEntry(review.ID)
	if !ok || resolved.ReviewStatus != convo.ReviewRejected {
		t.Fatalf("expected the pending write review to resolve as rejected, got %+v", resolved)
	}
	got, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "foo" {
		t.Fatalf("file should be untouched after a cancelled review, got %q", got)
	}
}
