package orchestrator

import (
	"context"
	"fmt"
	"time"

	"AgentEngine/pkg/engine/api"
	"AgentEngine/pkg/engine/apply"
	"AgentEngine/pkg/engine/convo"
	"AgentEngine/pkg/engine/edits"
	"AgentEngine/pkg/engine/gate"
	"AgentEngine/pkg/engine/provider"
	"AgentEngine/pkg/engine/tools"
	"AgentEngine/pkg/logger"
)

// dispatchToolCalls runs every tool call from one Provider round to
// completion, in order — sequential dispatch is what lets gate.Manager's
// "at most one pending gate" rule hold trivially, since only one call is
// ever suspended on a gate at a time.
func (e *Engine) dispatchToolCalls(ctx context.Context, calls []provider.AccumulatedToolUse) {
	for _, call := range calls {
		if e.isCancelled() {
			return
		}
		tool, ok := e.cfg.Tools.Get(call.Name)
		if !ok {
			outcome := convo.ToolOutcome{OK: false, Error: fmt.Sprintf("unknown tool %q", call.Name)}
			e.appendEntry(convo.Entry{Kind: convo.EntryTool, ToolName: call.Name, ToolCallID: call.ID, ToolResult: &outcome})
			continue
		}
		switch e.cfg.Tools.GetApprovalPolicy(call.Name) {
		case tools.PolicyWrite:
			// The tool entry is the call's record; its result is delivered
			// through the diff_review entry, never through ToolResult.
			toolEntryID := newID()
			e.appendEntry(convo.Entry{ID: toolEntryID, Kind: convo.EntryTool, ToolName: call.Name, ToolCallID: call.ID})
			e.dispatchWrite(ctx, tool, call, toolEntryID)
		case tools.PolicyShell:
			toolEntryID := newID()
			e.appendEntry(convo.Entry{ID: toolEntryID, Kind: convo.EntryTool, ToolName: call.Name, ToolCallID: call.ID})
			e.dispatchShell(ctx, call, toolEntryID)
		default:
			e.dispatchReadOnly(ctx, tool, call)
		}
	}
}

func (e *Engine) dispatchReadOnly(ctx context.Context, tool tools.Tool, call provider.AccumulatedToolUse) {
	result, err := tool.Execute(ctx, call.Input)
	outcome := toolOutcomeFromResult(result, err)
	e.appendEntry(convo.Entry{Kind: convo.EntryTool, ToolName: call.Name, ToolCallID: call.ID, ToolResult: &outcome})
}

// dispatchWrite runs a two-phase write tool's prepare step, then either
// applies it immediately (edits auto-accept enabled) or suspends on a
// diff_review gate until a human resolves it.
func (e *Engine) dispatchWrite(ctx context.Context, tool tools.Tool, call provider.AccumulatedToolUse, toolEntryID string) {
	result, err := tool.Execute(ctx, call.Input)
	if err != nil || result.Status == "error" {
		outcome := toolOutcomeFromResult(result, err)
		e.mutateEntry(toolEntryID, func(entry *convo.Entry) { entry.ToolResult = &outcome })
		return
	}

	data, _ := result.Data.(map[string]any)
	payload, _ := data["applyPayload"].(edits.Payload)
	diffs := diffSummariesFromData(data)

	e.mu.Lock()
	e.writeToolCallIDs[call.ID] = true
	e.mu.Unlock()

	autoAccept, _ := e.cfg.AutoAccept.IsEditsAutoAcceptEnabled(ctx)
	if autoAccept {
		id := newID()
		e.appendEntry(convo.Entry{
			ID: id, Kind: convo.EntryDiffReview, ToolCallID: call.ID,
			Diffs: diffs, FilesChanged: len(diffs), ApplyPayload: payload, ReviewStatus: convo.ReviewAlways,
		})
		e.applyAndResolve(id, toolEntryID, payload, convo.ReviewAlways)
		return
	}

	id := newID()
	g := gate.New(id, gate.KindWrite)
	if err := e.gates.Open(g); err != nil {
		logger.Warn("orchestrator", "could not open write review gate", map[string]interface{}{"error": err.Error()})
		return
	}
	e.mu.Lock()
	e.pendingReviewID = id
	e.mu.Unlock()
	e.appendEntry(convo.Entry{
		ID: id, Kind: convo.EntryDiffReview, ToolCallID: call.ID,
		Diffs: diffs, FilesChanged: len(diffs), ApplyPayload: payload, ReviewStatus: convo.ReviewPending,
	})

	d, waitErr := waitWithContext(ctx, g)
	e.mu.Lock()
	e.pendingReviewID = ""
	e.mu.Unlock()
	if waitErr != nil {
		e.mutateEntry(id, func(entry *convo.Entry) { entry.ReviewStatus = convo.ReviewRejected })
		return
	}

	switch d.Write {
	case gate.WriteAccepted:
		e.applyAndResolve(id, toolEntryID, payload, convo.ReviewAccepted)
	case gate.WriteAlways:
		if err := e.cfg.AutoAccept.EnableEditsAutoAccept(ctx); err != nil {
			logger.Warn("orchestrator", "failed to persist edits auto-accept", map[string]interface{}{"error": err.Error()})
		}
		e.applyAndResolve(id, toolEntryID, payload, convo.ReviewAlways)
	default:
		e.mutateEntry(id, func(entry *convo.Entry) { entry.ReviewStatus = convo.ReviewRejected })
	}
}

func (e *Engine) applyAndResolve(id, toolEntryID string, payload edits.Payload, status convo.ReviewStatus) {
	stats, err := apply.Apply(e.cfg.RepoRoot, payload)
	e.mutateEntry(id, func(entry *convo.Entry) {
		entry.ReviewStatus = status
		if err != nil {
			entry.Applied = false
			entry.ApplyStats = map[string]any{"applied": false, "reason": err.Error()}
			return
		}
		entry.Applied = true
		entry.ApplyStats = stats
	})
	// Display text only: the wire builder delivers the result through the
	// diff_review entry, never through this ToolResult.
	display := fmt.Sprintf("+%d/-%d", stats.LinesAdded, stats.LinesRemoved)
	if err != nil {
		display = "apply failed: " + err.Error()
	}
	e.mutateEntry(toolEntryID, func(entry *convo.Entry) {
		entry.ToolResult = &convo.ToolOutcome{OK: err == nil, Data: display}
	})
}

// dispatchShell bypasses tools.Tool.Execute entirely so the command can be
// gated before a single byte of it runs, via the orchestrator's own
// ShellRunner handle.
func (e *Engine) dispatchShell(ctx context.Context, call provider.AccumulatedToolUse, toolEntryID string) {
	command, _ := call.Input["command"].(string)
	if command == "" {
		outcome := convo.ToolOutcome{OK: false, Error: "command is required"}
		e.mutateEntry(toolEntryID, func(entry *convo.Entry) { entry.ToolResult = &outcome })
		return
	}
	timeout := e.cfg.ShellTimeoutDefault
	if ms := toInt(call.Input["timeout_ms"]); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	e.mu.Lock()
	e.shellToolCallIDs[call.ID] = true
	e.mu.Unlock()

	// A dangerous command never takes a fast path: not the repo's shell
	// auto-approve flag, not a stale allowlist entry.
	if !e.shellPolicy.IsDangerous(command) {
		if auto, _ := e.cfg.AutoAccept.IsShellAutoApproveEnabled(ctx); auto {
			e.runShellAndRecord(ctx, newID(), call.ID, command, timeout, convo.ReviewAuto)
			return
		}
		if allowed, _ := e.cfg.Allowlist.IsCommandAllowed(ctx, command); allowed {
			e.runShellAndRecord(ctx, newID(), call.ID, command, timeout, convo.ReviewAlways)
			return
		}
	}

	id := newID()
	g := gate.New(id, gate.KindShell)
	if err := e.gates.Open(g); err != nil {
		logger.Warn("orchestrator", "could not open shell review gate", map[string]interface{}{"error": err.Error()})
		return
	}
	e.mu.Lock()
	e.pendingReviewID = id
	e.mu.Unlock()
	e.appendEntry(convo.Entry{
		ID: id, Kind: convo.EntryShellReview, ToolCallID: call.ID,
		Command: command, TimeoutMs: int(timeout / time.Millisecond), ReviewStatus: convo.ReviewPending,
	})

	d, waitErr := waitWithContext(ctx, g)
	e.mu.Lock()
	e.pendingReviewID = ""
	e.mu.Unlock()
	if waitErr != nil {
		e.mutateEntry(id, func(entry *convo.Entry) {
			entry.ReviewStatus = convo.ReviewDenied
			entry.ShellResult = &convo.ShellResult{OK: false, Denied: true, Error: "cancelled"}
		})
		return
	}

	switch d.Shell {
	case gate.ShellRan:
		e.runShellInto(ctx, id, command, timeout, convo.ReviewRan)
	case gate.ShellAlways:
		if err := e.cfg.Allowlist.AllowCommand(ctx, command); err != nil {
			logger.Warn("orchestrator", "failed to persist shell allowlist entry", map[string]interface{}{"error": err.Error()})
		}
		e.runShellInto(ctx, id, command, timeout, convo.ReviewAlways)
	case gate.ShellAuto:
		if err := e.cfg.AutoAccept.EnableShellAutoApprove(ctx); err != nil {
			logger.Warn("orchestrator", "failed to persist shell auto-approve", map[string]interface{}{"error": err.Error()})
		}
		e.runShellInto(ctx, id, command, timeout, convo.ReviewAuto)
	default:
		e.mutateEntry(id, func(entry *convo.Entry) {
			entry.ReviewStatus = convo.ReviewDenied
			entry.ShellResult = &convo.ShellResult{OK: false, Denied: true}
		})
	}
}

// runShellAndRecord appends an already-resolved shell_review entry (the
// allowlisted/auto-approved fast paths, which never suspend) and runs it.
func (e *Engine) runShellAndRecord(ctx context.Context, entryID, callID, command string, timeout time.Duration, status convo.ReviewStatus) {
	e.appendEntry(convo.Entry{
		ID: entryID, Kind: convo.EntryShellReview, ToolCallID: callID,
		Command: command, TimeoutMs: int(timeout / time.Millisecond), ReviewStatus: status,
	})
	e.runShellInto(ctx, entryID, command, timeout, status)
}

func (e *Engine) runShellInto(ctx context.Context, entryID, command string, timeout time.Duration, status convo.ReviewStatus) {
	shellCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.shellCancel = cancel
	e.mu.Unlock()
	res, err := e.cfg.ShellSvc.Run(shellCtx, command, timeout)
	cancel()
	e.mu.Lock()
	e.shellCancel = nil
	e.mu.Unlock()

	result := &convo.ShellResult{}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.OK = true
		result.Stdout = res.Stdout
		result.ExitCode = res.ExitCode
		result.DurationMs = res.DurationMs
	}
	e.mutateEntry(entryID, func(entry *convo.Entry) {
		entry.ReviewStatus = status
		entry.ShellResult = result
	})
}

func toolOutcomeFromResult(result api.ToolResult, err error) convo.ToolOutcome {
	if err != nil {
		return convo.ToolOutcome{OK: false, Error: err.Error()}
	}
	if result.Status == "error" {
		msg := result.Error
		if msg == "" {
			msg = result.Content
		}
		return convo.ToolOutcome{OK: false, Error: msg}
	}
	if result.Data != nil {
		return convo.ToolOutcome{OK: true, Data: result.Data}
	}
	return convo.ToolOutcome{OK: true, Data: result.Content}
}

func diffSummariesFromData(data map[string]any) []convo.DiffSummary {
	raw, _ := data["diffsByFile"].([]map[string]any)
	out := make([]convo.DiffSummary, 0, len(raw))
	for _, d := range raw {
		out = append(out, convo.DiffSummary{
			Path:         toStr(d["path"]),
			Diff:         toStr(d["diff"]),
			LinesAdded:   toInt(d["linesAdded"]),
			LinesRemoved: toInt(d["linesRemoved"]),
		})
	}
	return out
}

func toStr(v any) string {
	s, _ := v.(string)
	return s
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
