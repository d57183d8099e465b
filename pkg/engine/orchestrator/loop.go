package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"AgentEngine/pkg/engine/command"
	"AgentEngine/pkg/engine/convo"
	"AgentEngine/pkg/engine/ctxwindow"
	"AgentEngine/pkg/engine/provider"
	"AgentEngine/pkg/logger"
)

// SendMessage is the single entry point a View drives: it extracts and
// runs any leading slash-commands, then — if any LLM-bound text remains —
// appends a user entry and runs the Provider round loop to completion or
// suspension. It blocks the calling goroutine for the whole turn, parking
// at gate.Gate.Wait() whenever a review is pending; a concurrent goroutine
// resolves that gate via ResolveWriteReview/ResolveShellReview/
// ResolveCommandReview, or unblocks it early via Cancel()/Stop().
func (e *Engine) SendMessage(ctx context.Context, content string, mode convo.Mode) error {
	e.mu.Lock()
	if e.isProcessing {
		e.mu.Unlock()
		return fmt.Errorf("orchestrator: a message is already being processed")
	}
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("orchestrator: session is stopped")
	}
	e.isProcessing = true
	e.mu.Unlock()
	e.resetCancellationForNewTurn()
	e.emit()

	defer func() {
		e.mu.Lock()
		e.isProcessing = false
		e.mu.Unlock()
		e.emit()
	}()

	invocations, residual := command.ExtractLeading(content)
	for _, inv := range invocations {
		cmd, ok := e.cfg.Commands.Get(inv.Name)
		if !ok {
			e.appendEntry(convo.Entry{
				Kind:        convo.EntryCommandExecuted,
				CommandName: inv.Name,
				Content:     fmt.Sprintf("unknown command /%s", inv.Name),
			})
			continue
		}
		out, err := cmd.Run(ctx, e, inv.Args)
		if err != nil {
			out = fmt.Sprintf("error: %v", err)
		}
		e.appendEntry(convo.Entry{Kind: convo.EntryCommandExecuted, CommandName: inv.Name, Content: out})
	}

	if residual == "" {
		return nil
	}

	e.appendEntry(convo.Entry{Kind: convo.EntryUser, Content: residual})
	return e.runLoop(ctx, mode)
}

// runLoop runs one Provider round at a time until a non-tool stop reason,
// cancellation, or a terminal error. retryCount and orphanRecovered are
// scoped to the whole turn (one SendMessage call), not to an individual
// round — both the retry cap and the one-shot orphan recovery reset only
// when a new SendMessage begins.
func (e *Engine) runLoop(ctx context.Context, mode convo.Mode) error {
	retryCount := 0
	orphanRecovered := false

	for {
		if e.isCancelled() {
			return nil
		}

		entryID := newID()
		e.appendEntry(convo.Entry{ID: entryID, Kind: convo.EntryAssistant, IsStreaming: true})

		wb, estimated := e.buildWireAndMaybeCompact(ctx)

		e.mu.Lock()
		e.contextUsedTokens = estimated
		e.contextUsage = ctxwindow.Usage(estimated, e.cfg.ModelLimit)
		e.mu.Unlock()
		e.emit()

		schemas := e.toolSchemasForMode(mode)

		roundCtx, cancel := context.WithCancel(ctx)
		e.mu.Lock()
		e.roundCancel = cancel
		e.mu.Unlock()
		acc, err := e.streamRound(roundCtx, entryID, wb.Messages, schemas, e.cfg.SystemPrompt)
		cancel()
		e.mu.Lock()
		e.roundCancel = nil
		e.mu.Unlock()

		if err != nil {
			if e.isCancelled() || errors.Is(err, context.Canceled) {
				e.mutateEntry(entryID, func(entry *convo.Entry) {
					entry.IsStreaming = false
					entry.Content = "[Cancelled]"
				})
				return nil
			}
			if id, ok := detectOrphanToolUseID(err); ok && !orphanRecovered {
				orphanRecovered = true
				e.mu.Lock()
				delete(e.writeToolCallIDs, id)
				delete(e.shellToolCallIDs, id)
				e.mu.Unlock()
				e.removeEntry(entryID)
				continue
			}
			if isRetryableProviderError(err) && retryCount < e.cfg.MaxTransientRetries {
				retryCount++
				e.removeEntry(entryID)
				delay := e.cfg.RetryBaseDelay*time.Duration(1<<uint(retryCount-1)) + time.Duration(rand.Intn(250))*time.Millisecond
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			e.mutateEntry(entryID, func(entry *convo.Entry) {
				entry.IsStreaming = false
				entry.Content = fmt.Sprintf("[Error: %v]", err)
			})
			return err
		}

		if acc.StopReason == provider.StopCancelled || e.isCancelled() {
			e.mutateEntry(entryID, func(entry *convo.Entry) {
				entry.IsStreaming = false
				entry.Content = "[Cancelled]"
			})
			return nil
		}

		e.mutateEntry(entryID, func(entry *convo.Entry) {
			entry.IsStreaming = false
			entry.Content = acc.Text
		})

		if acc.StopReason != provider.StopToolUse || len(acc.ToolCalls) == 0 {
			return nil
		}

		calls := make([]convo.ToolCall, 0, len(acc.ToolCalls))
		for _, c := range acc.ToolCalls {
			calls = append(calls, convo.ToolCall{ID: c.ID, Name: c.Name, Input: c.Input})
		}
		e.mu.Lock()
		e.toolCallsByAssistant[entryID] = calls
		e.mu.Unlock()

		e.dispatchToolCalls(ctx, acc.ToolCalls)
	}
}

// buildWireAndMaybeCompact builds the wire message list, runs compaction
// at most once if usage is over threshold, and rebuilds the list if
// compaction succeeded.
func (e *Engine) buildWireAndMaybeCompact(ctx context.Context) (wireBuild, int) {
	wb, estimated := e.buildWireOnce()
	if !ctxwindow.ShouldCompact(estimated, e.cfg.ModelLimit) {
		return wb, estimated
	}
	if err := e.tryCompact(ctx); err != nil {
		logger.Warn("orchestrator", "compaction skipped", map[string]interface{}{"error": err.Error()})
		return wb, estimated
	}
	return e.buildWireOnce()
}

func (e *Engine) buildWireOnce() (wireBuild, int) {
	e.mu.Lock()
	transcript := make([]convo.Entry, len(e.transcript))
	copy(transcript, e.transcript)
	toolCalls := e.toolCallsByAssistant
	writeIDs := e.writeToolCallIDs
	shellIDs := e.shellToolCallIDs
	summary := e.rollingSummary
	e.mu.Unlock()

	wb := buildWireMessages(e.cfg.Provider, transcript, toolCalls, writeIDs, shellIDs, summary, e.cfg.ContextBlocks)
	estimated := ctxwindow.EstimateTokens(e.cfg.SystemPrompt, wb.TextBlocks)
	return wb, estimated
}

func (e *Engine) tryCompact(ctx context.Context) error {
	summary, err := e.GenerateSummary(ctx)
	if err != nil {
		return err
	}
	e.SetRollingSummary(summary)
	e.TrimTranscript(0)
	return nil
}

func (e *Engine) toolSchemasForMode(mode convo.Mode) []provider.ToolSchema {
	list := e.cfg.Tools.FilterForMode(string(mode))
	out := make([]provider.ToolSchema, 0, len(list))
	for _, t := range list {
		s := t.Schema()
		inputSchema, _ := s.Parameters.(map[string]any)
		out = append(out, provider.ToolSchema{Name: s.Name, Description: s.Description, InputSchema: inputSchema})
	}
	return out
}

func (e *Engine) removeEntry(id string) {
	e.mu.Lock()
	for i, entry := range e.transcript {
		if entry.ID == id {
			e.transcript = append(e.transcript[:i], e.transcript[i+1:]...)
			break
		}
	}
	delete(e.toolCallsByAssistant, id)
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}
