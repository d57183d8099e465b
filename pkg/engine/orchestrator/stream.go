package orchestrator

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"AgentEngine/pkg/engine/convo"
	"AgentEngine/pkg/engine/provider"
)

// streamFlushInterval throttles how often an in-flight assistant entry's
// Content is updated from streamed text deltas — one snapshot per flush
// window, not one mutateEntry per delta, to cap View redraw rate.
const streamFlushInterval = 32 * time.Millisecond

// tappedStream decorates a provider.Stream to observe text deltas as they
// pass through, without touching the tool_use accumulation logic — that
// stays entirely inside provider.Drain so this package never duplicates
// its incomplete-tool-call detection.
type tappedStream struct {
	inner  provider.Stream
	onText func(delta string)
}

func (t *tappedStream) Next(ctx context.Context) (provider.Event, bool) {
	ev, more := t.inner.Next(ctx)
	if ev.Kind == provider.EventDelta && ev.TextDelta != "" && t.onText != nil {
		t.onText(ev.TextDelta)
	}
	return ev, more
}

// streamRound runs one Provider request to completion, updating entryID's
// Content at most once every streamFlushInterval as text streams in, then
// returns the fully-drained result.
func (e *Engine) streamRound(ctx context.Context, entryID string, messages []provider.Message, schemas []provider.ToolSchema, systemPrompt string) (provider.Accumulated, error) {
	stream, err := e.cfg.Provider.Stream(ctx, messages, provider.StreamOptions{
		Model:        e.GetModel(),
		Tools:        schemas,
		SystemPrompt: systemPrompt,
		MaxTokens:    e.cfg.MaxTokens,
	})
	if err != nil {
		return provider.Accumulated{}, err
	}

	var text strings.Builder
	lastFlush := time.Now().Add(-time.Hour)
	tapped := &tappedStream{inner: stream, onText: func(delta string) {
		text.WriteString(delta)
		if time.Since(lastFlush) >= streamFlushInterval {
			lastFlush = time.Now()
			snapshot := text.String()
			e.mutateEntry(entryID, func(entry *convo.Entry) { entry.Content = snapshot })
		}
	}}

	return provider.Drain(ctx, tapped)
}

// orphanToolUseRe matches the family of provider rejection messages for a
// tool_use block sent without its matching tool_result — the API's own
// wording varies by vendor, so this is intentionally loose rather than
// coupled to one SDK's error struct.
var orphanToolUseRe = regexp.MustCompile(`(?i)tool_use[^\n]{0,120}?without[^\n]{0,60}?tool_result[^\n]{0,80}?:\s*([A-Za-z0-9_-]{6,})`)

// detectOrphanToolUseID reports the tool_use id a provider error is
// complaining about, if any, so the run loop can drop that assistant round
// and retry without it.
func detectOrphanToolUseID(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var incomplete *provider.ErrIncompleteToolCall
	if errors.As(err, &incomplete) {
		return incomplete.ToolUseID, true
	}
	if m := orphanToolUseRe.FindStringSubmatch(err.Error()); len(m) == 2 {
		return m[1], true
	}
	return "", false
}

// retryableProviderErrRe matches transient provider/transport failures:
// rate limiting, server overload, and network-level hiccups.
var retryableProviderErrRe = regexp.MustCompile(`(?i)(rate.?limit|overloaded|too many requests|\b429\b|\b500\b|\b502\b|\b503\b|\b504\b|timed? ?out|connection reset|temporarily unavailable|i/o timeout|unexpected eof)`)

// isRetryableProviderError reports whether err looks like a transient
// failure worth an exponential-backoff retry.
func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	return retryableProviderErrRe.MatchString(err.Error())
}
