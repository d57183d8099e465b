// Package ctxwindow estimates prompt token usage from raw character counts
// and drives compaction once usage crosses the gating threshold. Gating is
// by estimated tokens, not turn count; trimming keeps turn boundaries
// intact (never splitting a tool_use/tool_result pair across the kept
// window).
package ctxwindow

import "math"

// CharsPerToken and Overhead implement:
//
//	estimatePromptTokens = ceil((charsSystem + charsMessages + overhead) / charsPerToken * safetyMargin)
const (
	CharsPerToken = 3.5
	Overhead      = 100
	SafetyMargin  = 1.1
)

// CompactionThreshold is the usage ratio (estimated / modelLimit) at or
// above which a compaction attempt runs before the next Provider round.
const CompactionThreshold = 0.92

// KeepLastEntries is how many trailing user-or-assistant entries compaction
// preserves verbatim.
const KeepLastEntries = 10

// EstimateTokens applies the formula to a system prompt and the flattened
// text content of every message about to be sent. textBlocks is the set of
// embedded text fields extracted from the wire message list — for
// structured content (tool_use JSON, tool_result text) callers pass just
// those substrings, never the opaque message envelope.
func EstimateTokens(systemPrompt string, textBlocks []string) int {
	chars := len(systemPrompt)
	for _, b := range textBlocks {
		chars += len(b)
	}
	raw := (float64(chars) + Overhead) / CharsPerToken * SafetyMargin
	return int(math.Ceil(raw))
}

// Usage reports estimated/limit as a ratio in [0, +inf).
func Usage(estimated, modelLimit int) float64 {
	if modelLimit <= 0 {
		return 0
	}
	return float64(estimated) / float64(modelLimit)
}

// ShouldCompact reports whether usage has crossed CompactionThreshold.
func ShouldCompact(estimated, modelLimit int) bool {
	return Usage(estimated, modelLimit) >= CompactionThreshold
}
