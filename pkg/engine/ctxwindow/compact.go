package ctxwindow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"AgentEngine/pkg/engine/convo"
	"AgentEngine/pkg/engine/prompts"
	"AgentEngine/pkg/engine/provider"
)

// TrimTranscript keeps the last KeepLastEntries user-or-assistant entries
// plus every non-pending review entry, dropping tool and command_executed
// entries that fall outside the kept window — the fixed-N Entry-based
// counterpart to findTurnSplitIndex's turn-boundary-safety tracking: a
// tool entry is only dropped if the assistant turn that produced its
// tool_use has itself fallen out of the kept window, so a live
// tool_use/tool_result pairing is never split.
func TrimTranscript(transcript []convo.Entry, keepLast int) []convo.Entry {
	if keepLast <= 0 {
		keepLast = KeepLastEntries
	}

	// Find the index of the keepLast-th-from-end user/assistant entry.
	uaCount := 0
	splitIdx := 0
	for i := len(transcript) - 1; i >= 0; i-- {
		k := transcript[i].Kind
		if k == convo.EntryUser || k == convo.EntryAssistant {
			uaCount++
			if uaCount == keepLast {
				splitIdx = i
				break
			}
		}
	}
	if uaCount < keepLast {
		return transcript // nothing to trim
	}

	kept := make([]convo.Entry, 0, len(transcript))
	for i, e := range transcript {
		if i >= splitIdx {
			kept = append(kept, e)
			continue
		}
		switch e.Kind {
		case convo.EntryDiffReview, convo.EntryShellReview, convo.EntryCommandReview:
			if e.ReviewStatus != convo.ReviewPending {
				kept = append(kept, e)
			}
		case convo.EntryTool, convo.EntryCommandExecuted, convo.EntryUser, convo.EntryAssistant:
			// dropped: falls outside the kept window
		}
	}
	return kept
}

// GenerateSummary asks p for the five-field structured summary described
// by the data model's RollingSummary, using no tools and a summarizer
// system prompt. Parsing is defensive: on any failure the caller should
// skip compaction rather than propagate an error up to the run loop,
// exactly as an invalid config file or provider JSON delta is treated
// elsewhere as "absent, never throw".
func GenerateSummary(ctx context.Context, p provider.Provider, model string, existing *convo.RollingSummary, transcriptText string) (*convo.RollingSummary, error) {
	systemPrompt := prompts.DefaultLoader.Get(prompts.CompressSummary)
	if systemPrompt == "" {
		systemPrompt = "Summarize this conversation as a JSON object with fields: goal, decisions, constraints, openTasks, importantFiles."
	}

	var sb strings.Builder
	if existing != nil {
		sb.WriteString("## Previous summary\n")
		b, _ := json.Marshal(existing)
		sb.Write(b)
		sb.WriteString("\n\n## New activity to summarize\n")
	} else {
		sb.WriteString("## Conversation to summarize\n")
	}
	sb.WriteString(transcriptText)

	stream, err := p.Stream(ctx, []provider.Message{{Role: "user", Content: sb.String()}}, provider.StreamOptions{
		Model:        model,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("ctxwindow: summarizer request failed: %w", err)
	}
	acc, err := provider.Drain(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("ctxwindow: summarizer stream failed: %w", err)
	}

	var parsed convo.RollingSummary
	if err := json.Unmarshal([]byte(extractJSONObject(acc.Text)), &parsed); err != nil {
		return nil, fmt.Errorf("ctxwindow: summarizer returned unparsable JSON: %w", err)
	}
	return &parsed, nil
}

// extractJSONObject returns the substring spanning the first '{' to the
// last '}' in s, tolerating a summarizer that wraps its JSON in prose or a
// code fence.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "{}"
	}
	return s[start : end+1]
}
