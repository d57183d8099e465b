package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"AgentEngine/pkg/engine/convo"
	"AgentEngine/pkg/engine/provider"
)

// wireBuild is the result of projecting a transcript into the Provider's
// wire-message shape: the opaque messages themselves, plus the flattened
// embedded text fields ctxwindow.EstimateTokens sums over (tool_use JSON
// and tool_result text, not the opaque envelope).
type wireBuild struct {
	Messages   []provider.Message
	TextBlocks []string
}

// buildWireMessages is a pure function of its arguments — no Engine state
// is read outside what is passed in — so the projection from transcript to
// wire messages is fully determined by (transcript, rolling summary,
// external-context blocks) and rebuilding it is always safe.
func buildWireMessages(
	p provider.Provider,
	transcript []convo.Entry,
	toolCallsByAssistant map[string][]convo.ToolCall,
	writeToolCallIDs map[string]bool,
	shellToolCallIDs map[string]bool,
	rollingSummary *convo.RollingSummary,
	contextBlocks []string,
) wireBuild {
	var wb wireBuild
	appendAck := func(text string) {
		wb.Messages = append(wb.Messages, provider.Message{Role: "user", Content: text})
		wb.TextBlocks = append(wb.TextBlocks, text)
		ack := "I understand."
		wb.Messages = append(wb.Messages, p.BuildAssistantMessage(ack, nil))
		wb.TextBlocks = append(wb.TextBlocks, ack)
	}

	for _, block := range contextBlocks {
		appendAck(block)
	}
	if rollingSummary != nil {
		appendAck(renderRollingSummary(rollingSummary))
	}

	var pending []provider.ToolResult
	var pendingText []string
	flush := func() {
		if len(pending) == 0 {
			return
		}
		wb.Messages = append(wb.Messages, p.BuildToolResultMessage(pending))
		wb.TextBlocks = append(wb.TextBlocks, pendingText...)
		pending = nil
		pendingText = nil
	}

	for _, entry := range transcript {
		switch entry.Kind {
		case convo.EntryUser:
			flush()
			wb.Messages = append(wb.Messages, provider.Message{Role: "user", Content: entry.Content})
			wb.TextBlocks = append(wb.TextBlocks, entry.Content)

		case convo.EntryAssistant:
			flush()
			calls := toolCallsByAssistant[entry.ID]
			acc := make([]provider.AccumulatedToolUse, 0, len(calls))
			for _, c := range calls {
				acc = append(acc, provider.AccumulatedToolUse{ID: c.ID, Name: c.Name, Input: c.Input})
				if raw, err := json.Marshal(c.Input); err == nil {
					wb.TextBlocks = append(wb.TextBlocks, string(raw))
				}
			}
			wb.Messages = append(wb.Messages, p.BuildAssistantMessage(entry.Content, acc))
			wb.TextBlocks = append(wb.TextBlocks, entry.Content)

		case convo.EntryTool:
			if entry.ToolResult == nil {
				continue
			}
			if writeToolCallIDs[entry.ToolCallID] || shellToolCallIDs[entry.ToolCallID] {
				continue // reported via the corresponding *_review entry instead
			}
			content, isErr := toolResultContent(entry.ToolResult)
			pending = append(pending, provider.ToolResult{ToolUseID: entry.ToolCallID, Content: content, IsError: isErr})
			pendingText = append(pendingText, content)

		case convo.EntryDiffReview:
			if entry.ReviewStatus == convo.ReviewPending || entry.ToolCallID == "" {
				continue
			}
			content := renderDiffReviewResult(entry)
			pending = append(pending, provider.ToolResult{ToolUseID: entry.ToolCallID, Content: content})
			pendingText = append(pendingText, content)

		case convo.EntryShellReview:
			if entry.ReviewStatus == convo.ReviewPending || entry.ToolCallID == "" {
				continue
			}
			content, isErr := renderShellReviewResult(entry)
			pending = append(pending, provider.ToolResult{ToolUseID: entry.ToolCallID, Content: content, IsError: isErr})
			pendingText = append(pendingText, content)

		case convo.EntryCommandReview, convo.EntryCommandExecuted:
			// not sent to the model
		}
	}
	flush()

	return wb
}

func renderRollingSummary(s *convo.RollingSummary) string {
	var sb strings.Builder
	sb.WriteString("## Conversation summary so far\n\n")
	sb.WriteString("Goal: ")
	sb.WriteString(s.Goal)
	sb.WriteString("\n\nDecisions:\n")
	for _, d := range s.Decisions {
		sb.WriteString("- ")
		sb.WriteString(d)
		sb.WriteString("\n")
	}
	sb.WriteString("\nConstraints:\n")
	for _, c := range s.Constraints {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	sb.WriteString("\nOpen tasks:\n")
	for _, t := range s.OpenTasks {
		sb.WriteString("- ")
		sb.WriteString(t)
		sb.WriteString("\n")
	}
	sb.WriteString("\nImportant files:\n")
	for _, f := range s.ImportantFiles {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	return sb.String()
}

func toolResultContent(o *convo.ToolOutcome) (string, bool) {
	if !o.OK {
		if o.Error != "" {
			return o.Error, true
		}
		return "tool execution failed", true
	}
	switch v := o.Data.(type) {
	case nil:
		return "ok", false
	case string:
		return v, false
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), false
		}
		return string(raw), false
	}
}

func renderDiffReviewResult(entry convo.Entry) string {
	type result struct {
		OK      bool   `json:"ok"`
		Applied bool   `json:"applied"`
		Stats   any    `json:"stats,omitempty"`
		Reason  string `json:"reason,omitempty"`
	}
	r := result{OK: true, Applied: entry.Applied, Stats: entry.ApplyStats}
	if entry.ReviewStatus == convo.ReviewRejected {
		r.Reason = "User rejected the changes"
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func renderShellReviewResult(entry convo.Entry) (string, bool) {
	if entry.ShellResult == nil {
		return `{"ok":false,"error":"no result recorded"}`, true
	}
	raw, err := json.Marshal(entry.ShellResult)
	if err != nil {
		return "{}", true
	}
	return string(raw), !entry.ShellResult.OK
}
