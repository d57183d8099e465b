package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"AgentEngine/pkg/engine/api"
	"AgentEngine/pkg/engine/edits"
)

// EditReplaceExactTool prepares a replace-exact-match-region edit. It never
// touches disk: it verifies old_text occurs exactly once in the target
// file and returns an edits.Payload for the apply package to commit once a
// diff_review gate accepts it, following the two-phase prepare/apply model
// of the write policy.
type EditReplaceExactTool struct {
	BaseTool
	workspaceRoot string
}

// NewEditReplaceExactTool creates the tool rooted at workspaceRoot.
func NewEditReplaceExactTool(workspaceRoot string) *EditReplaceExactTool {
	return &EditReplaceExactTool{
		BaseTool: NewBaseTool(
			"edit_replace_exact",
			"Replace the first exact occurrence of old_text with new_text in a file. Fails if old_text does not occur exactly once.",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "File path relative to the repo root", Required: true},
				{Name: "old_text", Type: "string", Description: "Exact text to replace", Required: true},
				{Name: "new_text", Type: "string", Description: "Replacement text", Required: true},
			},
			api.RiskHigh,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *EditReplaceExactTool) ApprovalPolicy() ApprovalPolicy { return PolicyWrite }

func (t *EditReplaceExactTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	path := GetStringArg(args, "path", "")
	oldText := GetStringArg(args, "old_text", "")
	newText := GetStringArg(args, "new_text", "")
	if path == "" || oldText == "" {
		return toolErrorf("path and old_text are required"), nil
	}

	absPath, err := resolvePathInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return toolError(err), nil
	}

	original, err := os.ReadFile(absPath)
	if err != nil {
		return toolErrorf("failed to read %s: %v", path, err), nil
	}

	count := strings.Count(string(original), oldText)
	if count == 0 {
		return toolErrorf("old_text not found in %s", path), nil
	}
	if count > 1 {
		return toolErrorf("old_text matches %d times in %s, expected exactly 1", count, path), nil
	}

	updated := strings.Replace(string(original), oldText, newText, 1)
	_, added, removed := renderLineDiff(string(original), updated)

	payload := edits.Payload{
		Operations: []edits.Operation{{Kind: edits.OpReplaceExact, Path: path, OldText: oldText, NewText: newText}},
		Diffs:      []edits.DiffEntry{{Path: path, Before: string(original), After: updated, Added: added, Removed: removed}},
	}

	return successResult(fmt.Sprintf("prepared edit to %s (+%d/-%d)", path, added, removed), writeToolData(payload, 1, added, removed)), nil
}

// writeToolData is the shape every write tool returns:
// {diffsByFile[], applyPayload, stats{filesChanged, totalLinesAdded, totalLinesRemoved}}.
func writeToolData(payload edits.Payload, filesChanged, added, removed int) map[string]any {
	diffsByFile := make([]map[string]any, 0, len(payload.Diffs))
	for _, d := range payload.Diffs {
		diffsByFile = append(diffsByFile, map[string]any{
			"path":         d.Path,
			"diff":         renderUnifiedDiffText(d),
			"linesAdded":   d.Added,
			"linesRemoved": d.Removed,
		})
	}
	return map[string]any{
		"diffsByFile":  diffsByFile,
		"applyPayload": payload,
		"stats": map[string]any{
			"filesChanged":     filesChanged,
			"totalLinesAdded":  added,
			"totalLinesRemoved": removed,
		},
	}
}

func renderUnifiedDiffText(d edits.DiffEntry) string {
	diff, _, _ := renderLineDiff(d.Before, d.After)
	return diff
}

// renderLineDiff builds a simple +/- line diff for the review preview.
// The rendering is local and advisory, so a positional comparison is
// enough.
func renderLineDiff(before, after string) (diff string, added, removed int) {
	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")

	var sb strings.Builder
	max := len(beforeLines)
	if len(afterLines) > max {
		max = len(afterLines)
	}
	for i := 0; i < max; i++ {
		var b, a string
		hasB := i < len(beforeLines)
		hasA := i < len(afterLines)
		if hasB {
			b = beforeLines[i]
		}
		if hasA {
			a = afterLines[i]
		}
		if hasB && hasA && b == a {
			continue
		}
		if hasB {
			sb.WriteString("-" + b + "\n")
			removed++
		}
		if hasA {
			sb.WriteString("+" + a + "\n")
			added++
		}
	}
	return sb.String(), added, removed
}
