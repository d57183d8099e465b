package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"AgentEngine/pkg/engine/api"
	"AgentEngine/pkg/engine/edits"
)

// EditInsertLineTool prepares an insert-at-line edit: new_text is inserted
// as whole lines before the 1-based line (0 means append).
type EditInsertLineTool struct {
	BaseTool
	workspaceRoot string
}

func NewEditInsertLineTool(workspaceRoot string) *EditInsertLineTool {
	return &EditInsertLineTool{
		BaseTool: NewBaseTool(
			"edit_insert_line",
			"Insert new_text as whole lines before the given 1-based line number (0 to append at end of file).",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "File path relative to the repo root", Required: true},
				{Name: "line", Type: "integer", Description: "1-based line number to insert before; 0 appends", Required: true},
				{Name: "new_text", Type: "string", Description: "Text to insert", Required: true},
			},
			api.RiskHigh,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *EditInsertLineTool) ApprovalPolicy() ApprovalPolicy { return PolicyWrite }

func (t *EditInsertLineTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	path := GetStringArg(args, "path", "")
	line := GetIntArg(args, "line", 0)
	newText := GetStringArg(args, "new_text", "")
	if path == "" {
		return toolErrorf("path is required"), nil
	}
	if line < 0 {
		return toolErrorf("line must be >= 0"), nil
	}

	absPath, err := resolvePathInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return toolError(err), nil
	}
	original, err := os.ReadFile(absPath)
	if err != nil {
		return toolErrorf("failed to read %s: %v", path, err), nil
	}

	lines := strings.Split(string(original), "\n")
	insert := strings.Split(strings.TrimSuffix(newText, "\n"), "\n")
	idx := line
	if idx == 0 || idx > len(lines) {
		idx = len(lines)
	} else {
		idx = idx - 1
	}
	out := make([]string, 0, len(lines)+len(insert))
	out = append(out, lines[:idx]...)
	out = append(out, insert...)
	out = append(out, lines[idx:]...)
	updated := strings.Join(out, "\n")

	diff, added, removed := renderLineDiff(string(original), updated)
	_ = diff

	payload := edits.Payload{
		Operations: []edits.Operation{{Kind: edits.OpInsertAtLine, Path: path, NewText: newText, Line: line}},
		Diffs:      []edits.DiffEntry{{Path: path, Before: string(original), After: updated, Added: added, Removed: removed}},
	}

	return successResult(fmt.Sprintf("prepared insert into %s (+%d)", path, added), writeToolData(payload, 1, added, removed)), nil
}
