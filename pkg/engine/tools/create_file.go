package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"AgentEngine/pkg/engine/api"
	"AgentEngine/pkg/engine/edits"
)

// CreateFileTool prepares creation of a new file. Fails if the file
// already exists — use EditReplaceExactTool/EditInsertLineTool on existing
// files instead.
type CreateFileTool struct {
	BaseTool
	workspaceRoot string
}

func NewCreateFileTool(workspaceRoot string) *CreateFileTool {
	return &CreateFileTool{
		BaseTool: NewBaseTool(
			"create_file",
			"Create a new file with the given content. Fails if the file already exists.",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "File path relative to the repo root", Required: true},
				{Name: "content", Type: "string", Description: "File content", Required: true},
			},
			api.RiskHigh,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *CreateFileTool) ApprovalPolicy() ApprovalPolicy { return PolicyWrite }

func (t *CreateFileTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	path := GetStringArg(args, "path", "")
	content := GetStringArg(args, "content", "")
	if path == "" {
		return toolErrorf("path is required"), nil
	}

	absPath, err := resolvePathInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return toolError(err), nil
	}
	if _, err := os.Stat(absPath); err == nil {
		return toolErrorf("%s already exists", path), nil
	} else if !os.IsNotExist(err) {
		return toolErrorf("failed to stat %s: %v", path, err), nil
	}

	added := strings.Count(content, "\n") + 1
	payload := edits.Payload{
		Operations: []edits.Operation{{Kind: edits.OpCreateFile, Path: path, NewText: content}},
		Diffs:      []edits.DiffEntry{{Path: path, Before: "", After: content, Added: added, IsNew: true}},
	}

	return successResult(fmt.Sprintf("prepared new file %s (+%d)", path, added), writeToolData(payload, 1, added, 0)), nil
}
