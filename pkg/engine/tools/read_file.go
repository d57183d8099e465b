package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"AgentEngine/pkg/engine/api"
)

// readLimit caps how much of a file read_file returns in one call; larger
// files must be read in line ranges.
const readLimit = 500 * 1024

// ReadFileTool returns a file's contents, whole or as a numbered line
// range.
type ReadFileTool struct {
	BaseTool
	workspaceRoot string
}

// NewReadFileTool creates the tool rooted at workspaceRoot.
func NewReadFileTool(workspaceRoot string) *ReadFileTool {
	return &ReadFileTool{
		BaseTool: NewBaseTool(
			"read_file",
			"Read the contents of a file. Returns the file content as text. For large files, content may be truncated.",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "Path to the file to read (relative to workspace)", Required: true},
				{Name: "start_line", Type: "integer", Description: "Start line number (1-indexed, optional)", Required: false},
				{Name: "end_line", Type: "integer", Description: "End line number (1-indexed, inclusive, optional)", Required: false},
			},
			api.RiskNone,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	path := GetStringArg(args, "path", "")
	if path == "" {
		return toolErrorf("path is required"), nil
	}
	startLine := GetIntArg(args, "start_line", 0)
	endLine := GetIntArg(args, "end_line", 0)

	absPath, err := resolvePathInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return toolError(err), nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return toolErrorf("file does not exist: %s", path), nil
		}
		return toolError(err), nil
	}
	if info.IsDir() {
		return toolErrorf("path is a directory, not a file: %s", path), nil
	}
	if info.Size() > readLimit && startLine == 0 && endLine == 0 {
		return toolErrorf("file is too large (%s). Use start_line and end_line to read specific portions.",
			formatSize(info.Size())), nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return toolError(err), nil
	}

	if startLine > 0 || endLine > 0 {
		numbered, err := numberedRange(string(content), startLine, endLine)
		if err != nil {
			return toolError(err), nil
		}
		return successText(numbered), nil
	}

	text := string(content)
	if int64(len(content)) > readLimit {
		text = text[:readLimit] + "\n\n... (content truncated)"
	}
	return successText(text), nil
}

// numberedRange slices [startLine, endLine] (1-indexed, inclusive) out of
// content and prefixes each kept line with its number, so follow-up edit
// tools can cite exact locations.
func numberedRange(content string, startLine, endLine int) (string, error) {
	lines := strings.Split(content, "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine < startLine || endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine > len(lines) {
		return "", fmt.Errorf("start_line (%d) exceeds file length (%d lines)", startLine, len(lines))
	}

	var sb strings.Builder
	for i, line := range lines[startLine-1 : endLine] {
		fmt.Fprintf(&sb, "%4d: %s\n", startLine+i, line)
	}
	return sb.String(), nil
}
