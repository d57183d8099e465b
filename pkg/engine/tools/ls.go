package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"AgentEngine/pkg/engine/api"
)

// LsTool lists a directory's entries, directories first marked with a
// trailing slash, files with their sizes.
type LsTool struct {
	BaseTool
	workspaceRoot string
}

// NewLsTool creates the tool rooted at workspaceRoot.
func NewLsTool(workspaceRoot string) *LsTool {
	return &LsTool{
		BaseTool: NewBaseTool(
			"ls",
			"List files and directories in a given path. Returns file names, types, and sizes.",
			[]ParameterDef{
				{Name: "path", Type: "string", Description: "Directory path to list (relative to workspace)", Required: true},
				{Name: "all", Type: "boolean", Description: "Include hidden files (starting with .)", Required: false},
			},
			api.RiskNone,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *LsTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	path := GetStringArg(args, "path", ".")
	showAll := GetBoolArg(args, "all", false)

	absPath, err := resolvePathInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return toolError(err), nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return toolErrorf("path does not exist: %s", path), nil
		}
		return toolError(err), nil
	}

	// A file target just reports that one entry.
	if !info.IsDir() {
		return successText(entryLine(path, info)), nil
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return toolError(err), nil
	}

	var lines []string
	for _, entry := range entries {
		name := entry.Name()
		if !showAll && strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s (error: %v)", name, err))
			continue
		}
		lines = append(lines, entryLine(name, info))
	}
	sort.Strings(lines)

	if len(lines) == 0 {
		return successText("(empty directory)"), nil
	}
	return successText(strings.Join(lines, "\n")), nil
}

func entryLine(name string, info os.FileInfo) string {
	if info.IsDir() {
		return name + "/"
	}
	return fmt.Sprintf("%s (%s)", name, formatSize(info.Size()))
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
