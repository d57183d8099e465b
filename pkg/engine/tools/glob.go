package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"AgentEngine/pkg/engine/api"
)

// globResultCap bounds how many paths one glob call returns.
const globResultCap = 100

// GlobTool finds files matching a glob pattern. Patterns containing "**"
// walk the tree; plain patterns go through filepath.Glob.
type GlobTool struct {
	BaseTool
	workspaceRoot string
}

// NewGlobTool creates the tool rooted at workspaceRoot.
func NewGlobTool(workspaceRoot string) *GlobTool {
	return &GlobTool{
		BaseTool: NewBaseTool(
			"glob",
			"Find files matching a glob pattern (e.g., '**/*.go', 'src/*.js'). Returns matching file paths.",
			[]ParameterDef{
				{Name: "pattern", Type: "string", Description: "Glob pattern to match (e.g., **/*.go, src/**/*.ts)", Required: true},
				{Name: "path", Type: "string", Description: "Base directory to search from (default: workspace root)", Required: false},
			},
			api.RiskNone,
		),
		workspaceRoot: workspaceRoot,
	}
}

func (t *GlobTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	pattern := GetStringArg(args, "pattern", "")
	if pattern == "" {
		return toolErrorf("pattern is required"), nil
	}
	basePath := GetStringArg(args, "path", ".")

	absBase, err := resolvePathInWorkspace(t.workspaceRoot, basePath)
	if err != nil {
		return toolError(err), nil
	}
	rootAbs, _ := filepath.Abs(t.workspaceRoot)

	var matches []string
	if strings.Contains(pattern, "**") {
		matches, err = walkMatches(absBase, pattern)
	} else {
		matches, err = filepath.Glob(filepath.Join(absBase, pattern))
	}
	if err != nil {
		return toolError(err), nil
	}

	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		r, err := filepath.Rel(rootAbs, m)
		if err != nil {
			r = m
		}
		rel = append(rel, r)
	}
	sort.Strings(rel)

	if len(rel) == 0 {
		return successText("No files found matching pattern: " + pattern), nil
	}
	if len(rel) > globResultCap {
		return successText(strings.Join(rel[:globResultCap], "\n") +
			fmt.Sprintf("\n\n... (truncated, showing first %d results)", globResultCap)), nil
	}
	return successText(strings.Join(rel, "\n")), nil
}

// walkMatches implements the "**" form: the pattern splits around the
// first "**" into a literal prefix and a base-name suffix pattern, and
// every non-hidden file under basePath is checked against both.
func walkMatches(basePath, pattern string) ([]string, error) {
	prefix, suffix, _ := strings.Cut(pattern, "**")
	suffix = strings.TrimPrefix(strings.TrimPrefix(suffix, "/"), string(filepath.Separator))
	prefix = strings.TrimSuffix(prefix, "/")

	var matches []string
	err := filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(basePath, path)
		if err != nil {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(relPath, prefix) {
			return nil
		}
		if suffix != "" {
			if ok, _ := filepath.Match(suffix, filepath.Base(path)); !ok {
				return nil
			}
		}

		matches = append(matches, path)
		if len(matches) > globResultCap*2 {
			return filepath.SkipAll
		}
		return nil
	})
	return matches, err
}
