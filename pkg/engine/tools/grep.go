package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"AgentEngine/pkg/engine/api"
)

const (
	grepResultCap   = 50          // total matches returned per call
	grepPerFileCap  = 10          // matches reported per file
	grepMaxFileSize = 1024 * 1024 // files larger than this are skipped
)

// GrepTool searches file contents for a regex (or, if the regex does not
// compile, the literal text).
type GrepTool struct {
	BaseTool
	workspaceRoot string
}

// NewGrepTool creates the tool rooted at workspaceRoot.
func NewGrepTool(workspaceRoot string) *GrepTool {
	return &GrepTool{
		BaseTool: NewBaseTool(
			"grep",
			"Search for text patterns in files. Returns matching lines with file paths and line numbers.",
			[]ParameterDef{
				{Name: "pattern", Type: "string", Description: "Text or regex pattern to search for", Required: true},
				{Name: "path", Type: "string", Description: "File or directory to search in (default: workspace root)", Required: false},
				{Name: "include", Type: "string", Description: "File glob pattern to include (e.g., *.go, *.js)", Required: false},
				{Name: "ignore_case", Type: "boolean", Description: "Case-insensitive search", Required: false},
			},
			api.RiskNone,
		),
		workspaceRoot: workspaceRoot,
	}
}

// matchLine is one hit: file, 1-indexed line, raw line text.
type matchLine struct {
	file    string
	line    int
	content string
}

func (t *GrepTool) Execute(ctx context.Context, args api.Args) (api.ToolResult, error) {
	pattern := GetStringArg(args, "pattern", "")
	if pattern == "" {
		return toolErrorf("pattern is required"), nil
	}
	searchPath := GetStringArg(args, "path", ".")
	include := GetStringArg(args, "include", "")
	if GetBoolArg(args, "ignore_case", false) {
		pattern = "(?i)" + pattern
	}

	absPath, err := resolvePathInWorkspace(t.workspaceRoot, searchPath)
	if err != nil {
		return toolError(err), nil
	}
	rootAbs, _ := filepath.Abs(t.workspaceRoot)

	re, err := regexp.Compile(pattern)
	if err != nil {
		re = regexp.MustCompile(regexp.QuoteMeta(pattern))
	}

	var files []string
	info, err := os.Stat(absPath)
	if err != nil {
		return toolErrorf("path not found: %s", searchPath), nil
	}
	if info.IsDir() {
		files, err = collectSearchFiles(absPath, include)
		if err != nil {
			return toolError(err), nil
		}
	} else {
		files = []string{absPath}
	}

	var matches []matchLine
	for _, file := range files {
		if len(matches) >= grepResultCap {
			break
		}
		hits, err := scanFile(file, re)
		if err != nil {
			continue // unreadable files are skipped, not fatal
		}
		matches = append(matches, hits...)
	}

	if len(matches) == 0 {
		return successText("No matches found for pattern: " + pattern), nil
	}

	var out strings.Builder
	for i, m := range matches {
		if i >= grepResultCap {
			fmt.Fprintf(&out, "\n... (showing first %d matches)", grepResultCap)
			break
		}
		rel, _ := filepath.Rel(rootAbs, m.file)
		fmt.Fprintf(&out, "%s:%d: %s\n", rel, m.line, strings.TrimSpace(m.content))
	}
	return successText(out.String()), nil
}

// collectSearchFiles gathers the candidate files under dir: hidden and
// dependency directories pruned, oversized and binary-looking files
// skipped, the include glob (if any) applied to base names.
func collectSearchFiles(dir, include string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") && name != "." {
				return filepath.SkipDir
			}
			switch name {
			case "node_modules", "vendor", "__pycache__":
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > grepMaxFileSize {
			return nil
		}
		if include != "" {
			if ok, _ := filepath.Match(include, d.Name()); !ok {
				return nil
			}
		}
		if looksBinary(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func scanFile(path string, re *regexp.Regexp) ([]matchLine, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var matches []matchLine
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, matchLine{file: path, line: lineNum, content: line})
			if len(matches) >= grepPerFileCap {
				break
			}
		}
	}
	return matches, scanner.Err()
}

var binaryExtensions = map[string]bool{
	".exe": true, ".bin": true, ".so": true, ".dylib": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
}

func looksBinary(path string) bool {
	return binaryExtensions[strings.ToLower(filepath.Ext(path))]
}
