// Package apply commits a prepared edits.Payload to disk atomically: every
// operation is validated against the repo root jail and its preconditions
// before any file is touched, and writes land via temp-file-plus-rename so a
// crash mid-apply never leaves a half-written file behind.
package apply

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"AgentEngine/pkg/engine/edits"
)

// ErrWorkspaceEscape is returned when an operation's path resolves outside
// the repo root.
var ErrWorkspaceEscape = errors.New("apply: path escapes repo root")

// Apply validates and applies every operation in payload rooted at repoRoot.
// Validation (path jail, the old-text-occurs-exactly-once precondition for
// replace_exact_region, the file-must-not-exist precondition for
// create_file) runs as a first pass over the whole payload before any write
// happens, so a payload that fails validation changes nothing on disk.
// Operations on the same file apply in order, each to the result of the one
// before. Files are then written one at a time via temp-file-plus-rename; if
// a later write fails, files already written keep their new content.
func Apply(repoRoot string, payload edits.Payload) (edits.Stats, error) {
	type planned struct {
		absPath string
		content []byte
		isNew   bool
	}

	plans := make([]planned, 0, len(payload.Operations))
	stats := edits.Stats{}

	// staged holds a file's content as left by earlier operations in this
	// payload, so later operations on the same file build on it.
	staged := make(map[string]string)
	readCurrent := func(absPath string) (string, error) {
		if c, ok := staged[absPath]; ok {
			return c, nil
		}
		data, err := os.ReadFile(absPath)
		return string(data), err
	}

	for _, op := range payload.Operations {
		absPath, err := resolveInRoot(repoRoot, op.Path)
		if err != nil {
			return edits.Stats{}, err
		}

		switch op.Kind {
		case edits.OpReplaceExact:
			original, err := readCurrent(absPath)
			if err != nil {
				return edits.Stats{}, fmt.Errorf("apply: read %s: %w", op.Path, err)
			}
			count := strings.Count(string(original), op.OldText)
			if count != 1 {
				return edits.Stats{}, fmt.Errorf("apply: %s: old_text matches %d times, expected exactly 1", op.Path, count)
			}
			updated := strings.Replace(string(original), op.OldText, op.NewText, 1)
			plans = append(plans, planned{absPath: absPath, content: []byte(updated)})
			staged[absPath] = updated
			added, removed := lineDelta(string(original), updated)
			stats.LinesAdded += added
			stats.LinesRemoved += removed

		case edits.OpInsertAtLine:
			original, err := readCurrent(absPath)
			if err != nil {
				return edits.Stats{}, fmt.Errorf("apply: read %s: %w", op.Path, err)
			}
			updated, err := insertAtLine(string(original), op.Line, op.NewText)
			if err != nil {
				return edits.Stats{}, fmt.Errorf("apply: %s: %w", op.Path, err)
			}
			plans = append(plans, planned{absPath: absPath, content: []byte(updated)})
			staged[absPath] = updated
			added, removed := lineDelta(string(original), updated)
			stats.LinesAdded += added
			stats.LinesRemoved += removed

		case edits.OpCreateFile:
			if _, err := os.Stat(absPath); err == nil {
				return edits.Stats{}, fmt.Errorf("apply: %s already exists", op.Path)
			} else if !os.IsNotExist(err) {
				return edits.Stats{}, fmt.Errorf("apply: stat %s: %w", op.Path, err)
			}
			plans = append(plans, planned{absPath: absPath, content: []byte(op.NewText), isNew: true})
			staged[absPath] = op.NewText
			stats.LinesAdded += strings.Count(op.NewText, "\n") + 1

		default:
			return edits.Stats{}, fmt.Errorf("apply: unknown operation kind %q", op.Kind)
		}
	}

	changed := make(map[string]bool)
	for _, p := range plans {
		if p.isNew {
			if err := os.MkdirAll(filepath.Dir(p.absPath), 0755); err != nil {
				return edits.Stats{}, fmt.Errorf("apply: mkdir for %s: %w", p.absPath, err)
			}
		}
		tmpPath := p.absPath + ".tmp"
		if err := os.WriteFile(tmpPath, p.content, 0644); err != nil {
			return edits.Stats{}, fmt.Errorf("apply: write temp file for %s: %w", p.absPath, err)
		}
		if err := os.Rename(tmpPath, p.absPath); err != nil {
			os.Remove(tmpPath)
			return edits.Stats{}, fmt.Errorf("apply: rename temp file for %s: %w", p.absPath, err)
		}
		changed[p.absPath] = true
	}

	stats.FilesChanged = len(changed)
	stats.Applied = true
	return stats, nil
}

func resolveInRoot(repoRoot, relPath string) (string, error) {
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", fmt.Errorf("apply: invalid repo root: %w", err)
	}
	candidate := relPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(absRoot, candidate)
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("apply: invalid path %q: %w", relPath, err)
	}
	if absCandidate != absRoot && !strings.HasPrefix(absCandidate, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrWorkspaceEscape, relPath)
	}
	return absCandidate, nil
}

func insertAtLine(original string, line int, newText string) (string, error) {
	if line < 0 {
		return "", fmt.Errorf("insert line must be >= 0, got %d", line)
	}
	lines := strings.Split(original, "\n")
	insert := strings.Split(strings.TrimSuffix(newText, "\n"), "\n")

	idx := line
	if idx == 0 || idx > len(lines) {
		idx = len(lines)
	} else {
		idx = idx - 1
	}
	if idx < 0 {
		idx = 0
	}

	out := make([]string, 0, len(lines)+len(insert))
	out = append(out, lines[:idx]...)
	out = append(out, insert...)
	out = append(out, lines[idx:]...)
	return strings.Join(out, "\n"), nil
}

// lineDelta reports a crude added/removed line count between two texts,
// used only for the stats summary surfaced to the review gate.
func lineDelta(before, after string) (added, removed int) {
	b := strings.Split(before, "\n")
	a := strings.Split(after, "\n")
	bSet := counter(b)
	aSet := counter(a)
	for line, n := range aSet {
		if n > bSet[line] {
			added += n - bSet[line]
		}
	}
	for line, n := range bSet {
		if n > aSet[line] {
			removed += n - aSet[line]
		}
	}
	return added, removed
}

func counter(lines []string) map[string]int {
	m := make(map[string]int, len(lines))
	for _, l := range lines {
		m[l]++
	}
	return m
}

// SortedPaths returns the distinct file paths touched by payload, sorted,
// for stable logging/diagnostics.
func SortedPaths(payload edits.Payload) []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range payload.Operations {
		if !seen[op.Path] {
			seen[op.Path] = true
			out = append(out, op.Path)
		}
	}
	sort.Strings(out)
	return out
}
