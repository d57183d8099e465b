package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolvePathInWorkspace maps a model-supplied path onto an absolute path
// guaranteed to live inside the repo root. Escapes via "..", absolute
// paths outside the root, and symlinks pointing out of the root are all
// rejected. This is the read-side counterpart of the apply package's
// write jail; every tool resolves through it before touching the
// filesystem.
func resolvePathInWorkspace(workspaceRoot, userPath string) (string, error) {
	if strings.TrimSpace(userPath) == "" {
		userPath = "."
	}

	rootAbs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	rootAbs = filepath.Clean(rootAbs)
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace root symlinks: %w", err)
	}
	rootReal = filepath.Clean(rootReal)

	targetAbs := filepath.Clean(userPath)
	if !filepath.IsAbs(targetAbs) {
		targetAbs = filepath.Clean(filepath.Join(rootAbs, userPath))
	}
	if !isWithin(rootAbs, targetAbs) {
		return "", fmt.Errorf("path escapes workspace: %s", userPath)
	}

	if _, err := os.Lstat(targetAbs); err == nil {
		// Existing target: the lexical check above is not enough, a
		// symlink inside the root can still point outside it.
		targetReal, err := filepath.EvalSymlinks(targetAbs)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path symlinks: %w", err)
		}
		targetReal = filepath.Clean(targetReal)
		if !isWithin(rootReal, targetReal) {
			return "", fmt.Errorf("path escapes workspace via symlink: %s", userPath)
		}
		return targetReal, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat path: %w", err)
	}

	return resolveThroughParent(rootReal, targetAbs, userPath)
}

// resolveThroughParent handles a target that does not exist yet (a file a
// write tool is about to create): walk up to the nearest existing
// ancestor, resolve its symlinks, and re-join the remaining suffix so the
// final location is still checked against the real root.
func resolveThroughParent(rootReal, targetAbs, userPath string) (string, error) {
	parent := filepath.Dir(targetAbs)
	for {
		if _, err := os.Lstat(parent); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to stat parent path: %w", err)
		}
		next := filepath.Dir(parent)
		if next == parent {
			break
		}
		parent = next
	}

	parentReal, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", fmt.Errorf("failed to resolve parent symlinks: %w", err)
	}
	parentReal = filepath.Clean(parentReal)

	suffix, err := filepath.Rel(parent, targetAbs)
	if err != nil {
		return "", fmt.Errorf("failed to compute target suffix: %w", err)
	}
	if suffix == ".." || strings.HasPrefix(suffix, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", userPath)
	}

	targetReal := filepath.Clean(filepath.Join(parentReal, suffix))
	if !isWithin(rootReal, targetReal) {
		return "", fmt.Errorf("path escapes workspace via symlink: %s", userPath)
	}
	return targetReal, nil
}

// isWithin reports whether target sits at or below root, lexically.
func isWithin(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
