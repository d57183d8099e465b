// Package prompts embeds the engine's prompt templates and lets a repo
// override any of them by dropping a same-named file under
// <repoRoot>/prompts/.
package prompts

import (
	"embed"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

//go:embed *.md
var embedded embed.FS

// Prompt names.
const (
	// CompressSummary is the summarizer system prompt used by compaction.
	CompressSummary = "compress_summary"
)

// Loader resolves prompt names to text, caching after the first load.
type Loader struct {
	repoRoot string
	mu       sync.RWMutex
	cache    map[string]string
}

// NewLoader returns a Loader that checks <repoRoot>/prompts/<name>.md
// before falling back to the embedded default. An empty repoRoot skips
// the override step entirely.
func NewLoader(repoRoot string) *Loader {
	return &Loader{repoRoot: repoRoot, cache: make(map[string]string)}
}

// DefaultLoader serves only the embedded prompts.
var DefaultLoader = NewLoader("")

// Get returns the prompt's text, or "" if the name is unknown.
func (l *Loader) Get(name string) string {
	l.mu.RLock()
	cached, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return cached
	}

	text := l.load(name)
	l.mu.Lock()
	l.cache[name] = text
	l.mu.Unlock()
	return text
}

func (l *Loader) load(name string) string {
	filename := name + ".md"
	if l.repoRoot != "" {
		if content, err := os.ReadFile(filepath.Join(l.repoRoot, "prompts", filename)); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	if content, err := embedded.ReadFile(filename); err == nil {
		return strings.TrimSpace(string(content))
	}
	return ""
}
