package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"AgentEngine/pkg/engine/convo"
)

// Conversation is the persisted shape of one session: the frozen
// transcript plus the rolling summary, enough to resume where the last
// session left off. Pending reviews are never persisted — a gate cannot
// outlive the process that parked on it.
type Conversation struct {
	Transcript     []convo.Entry         `json:"transcript"`
	RollingSummary *convo.RollingSummary `json:"rollingSummary,omitempty"`
	Model          string                `json:"model,omitempty"`
}

// ConversationStore is the load/save hook for conversation persistence.
type ConversationStore interface {
	Load(ctx context.Context) (*Conversation, error)
	Save(ctx context.Context, c *Conversation) error
}

// FileConversationStore implements ConversationStore as
// .north/conversation.json under the repo root. A corrupted or missing
// file loads as nil, never as an error the caller must branch on.
type FileConversationStore struct {
	path string
	mu   sync.Mutex
}

// NewFileConversationStore roots the store at
// <repoRoot>/.north/conversation.json.
func NewFileConversationStore(repoRoot string) (*FileConversationStore, error) {
	dir := filepath.Join(repoRoot, ".north")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .north directory: %w", err)
	}
	return &FileConversationStore{path: filepath.Join(dir, "conversation.json")}, nil
}

func (s *FileConversationStore) Load(ctx context.Context) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil
	}
	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, nil
	}
	return &c, nil
}

func (s *FileConversationStore) Save(ctx context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop anything still pending: resuming a gate nobody is parked on
	// would wedge the next session.
	saved := Conversation{Model: c.Model, RollingSummary: c.RollingSummary}
	for _, entry := range c.Transcript {
		if entry.ReviewStatus == convo.ReviewPending {
			continue
		}
		saved.Transcript = append(saved.Transcript, entry)
	}

	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	data = append(data, '\n')
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp conversation: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp conversation: %w", err)
	}
	return nil
}
