// Package orchestrator implements the Conversation Orchestrator: the
// single-session state machine that drives streaming Provider rounds, tool
// dispatch under per-tool approval policy, suspended review gates for
// write/shell/command-picker prompts, context-window compaction, and
// cooperative cancellation. It is built around an explicit Entry
// transcript (pkg/engine/convo) and channel-based Gates (pkg/engine/gate).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"AgentEngine/pkg/engine/command"
	"AgentEngine/pkg/engine/convo"
	"AgentEngine/pkg/engine/ctxwindow"
	"AgentEngine/pkg/engine/gate"
	"AgentEngine/pkg/engine/policy"
	"AgentEngine/pkg/engine/provider"
	"AgentEngine/pkg/engine/store"
	"AgentEngine/pkg/engine/tools"
	"AgentEngine/pkg/logger"
)

// Config wires one Engine to its collaborators. Every field is required
// unless noted otherwise.
type Config struct {
	RepoRoot string // jail root for write/shell tools and .north/ storage

	Provider  provider.Provider
	Tools     *tools.Registry
	ShellSvc  ShellRunner
	Commands  *command.Registry // optional; NewRegistry() is used if nil

	Allowlist  store.AllowlistStore
	AutoAccept store.AutoAcceptStore
	ModelStore store.ModelStore // optional; model persistence is skipped if nil

	Model      string // initial model id
	ModelLimit int    // context window size in tokens for Model
	MaxTokens  int    // per-round max_tokens passed to the Provider

	SystemPrompt  string   // base system prompt (tool-usage instructions)
	ContextBlocks []string // external context blocks prepended to the wire list as ack pairs

	MaxTransientRetries int           // default 3
	RetryBaseDelay      time.Duration // default 500ms
	ShellTimeoutDefault time.Duration // default shellsvc.DefaultTimeout
}

// ShellRunner is the subset of shellsvc.Service the orchestrator drives
// directly, bypassing tools.Tool.Execute so it can gate a shell call before
// any byte of it runs. Declaring it as an interface (rather than importing
// the concrete *shellsvc.Service type) keeps this package testable against
// a stub.
type ShellRunner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (ShellResult, error)
}

// ShellResult mirrors shellsvc.Result; a local type avoids a hard package
// dependency from orchestrator onto shellsvc.
type ShellResult struct {
	Stdout     string
	ExitCode   int
	DurationMs int64
}

func withDefaults(cfg Config) Config {
	if cfg.MaxTransientRetries <= 0 {
		cfg.MaxTransientRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.ShellTimeoutDefault <= 0 {
		cfg.ShellTimeoutDefault = 60 * time.Second
	}
	if cfg.Commands == nil {
		cfg.Commands = command.NewRegistry()
	}
	if cfg.ModelLimit <= 0 {
		cfg.ModelLimit = 200_000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	return cfg
}

// Engine is the Conversation Orchestrator. One Engine serves one session;
// a multi-session deployment constructs one per session and shares nothing
// mutable between them.
type Engine struct {
	cfg Config

	mu           sync.Mutex
	transcript   []convo.Entry
	isProcessing bool
	stopped      bool
	cancelled    bool

	pendingReviewID string
	gates           gate.Manager

	currentModel   string
	rollingSummary *convo.RollingSummary

	toolCallsByAssistant map[string][]convo.ToolCall
	writeToolCallIDs     map[string]bool
	shellToolCallIDs     map[string]bool

	shellPolicy *policy.ShellPolicy

	contextUsedTokens  int
	contextLimitTokens int
	contextUsage       float64

	roundCancel context.CancelFunc
	shellCancel context.CancelFunc

	exitRequested bool

	observers []func(convo.State)
}

// NewEngine constructs an Engine ready for SendMessage.
func NewEngine(cfg Config) *Engine {
	cfg = withDefaults(cfg)
	return &Engine{
		cfg:                  cfg,
		currentModel:         cfg.Model,
		contextLimitTokens:   cfg.ModelLimit,
		toolCallsByAssistant: make(map[string][]convo.ToolCall),
		writeToolCallIDs:     make(map[string]bool),
		shellToolCallIDs:     make(map[string]bool),
		shellPolicy:          policy.NewShellPolicy(),
	}
}

// Subscribe registers fn to be called with every new state snapshot. It
// returns an unsubscribe function. fn is invoked synchronously from
// whichever goroutine triggered the mutation (normally the one running
// SendMessage); callers that need to hop onto another goroutine or UI
// thread must do so themselves.
func (e *Engine) Subscribe(fn func(convo.State)) func() {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	idx := len(e.observers) - 1
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if idx < len(e.observers) {
			e.observers[idx] = nil
		}
	}
}

// State returns the current snapshot.
func (e *Engine) State() convo.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() convo.State {
	s := convo.State{
		Transcript:         e.transcript,
		IsProcessing:       e.isProcessing,
		PendingReviewID:    e.pendingReviewID,
		CurrentModel:       e.currentModel,
		ContextUsedTokens:  e.contextUsedTokens,
		ContextLimitTokens: e.contextLimitTokens,
		ContextUsage:       e.contextUsage,
		RollingSummary:     e.rollingSummary,
	}
	return s.Clone()
}

// emit must be called with e.mu NOT held; it takes the lock itself to build
// the snapshot, then releases it before calling observers so a handler that
// calls back into the Engine (e.g. to read State()) cannot deadlock.
func (e *Engine) emit() {
	e.mu.Lock()
	snap := e.snapshotLocked()
	obs := make([]func(convo.State), 0, len(e.observers))
	for _, fn := range e.observers {
		if fn != nil {
			obs = append(obs, fn)
		}
	}
	e.mu.Unlock()
	for _, fn := range obs {
		fn(snap)
	}
}

func newID() string { return uuid.NewString() }

// appendEntry appends e to the transcript and emits a snapshot. Caller must
// NOT hold e.mu.
func (e *Engine) appendEntry(entry convo.Entry) {
	e.mu.Lock()
	entry.Ts = time.Now()
	if entry.ID == "" {
		entry.ID = newID()
	}
	e.transcript = append(e.transcript, entry)
	e.mu.Unlock()
	e.emit()
}

// mutateEntry applies fn to the entry with the given id (if found), then
// emits a snapshot.
func (e *Engine) mutateEntry(id string, fn func(*convo.Entry)) {
	e.mu.Lock()
	for i := range e.transcript {
		if e.transcript[i].ID == id {
			fn(&e.transcript[i])
			break
		}
	}
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) findEntry(id string) (convo.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.transcript {
		if entry.ID == id {
			return entry, true
		}
	}
	return convo.Entry{}, false
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// command.Context — the slash-command surface
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

func (e *Engine) SetModel(modelID string) {
	e.mu.Lock()
	e.currentModel = modelID
	e.mu.Unlock()
	if e.cfg.ModelStore != nil {
		if err := e.cfg.ModelStore.SaveSelectedModel(context.Background(), modelID); err != nil {
			logger.Warn("orchestrator", "failed to persist selected model", map[string]interface{}{"error": err.Error()})
		}
	}
	e.emit()
}

func (e *Engine) GetModel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentModel
}

// ResetChat clears the transcript, rolling summary, gates, and tool-call
// bookkeeping.
func (e *Engine) ResetChat() {
	e.mu.Lock()
	e.transcript = nil
	e.rollingSummary = nil
	e.toolCallsByAssistant = make(map[string][]convo.ToolCall)
	e.writeToolCallIDs = make(map[string]bool)
	e.shellToolCallIDs = make(map[string]bool)
	e.pendingReviewID = ""
	e.contextUsedTokens = 0
	e.contextUsage = 0
	e.mu.Unlock()
	e.gates.CancelAll()
	e.emit()
}

// RestoreConversation seeds the transcript and rolling summary from a
// previously saved conversation. Only valid on a fresh Engine, before the
// first SendMessage.
func (e *Engine) RestoreConversation(transcript []convo.Entry, summary *convo.RollingSummary) error {
	e.mu.Lock()
	if e.isProcessing || len(e.transcript) > 0 {
		e.mu.Unlock()
		return fmt.Errorf("orchestrator: can only restore into a fresh session")
	}
	e.transcript = append([]convo.Entry(nil), transcript...)
	e.rollingSummary = summary
	e.mu.Unlock()
	e.emit()
	return nil
}

func (e *Engine) SetRollingSummary(s *convo.RollingSummary) {
	e.mu.Lock()
	e.rollingSummary = s
	e.mu.Unlock()
	e.emit()
}

// GenerateSummary asks the Provider for a fresh rolling summary over the
// current transcript.
func (e *Engine) GenerateSummary(ctx context.Context) (*convo.RollingSummary, error) {
	e.mu.Lock()
	existing := e.rollingSummary
	model := e.currentModel
	text := e.transcriptText()
	e.mu.Unlock()
	return ctxwindow.GenerateSummary(ctx, e.cfg.Provider, model, existing, text)
}

func (e *Engine) TrimTranscript(keepLast int) {
	e.mu.Lock()
	e.transcript = ctxwindow.TrimTranscript(e.transcript, keepLast)
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) RequestExit() {
	e.mu.Lock()
	e.exitRequested = true
	e.mu.Unlock()
	e.Stop()
}

// ExitRequested reports whether a /exit or /quit command has run.
func (e *Engine) ExitRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitRequested
}

// ShowPicker creates a command_review entry and suspends until it is
// resolved via ResolveCommandReview, cancelled, or ctx is done.
func (e *Engine) ShowPicker(ctx context.Context, name, prompt string, options []convo.PickerOption) (string, error) {
	id := newID()
	g := gate.New(id, gate.KindCommandPicker)
	if err := e.gates.Open(g); err != nil {
		return "", err
	}
	e.mu.Lock()
	e.pendingReviewID = id
	e.mu.Unlock()
	e.appendEntry(convo.Entry{
		ID:           id,
		Kind:         convo.EntryCommandReview,
		CommandName:  name,
		Prompt:       prompt,
		Options:      options,
		ReviewStatus: convo.ReviewPending,
	})
	e.emit()

	d, err := waitWithContext(ctx, g)
	e.mu.Lock()
	e.pendingReviewID = ""
	e.mu.Unlock()
	if err != nil {
		e.mutateEntry(id, func(entry *convo.Entry) {
			entry.ReviewStatus = convo.ReviewCancelled
		})
		return "", err
	}
	e.mutateEntry(id, func(entry *convo.Entry) {
		entry.ReviewStatus = convo.ReviewSelected
		entry.SelectedID = d.SelectedID
	})
	return d.SelectedID, nil
}

func (e *Engine) GetTranscript() []convo.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]convo.Entry, len(e.transcript))
	copy(out, e.transcript)
	return out
}

// waitWithContext blocks on g.Wait() but also returns early (cancelling g)
// if ctx is done first — used by suspension points that accept a caller
// context in addition to the Engine's own cancel()/stop().
func waitWithContext(ctx context.Context, g *gate.Gate) (gate.Decision, error) {
	type result struct {
		d   gate.Decision
		err error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := g.Wait()
		ch <- result{d, err}
	}()
	select {
	case r := <-ch:
		return r.d, r.err
	case <-ctx.Done():
		g.Cancel()
		r := <-ch
		return r.d, r.err
	}
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Cancel / Stop
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// Cancel aborts the in-flight Provider round and any in-flight shell
// command, and resolves the pending gate (if any) to its terminal-reject
// decision. The run loop observes the cancelled flag at the top of its
// next iteration and exits.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	roundCancel := e.roundCancel
	shellCancel := e.shellCancel
	e.mu.Unlock()
	if roundCancel != nil {
		roundCancel()
	}
	if shellCancel != nil {
		shellCancel()
	}
	e.gates.CancelAll()
}

// Stop cancels and marks the session stopped; subsequent SendMessage calls
// are no-ops.
func (e *Engine) Stop() {
	e.Cancel()
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.emit()
}

func (e *Engine) resetCancellationForNewTurn() {
	e.mu.Lock()
	e.cancelled = false
	e.mu.Unlock()
}

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// Review resolution — the View-facing surface
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// WriteDecision mirrors the View interface's resolveWriteReview vocabulary.
type WriteDecision string

const (
	WriteDecisionAccept WriteDecision = "accept"
	WriteDecisionAlways WriteDecision = "always"
	WriteDecisionReject WriteDecision = "reject"
)

// ShellDecision mirrors the View interface's resolveShellReview vocabulary.
type ShellDecision string

const (
	ShellDecisionRun    ShellDecision = "run"
	ShellDecisionAlways ShellDecision = "always"
	ShellDecisionAuto   ShellDecision = "auto"
	ShellDecisionDeny   ShellDecision = "deny"
)

// ResolveWriteReview resolves the pending diff_review gate with id.
func (e *Engine) ResolveWriteReview(id string, decision WriteDecision) error {
	var status gate.WriteStatus
	switch decision {
	case WriteDecisionAccept:
		status = gate.WriteAccepted
	case WriteDecisionAlways:
		status = gate.WriteAlways
	case WriteDecisionReject:
		status = gate.WriteRejected
	default:
		return fmt.Errorf("orchestrator: unknown write decision %q", decision)
	}
	return e.gates.Resolve(id, gate.Decision{Write: status})
}

// ResolveShellReview resolves the pending shell_review gate with id.
func (e *Engine) ResolveShellReview(id string, decision ShellDecision) error {
	var status gate.ShellStatus
	switch decision {
	case ShellDecisionRun:
		status = gate.ShellRan
	case ShellDecisionAlways:
		status = gate.ShellAlways
	case ShellDecisionAuto:
		status = gate.ShellAuto
	case ShellDecisionDeny:
		status = gate.ShellDenied
	default:
		return fmt.Errorf("orchestrator: unknown shell decision %q", decision)
	}
	return e.gates.Resolve(id, gate.Decision{Shell: status})
}

// ResolveCommandReview resolves the pending command_review gate with id;
// selectedID == "" represents a cancelled picker.
func (e *Engine) ResolveCommandReview(id string, selectedID string) error {
	if selectedID == "" {
		return e.gates.Resolve(id, gate.Decision{Cancelled: true})
	}
	return e.gates.Resolve(id, gate.Decision{SelectedID: selectedID})
}

func (e *Engine) transcriptText() string {
	var sb []byte
	for _, entry := range e.transcript {
		switch entry.Kind {
		case convo.EntryUser:
			sb = append(sb, "User: "...)
			sb = append(sb, entry.Content...)
			sb = append(sb, '\n')
		case convo.EntryAssistant:
			sb = append(sb, "Assistant: "...)
			sb = append(sb, entry.Content...)
			sb = append(sb, '\n')
		case convo.EntryCommandExecuted:
			sb = append(sb, "Command "...)
			sb = append(sb, entry.CommandName...)
			sb = append(sb, ": "...)
			sb = append(sb, entry.Content...)
			sb = append(sb, '\n')
		}
	}
	return string(sb)
}
