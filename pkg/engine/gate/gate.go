// Package gate implements the review-gate suspension points the orchestrator
// uses to pause a turn until a human (or an auto-accept policy) resolves a
// pending write, shell command, or command-picker prompt. Each of the three
// gate kinds carries its own resolved-status vocabulary — a write is
// accepted, a shell command is run, a picker choice is selected.
package gate

import (
	"errors"
	"sync"
)

// Kind identifies which of the three suspension points a Gate represents.
type Kind string

const (
	KindWrite         Kind = "write"
	KindShell         Kind = "shell"
	KindCommandPicker Kind = "command_picker"
)

// WriteStatus is the resolved status of a write review gate.
type WriteStatus string

const (
	WriteAccepted WriteStatus = "accepted"
	WriteAlways   WriteStatus = "always"
	WriteRejected WriteStatus = "rejected"
)

// ShellStatus is the resolved status of a shell review gate.
type ShellStatus string

const (
	ShellRan    ShellStatus = "ran"
	ShellAlways ShellStatus = "always"
	ShellAuto   ShellStatus = "auto"
	ShellDenied ShellStatus = "denied"
)

// ErrAlreadyResolved is returned by Resolve when a gate has already been
// settled by a previous call (or by Cancel).
var ErrAlreadyResolved = errors.New("gate: already resolved")

// ErrCancelled is the error Wait returns if the gate was cancelled instead
// of resolved.
var ErrCancelled = errors.New("gate: cancelled")

// Decision carries whatever outcome a caller passed to Resolve, typed by
// gate Kind. Exactly one of the fields is meaningful, matching the Kind of
// the Gate it resolves.
type Decision struct {
	Write      WriteStatus
	Shell      ShellStatus
	SelectedID string // KindCommandPicker
	Cancelled  bool
}

// Gate is a one-shot suspension point: exactly one Resolve call (or one
// Cancel call) ever succeeds, the rest return ErrAlreadyResolved.
type Gate struct {
	ID   string
	Kind Kind

	mu       sync.Mutex
	resolved bool
	result   Decision
	done     chan struct{}
}

// New creates a pending gate of the given kind.
func New(id string, kind Kind) *Gate {
	return &Gate{
		ID:   id,
		Kind: kind,
		done: make(chan struct{}),
	}
}

// Resolve settles the gate with d. Only the first call wins.
func (g *Gate) Resolve(d Decision) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		return ErrAlreadyResolved
	}
	g.resolved = true
	g.result = d
	close(g.done)
	return nil
}

// Cancel settles the gate as cancelled. Only the first Resolve/Cancel call
// wins; calling Cancel on an already-resolved gate is a no-op.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		return
	}
	g.resolved = true
	g.result = Decision{Cancelled: true}
	close(g.done)
}

// Wait blocks until the gate is resolved or cancelled and returns the
// decision, or ErrCancelled if it was cancelled.
func (g *Gate) Wait() (Decision, error) {
	<-g.done
	g.mu.Lock()
	d := g.result
	g.mu.Unlock()
	if d.Cancelled {
		return d, ErrCancelled
	}
	return d, nil
}

// Manager enforces "at most one pending gate at a time" for a session and
// resolves every pending gate when the session is cancelled.
type Manager struct {
	mu      sync.Mutex
	pending *Gate
}

// Open installs g as the pending gate. It returns an error if another gate
// is already pending — the orchestrator must fully resolve one gate before
// opening the next.
func (m *Manager) Open(g *Gate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		return errors.New("gate: another review gate is already pending")
	}
	m.pending = g
	return nil
}

// Pending returns the currently pending gate, or nil.
func (m *Manager) Pending() *Gate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Resolve resolves the pending gate if its ID matches and clears it.
func (m *Manager) Resolve(id string, d Decision) error {
	m.mu.Lock()
	g := m.pending
	m.mu.Unlock()
	if g == nil || g.ID != id {
		return errors.New("gate: no pending gate with that id")
	}
	if err := g.Resolve(d); err != nil {
		return err
	}
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	return nil
}

// CancelAll cancels the pending gate, if any, unblocking any Wait() caller.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	g := m.pending
	m.pending = nil
	m.mu.Unlock()
	if g != nil {
		g.Cancel()
	}
}
