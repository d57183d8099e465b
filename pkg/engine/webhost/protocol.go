// Package webhost implements the JSON-over-WebSocket remote View
// protocol: a fixed protocol version, a per-process random auth token checked
// on the first "hello" frame, and an origin check restricted to loopback
// (or an explicit allowlist). One connection may drive several sessions,
// each wrapping its own *orchestrator.Engine — the Web protocol is just
// another View adapter over the same orchestrator surface the terminal
// front end drives directly.
//
// The envelope shape is a flat, type-discriminated JSON object decoded
// twice — once for the discriminant, once for the typed payload — the same
// tagged-union serialization style convo.Entry uses.
package webhost

import "AgentEngine/pkg/engine/convo"

// ProtocolVersion is the fixed Web protocol version clients must match.
const ProtocolVersion = 1

// envelope is the wire shape every client→server and server→client
// message shares before being dispatched on Type.
type envelope struct {
	Type string `json:"type"`
}

// ── Client → Server ──────────────────────────────────────────────────────

// HelloMsg is the mandatory first client message. A token mismatch closes
// the connection with close code 1008 (policy violation).
type HelloMsg struct {
	Type            string `json:"type"` // "hello"
	Token           string `json:"token"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// SessionCreateMsg asks the server to open a new session against repoRoot.
type SessionCreateMsg struct {
	Type           string          `json:"type"` // "session.create"
	RepoRoot       string          `json:"repoRoot,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	InitialState   *convo.State    `json:"initialState,omitempty"`
}

// ChatSendMsg drives Engine.SendMessage for an existing session.
type ChatSendMsg struct {
	Type          string   `json:"type"` // "chat.send"
	SessionID     string   `json:"sessionId"`
	Content       string   `json:"content"`
	Mode          string   `json:"mode"` // "ask" | "agent"
	AttachedFiles []string `json:"attachedFiles,omitempty"`
}

// ReviewResolveMsg drives one of the three Resolve* methods, selected by
// Kind ("write" | "shell" | "command").
type ReviewResolveMsg struct {
	Type      string `json:"type"` // "review.resolve"
	SessionID string `json:"sessionId"`
	ReviewID  string `json:"reviewId"`
	Kind      string `json:"kind"`
	Decision  string `json:"decision"`
}

// SessionCancelMsg drives Engine.Cancel.
type SessionCancelMsg struct {
	Type      string `json:"type"` // "session.cancel"
	SessionID string `json:"sessionId"`
}

// SessionStopMsg drives Engine.Stop.
type SessionStopMsg struct {
	Type      string `json:"type"` // "session.stop"
	SessionID string `json:"sessionId"`
}

// ── Server → Client ──────────────────────────────────────────────────────

// ReadyMsg is sent once immediately after a successful hello.
type ReadyMsg struct {
	Type            string `json:"type"` // "ready"
	ProtocolVersion int    `json:"protocolVersion"`
}

// SessionCreatedMsg answers a session.create with the new session's id and
// initial state snapshot.
type SessionCreatedMsg struct {
	Type      string      `json:"type"` // "session.created"
	SessionID string      `json:"sessionId"`
	State     convo.State `json:"state"`
}

// StateMsg is pushed on every orchestrator state mutation for sessionId.
type StateMsg struct {
	Type      string      `json:"type"` // "state"
	SessionID string      `json:"sessionId"`
	State     convo.State `json:"state"`
}

// ErrorMsg reports a protocol- or session-level error. SessionID is empty
// for connection-level errors (e.g. a malformed frame before any session
// exists).
type ErrorMsg struct {
	Type      string `json:"type"` // "error"
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}
