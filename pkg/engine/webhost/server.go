package webhost

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"AgentEngine/pkg/engine/convo"
	"AgentEngine/pkg/engine/orchestrator"
	"AgentEngine/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 45 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EngineFactory builds a fresh orchestrator.Engine for a session rooted at
// repoRoot. The Server never constructs an Engine itself — collaborators
// (Provider, Tools, ShellSvc, Storage) are assembled by the caller exactly
// as a terminal front end would.
type EngineFactory func(repoRoot string) (*orchestrator.Engine, error)

// Config wires one Server instance.
type Config struct {
	EngineFactory EngineFactory

	// AllowedOrigins, if non-empty, is the explicit allowlist an Origin
	// header must match. If empty, only loopback origins (any port) are
	// accepted.
	AllowedOrigins []string
}

// Server hosts the Web protocol over one HTTP listener. A new random
// per-process auth token is minted in New and must be presented by every
// client's hello frame.
type Server struct {
	cfg       Config
	authToken string
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session // sessionID -> session
}

// New constructs a Server and mints its per-process auth token.
func New(cfg Config) (*Server, error) {
	if cfg.EngineFactory == nil {
		return nil, fmt.Errorf("webhost: EngineFactory is required")
	}
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("webhost: generate auth token: %w", err)
	}
	s := &Server{
		cfg:       cfg,
		authToken: token,
		sessions:  make(map[string]*session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// AuthToken returns the per-process token clients must echo in hello. The
// caller is responsible for handing it to the trusted local client (e.g.
// via stdout or a local file) — it is never logged.
func (s *Server) AuthToken() string {
	return s.authToken
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// checkOrigin requires the Origin header's host to be a loopback name or
// address (the port is not checked), or the Origin to match the explicit
// allowlist when one is configured.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients (CLI, tests) send no Origin header
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		for _, allowed := range s.cfg.AllowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// Handler returns the http.Handler that upgrades incoming connections.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &connHandler{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	c.run()
}

// session wraps one orchestrator.Engine plus the subset of its lifecycle
// the Web protocol drives: an unsubscribe handle so closing the connection
// stops forwarding state.
type session struct {
	id         string
	engine     *orchestrator.Engine
	unsubscribe func()
}

// connHandler owns one WebSocket connection. It may back several sessions
// (one per session.create), matching "a connection may drive several
// sessions" — the Web protocol is connection-scoped, not session-scoped.
type connHandler struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	authenticated bool

	mu       sync.Mutex
	sessions map[string]*session
}

func (c *connHandler) run() {
	c.sessions = make(map[string]*session)
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

// close tears the connection down. c.send is never closed: a state
// callback from an engine may still be inside sendJSON on another
// goroutine, and the ctx cancellation already unblocks both ends.
func (c *connHandler) close() {
	c.cancel()
	c.mu.Lock()
	for id, sess := range c.sessions {
		sess.unsubscribe()
		delete(c.sessions, id)
	}
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *connHandler) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connHandler) readLoop() {
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("", "malformed message: "+err.Error())
			continue
		}

		if !c.authenticated {
			if env.Type != "hello" {
				c.sendError("", "first message must be hello")
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "hello required"),
					time.Now().Add(writeWait))
				return
			}
			if !c.handleHello(data) {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "auth failed"),
					time.Now().Add(writeWait))
				return
			}
			continue
		}

		c.dispatch(env.Type, data)
	}
}

func (c *connHandler) handleHello(data []byte) bool {
	var msg HelloMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	if msg.Token != c.server.authToken {
		return false
	}
	if msg.ProtocolVersion != ProtocolVersion {
		c.sendError("", fmt.Sprintf("unsupported protocol version %d, expected %d", msg.ProtocolVersion, ProtocolVersion))
		return false
	}
	c.authenticated = true
	c.sendJSON(ReadyMsg{Type: "ready", ProtocolVersion: ProtocolVersion})
	return true
}

func (c *connHandler) dispatch(msgType string, data []byte) {
	switch msgType {
	case "session.create":
		c.handleSessionCreate(data)
	case "chat.send":
		c.handleChatSend(data)
	case "review.resolve":
		c.handleReviewResolve(data)
	case "session.cancel":
		c.handleSessionCancel(data)
	case "session.stop":
		c.handleSessionStop(data)
	default:
		c.sendError("", fmt.Sprintf("unknown message type %q", msgType))
	}
}

func (c *connHandler) handleSessionCreate(data []byte) {
	var msg SessionCreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "malformed session.create: "+err.Error())
		return
	}
	eng, err := c.server.cfg.EngineFactory(msg.RepoRoot)
	if err != nil {
		c.sendError("", "failed to create session: "+err.Error())
		return
	}

	id := msg.ConversationID
	if id == "" {
		id = uuid.NewString()
	}

	sess := &session{id: id, engine: eng}
	sess.unsubscribe = eng.Subscribe(func(state convo.State) {
		c.sendJSON(StateMsg{Type: "state", SessionID: id, State: state})
	})

	c.mu.Lock()
	c.sessions[id] = sess
	c.mu.Unlock()

	c.sendJSON(SessionCreatedMsg{Type: "session.created", SessionID: id, State: eng.State()})
}

func (c *connHandler) sessionFor(id string) (*session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	return sess, ok
}

func (c *connHandler) handleChatSend(data []byte) {
	var msg ChatSendMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "malformed chat.send: "+err.Error())
		return
	}
	sess, ok := c.sessionFor(msg.SessionID)
	if !ok {
		c.sendError(msg.SessionID, "unknown sessionId")
		return
	}
	mode := convo.ModeAgent
	if msg.Mode == string(convo.ModeAsk) {
		mode = convo.ModeAsk
	}
	go func() {
		if err := sess.engine.SendMessage(c.ctx, msg.Content, mode); err != nil {
			c.sendError(msg.SessionID, err.Error())
		}
	}()
}

func (c *connHandler) handleReviewResolve(data []byte) {
	var msg ReviewResolveMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "malformed review.resolve: "+err.Error())
		return
	}
	sess, ok := c.sessionFor(msg.SessionID)
	if !ok {
		c.sendError(msg.SessionID, "unknown sessionId")
		return
	}

	var err error
	switch msg.Kind {
	case "write":
		err = sess.engine.ResolveWriteReview(msg.ReviewID, orchestrator.WriteDecision(msg.Decision))
	case "shell":
		err = sess.engine.ResolveShellReview(msg.ReviewID, orchestrator.ShellDecision(msg.Decision))
	case "command":
		selectedID := msg.Decision
		if selectedID == "null" {
			selectedID = ""
		}
		err = sess.engine.ResolveCommandReview(msg.ReviewID, selectedID)
	default:
		err = fmt.Errorf("unknown review kind %q", msg.Kind)
	}
	if err != nil {
		c.sendError(msg.SessionID, err.Error())
	}
}

func (c *connHandler) handleSessionCancel(data []byte) {
	var msg SessionCancelMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "malformed session.cancel: "+err.Error())
		return
	}
	sess, ok := c.sessionFor(msg.SessionID)
	if !ok {
		c.sendError(msg.SessionID, "unknown sessionId")
		return
	}
	sess.engine.Cancel()
}

func (c *connHandler) handleSessionStop(data []byte) {
	var msg SessionStopMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "malformed session.stop: "+err.Error())
		return
	}
	sess, ok := c.sessionFor(msg.SessionID)
	if !ok {
		c.sendError(msg.SessionID, "unknown sessionId")
		return
	}
	sess.engine.Stop()
}

func (c *connHandler) sendJSON(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Warn("webhost", "failed to marshal outgoing message", map[string]interface{}{"error": err.Error()})
		return
	}
	select {
	case c.send <- raw:
	case <-c.ctx.Done():
	}
}

func (c *connHandler) sendError(sessionID, message string) {
	c.sendJSON(ErrorMsg{Type: "error", SessionID: sessionID, Message: message})
}
