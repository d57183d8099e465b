package webhost

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"AgentEngine/pkg/engine/convo"
	"AgentEngine/pkg/engine/orchestrator"
	"AgentEngine/pkg/engine/provider"
	"AgentEngine/pkg/engine/store"
	"AgentEngine/pkg/engine/tools"
)

func TestCheckOriginLoopbackAllowedByDefault(t *testing.T) {
	s := &Server{}
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8080", true},
		{"https://evil.example.com", false},
	}
	for _, c := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if c.origin != "" {
			req.Header.Set("Origin", c.origin)
		}
		if got := s.checkOrigin(req); got != c.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", c.origin, got, c.want)
		}
	}
}

func TestCheckOriginRespectsExplicitAllowlist(t *testing.T) {
	s := &Server{cfg: Config{AllowedOrigins: []string{"https://app.example.com"}}}
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	if !s.checkOrigin(req) {
		t.Fatalf("expected the allowlisted origin to pass")
	}
	req.Header.Set("Origin", "http://localhost:3000")
	if s.checkOrigin(req) {
		t.Fatalf("localhost should not bypass an explicit allowlist")
	}
}

func TestRandomTokenIsUniquePerCall(t *testing.T) {
	a, err := randomToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := randomToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens, got %q twice", a)
	}
	if len(a) != 64 { // 32 bytes hex-encoded
		t.Fatalf("token length = %d, want 64", len(a))
	}
}

func testEngineFactory(t *testing.T) EngineFactory {
	return func(repoRoot string) (*orchestrator.Engine, error) {
		root := t.TempDir()
		allow, err := store.NewFileAllowlistStore(root)
		if err != nil {
			return nil, err
		}
		auto, err := store.NewFileAutoAcceptStore(root)
		if err != nil {
			return nil, err
		}
		p := provider.NewMockProvider(provider.MockTurn{Text: "hello from the mock", StopReason: provider.StopEndTurn})
		return orchestrator.NewEngine(orchestrator.Config{
			RepoRoot:   root,
			Provider:   p,
			Tools:      tools.NewRegistry(),
			ShellSvc:   nil,
			Allowlist:  allow,
			AutoAccept: auto,
			Model:      "mock-model",
		}), nil
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

// TestHelloSessionCreateChatRoundTrip exercises the full wire protocol: an
// unauthenticated connection must say hello first, then create a session
// and drive a no-tool-call chat round through to a pushed state update.
func TestHelloSessionCreateChatRoundTrip(t *testing.T) {
	srv, err := New(Config{EngineFactory: testEngineFactory(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(HelloMsg{Type: "hello", Token: srv.AuthToken(), ProtocolVersion: ProtocolVersion})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if env := readMsg(t, conn); env.Type != "ready" {
		t.Fatalf("expected ready, got %q", env.Type)
	}

	create, _ := json.Marshal(SessionCreateMsg{Type: "session.create"})
	if err := conn.WriteMessage(websocket.TextMessage, create); err != nil {
		t.Fatalf("write session.create: %v", err)
	}
	var created SessionCreatedMsg
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage (session.created): %v", err)
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal session.created: %v", err)
	}
	if created.Type != "session.created" || created.SessionID == "" {
		t.Fatalf("unexpected session.created: %+v", created)
	}

	send, _ := json.Marshal(ChatSendMsg{Type: "chat.send", SessionID: created.SessionID, Content: "hi", Mode: "agent"})
	if err := conn.WriteMessage(websocket.TextMessage, send); err != nil {
		t.Fatalf("write chat.send: %v", err)
	}

	sawAssistantText := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage (state): %v", err)
		}
		var stateMsg StateMsg
		if err := json.Unmarshal(data, &stateMsg); err != nil {
			continue
		}
		if stateMsg.Type != "state" {
			continue
		}
		for _, e := range stateMsg.State.Transcript {
			if e.Kind == convo.EntryAssistant && e.Content == "hello from the mock" {
				sawAssistantText = true
			}
		}
		if sawAssistantText {
			break
		}
	}
	if !sawAssistantText {
		t.Fatalf("never observed the mock provider's assistant text over the wire")
	}
}

func TestHelloRejectsWrongToken(t *testing.T) {
	srv, err := New(Config{EngineFactory: testEngineFactory(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	hello, _ := json.Marshal(HelloMsg{Type: "hello", Token: "not-the-real-token", ProtocolVersion: ProtocolVersion})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected the connection to close after a bad auth token")
	}
}
