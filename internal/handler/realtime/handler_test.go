package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/tavern-room/backend/internal/middleware"
	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/tavern-room/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-room/backend/internal/service/directory"
	"github.com/zhouzirui/tavern-room/backend/internal/service/history"
	"github.com/zhouzirui/tavern-room/backend/internal/service/identity"
	"github.com/zhouzirui/tavern-room/backend/internal/service/room"
)

type testEnv struct {
	server  *httptest.Server
	chatSvc *chatservice.Service
	auth    *middleware.Auth
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	chatSvc := chatservice.NewService(directory.NewMemory(), history.NewMemory(), room.NewHub(), nil, chatservice.Options{DefaultRoom: "global-room"})
	issuer, err := identity.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer err: %v", err)
	}
	auth := middleware.NewAuth(issuer, "tavern_session", false)
	h := New(chatSvc, auth, middleware.NewOriginPolicy([]string{"http://localhost:5173"}), 32)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	r.Route("/api", h.RegisterAPIRoutes)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return &testEnv{server: server, chatSvc: chatSvc, auth: auth}
}

func (e *testEnv) token(t *testing.T, email string) string {
	t.Helper()
	token, err := e.auth.Issuer().Issue(chat.Participant{Identity: email, DisplayName: strings.Split(email, "@")[0]})
	if err != nil {
		t.Fatalf("Issue err: %v", err)
	}
	return token
}

func (e *testEnv) dial(t *testing.T, email string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + e.token(t, email)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type outbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// next reads frames until one of the wanted type arrives.
func next(t *testing.T, conn *websocket.Conn, want string) outbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f outbound
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if f.Type == want {
			return f
		}
	}
}

func nextMessage(t *testing.T, conn *websocket.Conn) chat.ReceiveMessage {
	t.Helper()
	var rm chat.ReceiveMessage
	if err := json.Unmarshal(next(t, conn, chat.EventReceiveMessage).Data, &rm); err != nil {
		t.Fatalf("decode receive_message: %v", err)
	}
	return rm
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]string) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + env.token(t, "a@x.com")

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	header.Set("Origin", "http://localhost:5173")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("listed origin should connect: %v", err)
	}
	conn.Close()
}

func TestJoinAndSendAcrossConnections(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "a@x.com")
	bob := env.dial(t, "b@x.com")

	send(t, alice, map[string]string{"type": "join", "room": "R"})
	next(t, alice, chat.EventHistory)
	if got := nextMessage(t, alice); got.Message != "a@x.com has joined the room." {
		t.Fatalf("unexpected join notice: %+v", got)
	}

	send(t, bob, map[string]string{"type": "join", "room": "R"})
	next(t, bob, chat.EventHistory)
	if got := nextMessage(t, bob); got.Message != "b@x.com has joined the room." {
		t.Fatalf("unexpected join notice: %+v", got)
	}
	if got := nextMessage(t, alice); got.Message != "b@x.com has joined the room." {
		t.Fatalf("alice missed bob's join: %+v", got)
	}

	send(t, alice, map[string]string{"type": "send_message", "room": "R", "message": "hi", "target": ""})
	for _, conn := range []*websocket.Conn{alice, bob} {
		got := nextMessage(t, conn)
		if got.Message != "hi" || got.User.Identity != "a@x.com" || got.Room != "R" {
			t.Fatalf("unexpected message: %+v", got)
		}
	}
}

func TestInvalidFramesGetErrorFrames(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "a@x.com")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	next(t, conn, chat.EventError)

	send(t, conn, map[string]string{"type": "dance"})
	next(t, conn, chat.EventError)

	send(t, conn, map[string]string{"type": "send_message", "room": "R"})
	next(t, conn, chat.EventError)

	// the connection survives and keeps serving frames
	send(t, conn, map[string]string{"type": "join"})
	var replay chat.HistoryReplay
	if err := json.Unmarshal(next(t, conn, chat.EventHistory).Data, &replay); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if replay.Room != "global-room" {
		t.Fatalf("expected default room, got %q", replay.Room)
	}
}

func TestExpiredSessionGetsReauthFrame(t *testing.T) {
	env := newTestEnv(t)

	// fast-forward the handler clock past the token lifetime
	h := New(env.chatSvc, env.auth, nil, 8)
	h.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	late := httptest.NewServer(r)
	defer late.Close()

	url := "ws" + strings.TrimPrefix(late.URL, "http") + "/ws?token=" + env.token(t, "a@x.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()

	send(t, conn, map[string]string{"type": "join", "room": "R"})
	var payload chat.ErrorPayload
	if err := json.Unmarshal(next(t, conn, chat.EventError).Data, &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Reauth != middleware.LoginPath {
		t.Fatalf("expected reauth hint, got %+v", payload)
	}
}

func TestRoomEventsStreamsBroadcasts(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/rooms/R/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+env.token(t, "watcher@x.com"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		t.Helper()
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}
	waitFor("event: status")

	author := chat.Participant{Identity: "a@x.com", DisplayName: "a"}
	if _, err := env.chatSvc.Send(context.Background(), chatservice.SendInput{RoomID: "R", Participant: author, Body: "hello watchers"}); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	waitFor("event: receive_message")
	data := waitFor("data: ")
	if !strings.Contains(data, "hello watchers") {
		t.Fatalf("unexpected data line %q", data)
	}
}
