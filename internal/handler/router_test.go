package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zhouzirui/tavern-room/backend/internal/middleware"
	chatService "github.com/zhouzirui/tavern-room/backend/internal/service/chat"
	"github.com/zhouzirui/tavern-room/backend/internal/service/directory"
	"github.com/zhouzirui/tavern-room/backend/internal/service/history"
	"github.com/zhouzirui/tavern-room/backend/internal/service/identity"
	"github.com/zhouzirui/tavern-room/backend/internal/service/profile"
	"github.com/zhouzirui/tavern-room/backend/internal/service/room"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	chatSvc := chatService.NewService(directory.NewMemory(), history.NewMemory(), room.NewHub(), nil, chatService.Options{DefaultRoom: "lobby"})
	issuer, err := identity.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer err: %v", err)
	}
	auth := middleware.NewAuth(issuer, "tavern_session", false)
	return NewRouter(chatSvc, profile.NewMemory(), auth, middleware.NewOriginPolicy([]string{"http://localhost:5173"}), 16)
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		DefaultRoom string            `json:"default_room"`
		Responder   string            `json:"responder"`
		Rooms       chatService.Stats `json:"rooms"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DefaultRoom != "lobby" || body.Responder != "GPT" {
		t.Fatalf("unexpected health body: %+v", body)
	}
	if body.Rooms != (chatService.Stats{}) {
		t.Fatalf("expected no active rooms, got %+v", body.Rooms)
	}
}

func TestAPIRoutesAreMounted(t *testing.T) {
	r := newTestRouter(t)

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/chat_sessions", http.StatusUnauthorized},
		{http.MethodPost, "/api/new_chat", http.StatusUnauthorized},
		{http.MethodGet, "/api/chat/abc", http.StatusUnauthorized},
		{http.MethodGet, "/api/rooms/lobby/events", http.StatusUnauthorized},
		{http.MethodGet, "/ws", http.StatusUnauthorized},
		{http.MethodPost, "/api/logout", http.StatusNoContent},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
	} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(tc.method, tc.path, nil))
		if resp.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, resp.Code)
		}
	}
}
