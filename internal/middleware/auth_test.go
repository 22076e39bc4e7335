package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-room/backend/internal/service/identity"
)

func newTestAuth(t *testing.T, ttl time.Duration) *Auth {
	t.Helper()
	issuer, err := identity.NewIssuer("test-secret", ttl)
	if err != nil {
		t.Fatalf("NewIssuer err: %v", err)
	}
	return NewAuth(issuer, "tavern_session", false)
}

func protected(t *testing.T, a *Auth) http.Handler {
	return a.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			t.Fatal("principal missing from context")
		}
		w.Write([]byte(p.Participant.Identity))
	}))
}

func TestRequireAcceptsCookieBearerAndQuery(t *testing.T) {
	a := newTestAuth(t, time.Hour)
	token, err := a.Issuer().Issue(chat.Participant{Identity: "a@x.com"})
	if err != nil {
		t.Fatalf("Issue err: %v", err)
	}

	withCookie := httptest.NewRequest(http.MethodGet, "/", nil)
	withCookie.AddCookie(&http.Cookie{Name: "tavern_session", Value: token})

	withBearer := httptest.NewRequest(http.MethodGet, "/", nil)
	withBearer.Header.Set("Authorization", "Bearer "+token)

	withQuery := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)

	for name, req := range map[string]*http.Request{"cookie": withCookie, "bearer": withBearer, "query": withQuery} {
		resp := httptest.NewRecorder()
		protected(t, a).ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", name, resp.Code)
		}
		if resp.Body.String() != "a@x.com" {
			t.Fatalf("%s: unexpected identity %q", name, resp.Body.String())
		}
	}
}

func TestRequireRejectsMissingToken(t *testing.T) {
	a := newTestAuth(t, time.Hour)
	resp := httptest.NewRecorder()
	protected(t, a).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["reauth"] != LoginPath {
		t.Fatalf("expected reauth hint, got %v", body)
	}
}

func TestRequireClearsCookieWhenExpired(t *testing.T) {
	a := newTestAuth(t, time.Nanosecond)
	token, err := a.Issuer().Issue(chat.Participant{Identity: "a@x.com"})
	if err != nil {
		t.Fatalf("Issue err: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "tavern_session", Value: token})
	resp := httptest.NewRecorder()
	protected(t, a).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	cookies := resp.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cookies)
	}
}

func TestPrincipalExpired(t *testing.T) {
	now := time.Now()
	if (Principal{}).Expired(now) {
		t.Fatal("zero expiry never expires")
	}
	if !(Principal{ExpiresAt: now.Add(-time.Second)}).Expired(now) {
		t.Fatal("past expiry should be expired")
	}
}

func TestCORSPreflight(t *testing.T) {
	policy := NewOriginPolicy([]string{"http://localhost:5173/"})
	h := policy.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials, got %q", got)
	}
}

func TestCORSRejectsUnlistedOrigin(t *testing.T) {
	policy := NewOriginPolicy([]string{"http://localhost:5173"})
	reached := false
	h := policy.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	preflight := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	preflight.Header.Set("Origin", "https://evil.example")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, preflight)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}

	simple := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	simple.Header.Set("Origin", "https://evil.example")
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, simple)
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin must not be echoed, got %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("unlisted origin must not get credentials, got %q", got)
	}
	if !reached {
		t.Fatal("requests without a preflight still reach the handler")
	}
}

func TestOriginPolicyCheckRequest(t *testing.T) {
	policy := NewOriginPolicy([]string{"http://localhost:5173"})

	for _, tc := range []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.com", true}, // same host as the request
		{"http://localhost:5173", true},
		{"https://evil.example", false},
	} {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if got := policy.CheckRequest(req); got != tc.want {
			t.Fatalf("origin %q: expected %v, got %v", tc.origin, tc.want, got)
		}
	}

	if !NewOriginPolicy([]string{"*"}).Allows("https://anything.example") {
		t.Fatal("wildcard should allow any origin")
	}
	if NewOriginPolicy(nil).Allows("http://localhost:5173") {
		t.Fatal("empty policy should allow no cross-origin callers")
	}
}
