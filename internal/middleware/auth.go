package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-room/backend/internal/service/identity"
	"github.com/zhouzirui/tavern-room/backend/pkg/utils"
)

// LoginPath is where clients re-authenticate after a 401.
const LoginPath = "/api/login"

type principalKey struct{}

// Principal is the authenticated participant of a request.
type Principal struct {
	Participant chat.Participant
	ExpiresAt   time.Time
}

// Expired reports whether the browser session ended before now.
func (p Principal) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by Auth.Require.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Auth resolves browser-session tokens into participants.
type Auth struct {
	issuer *identity.Issuer
	cookie string
	secure bool
}

// NewAuth builds the middleware around issuer.
func NewAuth(issuer *identity.Issuer, cookieName string, secure bool) *Auth {
	if cookieName == "" {
		cookieName = "tavern_session"
	}
	return &Auth{issuer: issuer, cookie: cookieName, secure: secure}
}

// Issuer exposes the token issuer for login.
func (a *Auth) Issuer() *identity.Issuer {
	return a.issuer
}

// Require rejects requests without a valid session. An expired session
// clears the cookie so the client falls back to login.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, expires, err := a.issuer.VerifyWithExpiry(a.token(r))
		if err != nil {
			if errors.Is(err, identity.ErrAuthExpired) {
				a.ClearCookie(w)
			}
			log.Printf("[auth] reject %s %s: %v", r.Method, r.URL.Path, err)
			RespondUnauthorized(w, err)
			return
		}
		ctx := WithPrincipal(r.Context(), Principal{Participant: p, ExpiresAt: expires})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetCookie stores token as the browser session.
func (a *Auth) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie drops the browser session.
func (a *Auth) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// token looks in the cookie, then the bearer header, then the token query
// parameter (browsers cannot set headers on a websocket upgrade).
func (a *Auth) token(r *http.Request) string {
	if c, err := r.Cookie(a.cookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// RespondUnauthorized writes the 401 envelope pointing at the login route.
func RespondUnauthorized(w http.ResponseWriter, err error) {
	msg := "authentication required"
	if errors.Is(err, identity.ErrAuthExpired) {
		msg = "session expired"
	}
	utils.RespondJSON(w, http.StatusUnauthorized, map[string]string{
		"error":  msg,
		"reauth": LoginPath,
	})
}
