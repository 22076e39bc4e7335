package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

// Claims binds a participant to a browser session.
type Claims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies browser-session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an HS256 issuer. ttl <= 0 falls back to 24h.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("identity: session secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for p.
func (i *Issuer) Issue(p chat.Participant) (string, error) {
	if p.Identity == "" {
		return "", ErrInvalidIdentity
	}
	now := i.now()
	claims := Claims{
		Name:    p.DisplayName,
		Picture: p.AvatarRef,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the participant it carries.
func (i *Issuer) Verify(token string) (chat.Participant, error) {
	p, _, err := i.VerifyWithExpiry(token)
	return p, err
}

// VerifyWithExpiry is Verify plus the instant the token stops being valid.
// Long-lived connections use it to re-check authentication per event.
func (i *Issuer) VerifyWithExpiry(token string) (chat.Participant, time.Time, error) {
	if token == "" {
		return chat.Participant{}, time.Time{}, ErrUnauthenticated
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return chat.Participant{}, time.Time{}, ErrAuthExpired
		}
		return chat.Participant{}, time.Time{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return chat.Participant{}, time.Time{}, ErrUnauthenticated
	}

	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return chat.Participant{
		Identity:    claims.Subject,
		DisplayName: claims.Name,
		AvatarRef:   claims.Picture,
	}, expires, nil
}

// Now is the issuer's clock.
func (i *Issuer) Now() time.Time {
	return i.now()
}
