package profile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

var (
	ErrNotFound         = errors.New("profile not found")
	ErrIdentityRequired = errors.New("profile email is required")
)

// Profile is the durable record of a signed-in user.
type Profile struct {
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	Picture     string    `json:"picture,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// Participant converts the profile back into a chat identity.
func (p Profile) Participant() chat.Participant {
	return chat.Participant{Identity: p.Email, DisplayName: p.Name, AvatarRef: p.Picture}
}

// Store records users as they log in.
//
// Upsert refreshes name and picture on every call and sets CreatedAt only the
// first time an email is seen.
type Store interface {
	Upsert(ctx context.Context, p chat.Participant) (Profile, error)
	Get(ctx context.Context, email string) (Profile, error)
	Close() error
}

// FromParticipant builds an unsaved profile, used when the store has no record.
func FromParticipant(p chat.Participant) Profile {
	return Profile{Email: p.Identity, Name: p.DisplayName, Picture: p.AvatarRef}
}

func merge(existing *Profile, p chat.Participant, now time.Time) Profile {
	out := FromParticipant(p)
	out.CreatedAt = now
	if existing != nil && !existing.CreatedAt.IsZero() {
		out.CreatedAt = existing.CreatedAt
	}
	out.LastLoginAt = now
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func utcNow() time.Time {
	return time.Now().UTC()
}
