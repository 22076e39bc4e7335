package directory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrMalformedSession = errors.New("session record missing session id")
	ErrRoomRequired     = errors.New("room id is required")
	ErrIdentityRequired = errors.New("participant identity is required")
)

// Directory maps sessions to rooms and participants.
//
// FindOrCreateSession is idempotent per room id; CreateFreshSession always
// mints a new session that is never indexed by room.
type Directory interface {
	FindOrCreateSession(ctx context.Context, roomID string) (chat.Session, error)
	AddParticipant(ctx context.Context, sessionID string, p chat.Participant, role chat.Role, touch bool) (chat.Session, error)
	CreateFreshSession(ctx context.Context, p chat.Participant) (string, error)
	ListSessionsForParticipant(ctx context.Context, identity string) ([]chat.SessionSummary, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	Close() error
}

func newSession(roomID string, now time.Time) chat.Session {
	return chat.Session{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		Participants: make([]chat.Member, 0, 4),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// addMember mutates s in place and reports whether anything changed.
func addMember(s *chat.Session, p chat.Participant, role chat.Role, touch bool, now time.Time) bool {
	if s.HasParticipant(p.Identity) {
		if !touch {
			return false
		}
		bump(s, now)
		return true
	}
	s.Participants = append(s.Participants, chat.Member{Participant: p, Role: role})
	bump(s, now)
	return true
}

func bump(s *chat.Session, now time.Time) {
	if now.Before(s.CreatedAt) {
		now = s.CreatedAt
	}
	if now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}

func cloneSession(s chat.Session) chat.Session {
	s.Participants = append([]chat.Member(nil), s.Participants...)
	return s
}

func sortMostRecent(sessions []chat.Session) []chat.SessionSummary {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return lo.Map(sessions, func(s chat.Session, _ int) chat.SessionSummary {
		return s.Summary()
	})
}

func utcNow() time.Time {
	return time.Now().UTC()
}
