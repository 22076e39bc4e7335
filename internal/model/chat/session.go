package chat

import (
	"time"

	"github.com/samber/lo"
)

// Session is the durable record of a room's (or a private chat's) membership.
type Session struct {
	ID           string    `json:"session_id"`
	RoomID       string    `json:"room_id,omitempty"`
	Participants []Member  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasParticipant reports whether identity is already listed.
func (s Session) HasParticipant(identity string) bool {
	return lo.ContainsBy(s.Participants, func(m Member) bool {
		return m.Identity == identity
	})
}

// Summary projects the session for listing.
func (s Session) Summary() SessionSummary {
	return SessionSummary{ID: s.ID, RoomID: s.RoomID, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}

// SessionSummary is the listing shape returned for a participant's chats.
type SessionSummary struct {
	ID        string    `json:"chat_id"`
	RoomID    string    `json:"room_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
