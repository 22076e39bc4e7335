package directory

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

// MemoryDirectory keeps sessions in process memory.
type MemoryDirectory struct {
	mu       sync.Mutex
	sessions map[string]chat.Session
	rooms    map[string]string
	now      func() time.Time
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *MemoryDirectory {
	return &MemoryDirectory{
		sessions: make(map[string]chat.Session),
		rooms:    make(map[string]string),
		now:      utcNow,
	}
}

var _ Directory = (*MemoryDirectory)(nil)

func (d *MemoryDirectory) FindOrCreateSession(_ context.Context, roomID string) (chat.Session, error) {
	if roomID == "" {
		return chat.Session{}, ErrRoomRequired
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.rooms[roomID]; ok {
		if s, ok := d.sessions[id]; ok {
			return cloneSession(s), nil
		}
	}

	s := newSession(roomID, d.now())
	d.sessions[s.ID] = s
	d.rooms[roomID] = s.ID
	return cloneSession(s), nil
}

func (d *MemoryDirectory) AddParticipant(_ context.Context, sessionID string, p chat.Participant, role chat.Role, touch bool) (chat.Session, error) {
	if p.Identity == "" {
		return chat.Session{}, ErrIdentityRequired
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	if addMember(&s, p, role, touch, d.now()) {
		d.sessions[sessionID] = s
	}
	return cloneSession(s), nil
}

func (d *MemoryDirectory) CreateFreshSession(_ context.Context, p chat.Participant) (string, error) {
	if p.Identity == "" {
		return "", ErrIdentityRequired
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s := newSession("", d.now())
	s.Participants = append(s.Participants, chat.Member{Participant: p, Role: chat.RoleHuman})
	d.sessions[s.ID] = s
	return s.ID, nil
}

func (d *MemoryDirectory) ListSessionsForParticipant(_ context.Context, identity string) ([]chat.SessionSummary, error) {
	d.mu.Lock()
	matched := make([]chat.Session, 0)
	for _, s := range d.sessions {
		if s.HasParticipant(identity) {
			matched = append(matched, s)
		}
	}
	d.mu.Unlock()

	return sortMostRecent(matched), nil
}

func (d *MemoryDirectory) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (d *MemoryDirectory) Close() error { return nil }
