package profile

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

// MemoryStore keeps profiles in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile), now: utcNow}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Upsert(_ context.Context, p chat.Participant) (Profile, error) {
	key := normalizeEmail(p.Identity)
	if key == "" {
		return Profile{}, ErrIdentityRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *Profile
	if prev, ok := s.profiles[key]; ok {
		existing = &prev
	}
	out := merge(existing, p, s.now())
	s.profiles[key] = out
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, email string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[normalizeEmail(email)]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) Close() error { return nil }
