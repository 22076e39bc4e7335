package history

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

var (
	ErrSessionRequired = errors.New("message session id is required")
	// ErrAppendFailed marks a store write that the realtime path recovered from.
	ErrAppendFailed = errors.New("message append failed")
)

// Log is the append-only message store. Insertion order is the canonical
// replay order; ReadOrdered returns messages oldest first.
type Log interface {
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)
	ReadOrdered(ctx context.Context, sessionID string) ([]chat.Message, error)
	Recent(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)
	Close() error
}

// sequencer stamps messages with a timestamp and a ULID that sorts in
// insertion order, even if the wall clock steps backwards.
type sequencer struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    time.Time
	now     func() time.Time
}

func newSequencer() *sequencer {
	return &sequencer{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *sequencer) stamp(msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now

	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return chat.Message{}, err
	}
	msg.ID = id.String()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	return msg, nil
}

func tail(msgs []chat.Message, limit int) []chat.Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
