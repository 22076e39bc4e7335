package history

import (
	"context"
	"sync"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

// MemoryLog keeps messages in process memory.
type MemoryLog struct {
	mu       sync.RWMutex
	seq      *sequencer
	messages map[string][]chat.Message
}

func NewMemory() *MemoryLog {
	return &MemoryLog{
		seq:      newSequencer(),
		messages: make(map[string][]chat.Message),
	}
}

var _ Log = (*MemoryLog)(nil)

func (l *MemoryLog) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	if msg.SessionID == "" {
		return chat.Message{}, ErrSessionRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stamped, err := l.seq.stamp(msg)
	if err != nil {
		return chat.Message{}, err
	}
	l.messages[msg.SessionID] = append(l.messages[msg.SessionID], stamped)
	return stamped, nil
}

func (l *MemoryLog) ReadOrdered(_ context.Context, sessionID string) ([]chat.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]chat.Message(nil), l.messages[sessionID]...), nil
}

func (l *MemoryLog) Recent(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	msgs, err := l.ReadOrdered(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return tail(msgs, limit), nil
}

func (l *MemoryLog) Close() error { return nil }
