package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

// BadgerLog stores messages under "msg:{session}:{ulid}" so a prefix scan
// yields them in insertion order.
type BadgerLog struct {
	db  *badger.DB
	seq *sequencer
}

// NewBadger wraps an open badger database. The caller owns db.
func NewBadger(db *badger.DB) *BadgerLog {
	return &BadgerLog{db: db, seq: newSequencer()}
}

var _ Log = (*BadgerLog)(nil)

func messagePrefix(sessionID string) []byte {
	return []byte("msg:" + sessionID + ":")
}

func (l *BadgerLog) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if msg.SessionID == "" {
		return chat.Message{}, ErrSessionRequired
	}
	if err := ctx.Err(); err != nil {
		return chat.Message{}, fmt.Errorf("history: append: %w", err)
	}

	stamped, err := l.seq.stamp(msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("history: stamp message: %w", err)
	}
	raw, err := json.Marshal(stamped)
	if err != nil {
		return chat.Message{}, fmt.Errorf("history: encode message: %w", err)
	}

	key := append(messagePrefix(stamped.SessionID), stamped.ID...)
	if err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	}); err != nil {
		return chat.Message{}, fmt.Errorf("history: append: %w", err)
	}
	// the write is committed; a late ctx only tells the caller it gave up waiting
	if err := ctx.Err(); err != nil {
		return chat.Message{}, fmt.Errorf("history: append: %w", err)
	}
	return stamped, nil
}

func (l *BadgerLog) ReadOrdered(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return l.scan(ctx, sessionID, 0, false)
}

func (l *BadgerLog) Recent(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return l.scan(ctx, sessionID, 0, false)
	}
	msgs, err := l.scan(ctx, sessionID, limit, true)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (l *BadgerLog) scan(ctx context.Context, sessionID string, limit int, reverse bool) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("history: read %s: %w", sessionID, err)
	}
	msgs := make([]chat.Message, 0)
	err := l.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(sessionID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = reverse
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if reverse {
			seek = append(append([]byte(nil), prefix...), 0xFF)
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(msgs) == limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var msg chat.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", sessionID, err)
	}
	return msgs, nil
}

// Close is a no-op; the badger handle is shared with the directory.
func (l *BadgerLog) Close() error { return nil }
