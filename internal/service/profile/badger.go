package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

// BadgerStore keeps one JSON record per user under "user:{email}".
type BadgerStore struct {
	mu  sync.Mutex
	db  *badger.DB
	now func() time.Time
}

// NewBadger wraps an open badger database. The caller owns db.
func NewBadger(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, now: utcNow}
}

var _ Store = (*BadgerStore)(nil)

func userKey(email string) []byte {
	return []byte("user:" + email)
}

func (s *BadgerStore) Upsert(ctx context.Context, p chat.Participant) (Profile, error) {
	key := normalizeEmail(p.Identity)
	if key == "" {
		return Profile{}, ErrIdentityRequired
	}
	if err := ctx.Err(); err != nil {
		return Profile{}, fmt.Errorf("profile: upsert: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out Profile
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := load(txn, key)
		switch {
		case errors.Is(err, ErrNotFound):
			out = merge(nil, p, s.now())
		case err != nil:
			return err
		default:
			out = merge(&existing, p, s.now())
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(userKey(key), raw)
	})
	if err != nil {
		return Profile{}, fmt.Errorf("profile: upsert %s: %w", key, err)
	}
	return out, nil
}

func (s *BadgerStore) Get(ctx context.Context, email string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, fmt.Errorf("profile: get: %w", err)
	}

	var out Profile
	err := s.db.View(func(txn *badger.Txn) error {
		p, err := load(txn, normalizeEmail(email))
		out = p
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profile: get %s: %w", email, err)
	}
	return out, nil
}

// Close is a no-op; the badger handle is shared with the other stores.
func (s *BadgerStore) Close() error { return nil }

func load(txn *badger.Txn, key string) (Profile, error) {
	item, err := txn.Get(userKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	})
	return p, err
}
