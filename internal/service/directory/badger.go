package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

// Key layout:
//
//	session:{id}              -> JSON session record
//	room:{roomID}             -> session id
//	member:{identity}\x00{id} -> empty, lets a participant's sessions be listed by prefix
const (
	sessionPrefix = "session:"
	roomPrefix    = "room:"
	memberPrefix  = "member:"
)

// BadgerDirectory persists sessions in badger. Writes are serialized by mu so
// find-or-create and participant adds never race inside one process.
type BadgerDirectory struct {
	mu  sync.Mutex
	db  *badger.DB
	now func() time.Time
}

// NewBadger wraps an open badger database. The caller owns db.
func NewBadger(db *badger.DB) *BadgerDirectory {
	return &BadgerDirectory{db: db, now: utcNow}
}

var _ Directory = (*BadgerDirectory)(nil)

func sessionKey(id string) []byte  { return []byte(sessionPrefix + id) }
func roomKey(roomID string) []byte { return []byte(roomPrefix + roomID) }
func memberKey(identity, id string) []byte {
	return []byte(memberPrefix + identity + "\x00" + id)
}
func memberScanPrefix(identity string) []byte {
	return []byte(memberPrefix + identity + "\x00")
}

// FindOrCreateSession returns the room's session. A room index pointing at a
// missing or unreadable record is repointed at a new session; the old record
// is left in place.
func (d *BadgerDirectory) FindOrCreateSession(ctx context.Context, roomID string) (chat.Session, error) {
	if roomID == "" {
		return chat.Session{}, ErrRoomRequired
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var out chat.Session
	err := d.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(roomID))
		switch {
		case err == nil:
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out, err = loadSession(txn, string(id))
			if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrMalformedSession) {
				log.Printf("[directory] room %s points at unusable session %s (%v), starting a new one", roomID, id, err)
				return d.createRoomSession(txn, roomID, &out)
			}
			return err
		case errors.Is(err, badger.ErrKeyNotFound):
			return d.createRoomSession(txn, roomID, &out)
		default:
			return err
		}
	})
	if err != nil {
		return chat.Session{}, wrapErr("find or create session", err)
	}
	return out, nil
}

func (d *BadgerDirectory) AddParticipant(ctx context.Context, sessionID string, p chat.Participant, role chat.Role, touch bool) (chat.Session, error) {
	if p.Identity == "" {
		return chat.Session{}, ErrIdentityRequired
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var out chat.Session
	err := d.update(ctx, func(txn *badger.Txn) error {
		s, err := loadSession(txn, sessionID)
		if err != nil {
			return err
		}
		isNew := !s.HasParticipant(p.Identity)
		if addMember(&s, p, role, touch, d.now()) {
			if err := putSession(txn, s); err != nil {
				return err
			}
		}
		if isNew {
			if err := txn.Set(memberKey(p.Identity, s.ID), []byte{}); err != nil {
				return err
			}
		}
		out = s
		return nil
	})
	if err != nil {
		return chat.Session{}, wrapErr("add participant", err)
	}
	return out, nil
}

func (d *BadgerDirectory) CreateFreshSession(ctx context.Context, p chat.Participant) (string, error) {
	if p.Identity == "" {
		return "", ErrIdentityRequired
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s := newSession("", d.now())
	s.Participants = append(s.Participants, chat.Member{Participant: p, Role: chat.RoleHuman})

	err := d.update(ctx, func(txn *badger.Txn) error {
		if err := putSession(txn, s); err != nil {
			return err
		}
		return txn.Set(memberKey(p.Identity, s.ID), []byte{})
	})
	if err != nil {
		return "", wrapErr("create fresh session", err)
	}
	return s.ID, nil
}

func (d *BadgerDirectory) ListSessionsForParticipant(ctx context.Context, identity string) ([]chat.SessionSummary, error) {
	var sessions []chat.Session
	err := d.view(ctx, func(txn *badger.Txn) error {
		prefix := memberScanPrefix(identity)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := string(it.Item().Key()[len(prefix):])
			s, err := loadSession(txn, id)
			if errors.Is(err, ErrMalformedSession) || errors.Is(err, ErrSessionNotFound) {
				log.Printf("[directory] skipping session %s for %s: %v", id, identity, err)
				continue
			}
			if err != nil {
				return err
			}
			sessions = append(sessions, s)
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("list sessions", err)
	}
	return sortMostRecent(sessions), nil
}

func (d *BadgerDirectory) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var out chat.Session
	err := d.view(ctx, func(txn *badger.Txn) error {
		s, err := loadSession(txn, sessionID)
		out = s
		return err
	})
	if err != nil {
		return chat.Session{}, wrapErr("get session", err)
	}
	return out, nil
}

// Close is a no-op; the badger handle is shared with the message log.
func (d *BadgerDirectory) Close() error { return nil }

func (d *BadgerDirectory) createRoomSession(txn *badger.Txn, roomID string, out *chat.Session) error {
	s := newSession(roomID, d.now())
	if err := putSession(txn, s); err != nil {
		return err
	}
	if err := txn.Set(roomKey(roomID), []byte(s.ID)); err != nil {
		return err
	}
	*out = s
	return nil
}

// update and view give up when ctx is done before or after the transaction.
// badger cannot abort a commit already in progress.
func (d *BadgerDirectory) update(ctx context.Context, fn func(*badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.db.Update(fn); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *BadgerDirectory) view(ctx context.Context, fn func(*badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.db.View(fn); err != nil {
		return err
	}
	return ctx.Err()
}

func loadSession(txn *badger.Txn, id string) (chat.Session, error) {
	if id == "" {
		return chat.Session{}, ErrSessionNotFound
	}
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return chat.Session{}, err
	}

	var s chat.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return chat.Session{}, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	if s.ID == "" {
		return chat.Session{}, ErrMalformedSession
	}
	return s, nil
}

func putSession(txn *badger.Txn, s chat.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return txn.Set(sessionKey(s.ID), raw)
}

func wrapErr(op string, err error) error {
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrMalformedSession) {
		return err
	}
	return fmt.Errorf("directory: %s: %w", op, err)
}
