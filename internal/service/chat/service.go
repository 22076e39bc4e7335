package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-room/backend/internal/service/ai"
	"github.com/zhouzirui/tavern-room/backend/internal/service/directory"
	"github.com/zhouzirui/tavern-room/backend/internal/service/history"
	"github.com/zhouzirui/tavern-room/backend/internal/service/identity"
	"github.com/zhouzirui/tavern-room/backend/internal/service/room"
)

var ErrEmptyMessage = errors.New("message body is required")

const (
	defaultRoom         = "global-room"
	defaultStoreTimeout = 3 * time.Second
	defaultHistoryLimit = 10
)

// Options tunes the Service. Zero values fall back to defaults.
type Options struct {
	DefaultRoom  string
	StoreTimeout time.Duration
	HistoryLimit int
}

// SendInput is one send_message event.
type SendInput struct {
	RoomID      string
	Participant chat.Participant
	Body        string
	Target      string
}

// Service coordinates joins and sends across the session directory, the
// message log, the room hub and the automated responder.
//
// Within a room, operations that finish synchronously are appended and
// broadcast under one lock, so log order and delivery order agree.
// Automated replies take the same path whenever they complete.
type Service struct {
	directory directory.Directory
	messages  history.Log
	hub       *room.Hub
	gateway   *ai.Gateway
	opts      Options

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// mu orders replies.Add against Shutdown's Wait.
	mu      sync.Mutex
	closing bool
	replies sync.WaitGroup
}

// Stats is a snapshot of live delivery state.
type Stats struct {
	ActiveRooms   int `json:"active_rooms"`
	Subscriptions int `json:"subscriptions"`
}

// NewService wires the orchestrator. A nil gateway gets one without a
// responder, so addressed messages yield failure replies.
func NewService(dir directory.Directory, messages history.Log, hub *room.Hub, gateway *ai.Gateway, opts Options) *Service {
	if strings.TrimSpace(opts.DefaultRoom) == "" {
		opts.DefaultRoom = defaultRoom
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if gateway == nil {
		gateway = ai.NewGateway(nil, "", 0)
	}
	return &Service{
		directory: dir,
		messages:  messages,
		hub:       hub,
		gateway:   gateway,
		opts:      opts,
		locks:     make(map[string]*sync.Mutex),
	}
}

// DefaultRoom is the shared room used when a frame names none.
func (s *Service) DefaultRoom() string {
	return s.opts.DefaultRoom
}

// ResponderName is the routing marker that addresses the automated participant.
func (s *Service) ResponderName() string {
	return s.gateway.Name()
}

// Join resolves the room's session, records the participant, replays the
// ordered history to sub, subscribes it and announces the arrival.
func (s *Service) Join(ctx context.Context, sub room.Subscriber, roomID string, p chat.Participant) (chat.Session, []chat.Message, error) {
	if err := requireIdentity(p); err != nil {
		return chat.Session{}, nil, err
	}
	roomID = s.resolveRoom(roomID)

	session, err := s.joinSession(ctx, roomID, p)
	if err != nil {
		return chat.Session{}, nil, err
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	past := s.readHistory(ctx, session.ID)
	if payload, err := json.Marshal(chat.NewHistoryReplay(roomID, session.ID, past)); err == nil {
		if err := sub.Send(payload); err != nil {
			log.Printf("[chat] history replay dropped room=%s subscriber=%s: %v", roomID, sub.ID(), err)
		}
	}

	s.hub.Subscribe(roomID, sub)

	notice := chat.Message{
		SessionID:  session.ID,
		RoomID:     roomID,
		Author:     p.Identity,
		AuthorName: p.DisplayName,
		Role:       chat.RoleSystem,
		Body:       fmt.Sprintf("%s has joined the room.", p.Identity),
	}
	s.publishLocked(ctx, notice, p)

	log.Printf("[chat] %s joined room=%s session=%s", p.Identity, roomID, session.ID)
	return session, past, nil
}

// Send appends a human message, broadcasts it to the room and, when the
// target names the automated participant, schedules a reply.
func (s *Service) Send(ctx context.Context, in SendInput) (chat.Message, error) {
	if err := requireIdentity(in.Participant); err != nil {
		return chat.Message{}, err
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	roomID := s.resolveRoom(in.RoomID)

	session, err := s.findSession(ctx, roomID)
	if err != nil {
		return chat.Message{}, err
	}

	addressed := s.gateway.Addressed(in.Target)

	unlock := s.lockRoom(roomID)
	var window []chat.Message
	if addressed {
		window = s.recent(ctx, session.ID)
	}
	msg := s.publishLocked(ctx, chat.Message{
		SessionID:  session.ID,
		RoomID:     roomID,
		Author:     in.Participant.Identity,
		AuthorName: in.Participant.DisplayName,
		Role:       chat.RoleHuman,
		Body:       body,
	}, in.Participant)
	unlock()

	if addressed {
		s.scheduleReply(roomID, ai.Request{
			SessionID: session.ID,
			RoomID:    roomID,
			Prompt:    body,
			History:   window,
		})
	}
	return msg, nil
}

// scheduleReply hands req to the gateway unless Shutdown has begun, in which
// case the human message stands alone.
func (s *Service) scheduleReply(roomID string, req ai.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		log.Printf("[chat] shutting down, no reply scheduled room=%s session=%s", roomID, req.SessionID)
		return
	}
	s.replies.Add(1)
	s.mu.Unlock()

	replies := s.gateway.RespondAsync(req)
	go s.deliverReply(roomID, replies)
}

// deliverReply posts the automated reply through the same append and
// broadcast path. Subscribers are resolved when the reply lands.
func (s *Service) deliverReply(roomID string, replies <-chan ai.Reply) {
	defer s.replies.Done()

	reply, ok := <-replies
	if !ok {
		return
	}

	ctx := context.Background()
	unlock := s.lockRoom(roomID)
	defer unlock()
	s.publishLocked(ctx, reply.Message, s.gateway.Participant())
}

// Watch subscribes sub to live events without joining the session.
func (s *Service) Watch(roomID string, sub room.Subscriber) string {
	roomID = s.resolveRoom(roomID)
	s.hub.Subscribe(roomID, sub)
	return roomID
}

// Unwatch detaches sub from roomID only.
func (s *Service) Unwatch(roomID string, sub room.Subscriber) {
	s.hub.Leave(s.resolveRoom(roomID), sub)
}

// Stats reports how many rooms have live subscribers.
func (s *Service) Stats() Stats {
	rooms := s.hub.Rooms()
	out := Stats{ActiveRooms: len(rooms)}
	for _, id := range rooms {
		out.Subscriptions += s.hub.Count(id)
	}
	return out
}

// Leave detaches sub from every room it joined.
func (s *Service) Leave(sub room.Subscriber) {
	s.hub.Unsubscribe(sub)
}

// NewChat starts a private session owned by p.
func (s *Service) NewChat(ctx context.Context, p chat.Participant) (string, error) {
	if err := requireIdentity(p); err != nil {
		return "", err
	}
	return s.directory.CreateFreshSession(ctx, p)
}

// ListChats returns p's sessions, most recently updated first.
func (s *Service) ListChats(ctx context.Context, p chat.Participant) ([]chat.SessionSummary, error) {
	if err := requireIdentity(p); err != nil {
		return nil, err
	}
	return s.directory.ListSessionsForParticipant(ctx, p.Identity)
}

// History returns the ordered log of a session. Unknown sessions yield
// directory.ErrSessionNotFound and broken records directory.ErrMalformedSession.
func (s *Service) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	session, err := s.directory.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ReadOrdered(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", session.ID, err)
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs, nil
}

// Shutdown stops scheduling automated replies, waits for pending ones, then
// detaches every subscriber. Sends that arrive meanwhile are still broadcast.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.gateway.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.replies.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.hub.Close()
	return err
}

// publishLocked appends msg and broadcasts it. A failed append is logged and
// the message is still delivered. Callers hold the room lock.
func (s *Service) publishLocked(ctx context.Context, msg chat.Message, author chat.Participant) chat.Message {
	stored, err := s.appendMessage(ctx, msg)
	if err != nil {
		log.Printf("[chat] %v room=%s session=%s", err, msg.RoomID, msg.SessionID)
		stored = msg
		if stored.Timestamp.IsZero() {
			stored.Timestamp = time.Now().UTC()
		}
	}

	payload, err := json.Marshal(chat.NewReceiveMessage(stored, author))
	if err != nil {
		log.Printf("[chat] encode event room=%s: %v", msg.RoomID, err)
		return stored
	}
	s.hub.Broadcast(msg.RoomID, payload)
	return stored
}

func (s *Service) findSession(ctx context.Context, roomID string) (chat.Session, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.directory.FindOrCreateSession(storeCtx, roomID)
	if err != nil {
		return chat.Session{}, fmt.Errorf("resolve room %s: %w", roomID, err)
	}
	return session, nil
}

func (s *Service) joinSession(ctx context.Context, roomID string, p chat.Participant) (chat.Session, error) {
	session, err := s.findSession(ctx, roomID)
	if err != nil {
		return chat.Session{}, err
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	joined, err := s.directory.AddParticipant(storeCtx, session.ID, p, chat.RoleHuman, true)
	if err != nil {
		return chat.Session{}, fmt.Errorf("add participant to %s: %w", session.ID, err)
	}
	return joined, nil
}

func (s *Service) appendMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	stored, err := s.messages.Append(storeCtx, msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", history.ErrAppendFailed, err)
	}
	return stored, nil
}

func (s *Service) readHistory(ctx context.Context, sessionID string) []chat.Message {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	msgs, err := s.messages.ReadOrdered(storeCtx, sessionID)
	if err != nil {
		log.Printf("[chat] history unavailable session=%s: %v", sessionID, err)
		return nil
	}
	return msgs
}

func (s *Service) recent(ctx context.Context, sessionID string) []chat.Message {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	msgs, err := s.messages.Recent(storeCtx, sessionID, s.opts.HistoryLimit)
	if err != nil {
		log.Printf("[chat] responder context unavailable session=%s: %v", sessionID, err)
		return nil
	}
	return msgs
}

// storeContext bounds a store call. It outlives a cancelled caller so a
// disconnecting client does not abort a write already in progress.
func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
}

func (s *Service) lockRoom(roomID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[roomID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[roomID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Service) resolveRoom(roomID string) string {
	if roomID = strings.TrimSpace(roomID); roomID == "" {
		return s.opts.DefaultRoom
	}
	return roomID
}

func requireIdentity(p chat.Participant) error {
	if strings.TrimSpace(p.Identity) == "" {
		return identity.ErrUnauthenticated
	}
	return nil
}
