package room

import (
	"errors"
	"log"
	"sync"
)

var (
	ErrClosed    = errors.New("subscriber closed")
	ErrQueueFull = errors.New("subscriber queue full")
)

// Subscriber is a connection handle that can receive room events.
// Send must not block.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
}

type roomSubs struct {
	mu   sync.Mutex // serializes fan-out so every subscriber sees the same order
	subs map[string]Subscriber
}

// Hub tracks which subscribers are attached to which rooms. It holds only
// transient state and is never the source of truth for membership.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]*roomSubs
	memberships map[string]map[string]struct{} // subscriber id -> room ids
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:       make(map[string]*roomSubs),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Subscribe registers sub for delivery in roomID. Subscribing twice is a no-op.
func (h *Hub) Subscribe(roomID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[roomID]
	if r == nil {
		r = &roomSubs{subs: make(map[string]Subscriber)}
		h.rooms[roomID] = r
	}
	r.mu.Lock()
	r.subs[sub.ID()] = sub
	r.mu.Unlock()

	rooms := h.memberships[sub.ID()]
	if rooms == nil {
		rooms = make(map[string]struct{})
		h.memberships[sub.ID()] = rooms
	}
	rooms[roomID] = struct{}{}
}

// Leave detaches sub from a single room.
func (h *Hub) Leave(roomID string, sub Subscriber) {
	h.mu.Lock()
	h.leaveLocked(roomID, sub.ID())
	h.mu.Unlock()
}

// Unsubscribe detaches sub from every room. Safe to call repeatedly.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID := range h.memberships[sub.ID()] {
		h.leaveLocked(roomID, sub.ID())
	}
	delete(h.memberships, sub.ID())
}

// Broadcast delivers payload to every subscriber of roomID, sender included,
// and returns how many accepted it. Slow subscribers are skipped, never waited on.
func (h *Hub) Broadcast(roomID string, payload []byte) int {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for id, sub := range r.subs {
		if err := sub.Send(payload); err != nil {
			log.Printf("[room] drop delivery room=%s subscriber=%s: %v", roomID, id, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Count returns the number of subscribers attached to roomID.
func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Rooms lists room ids that currently have subscribers.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Close detaches every subscriber. Connections are left for their owners to close.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rooms = make(map[string]*roomSubs)
	h.memberships = make(map[string]map[string]struct{})
}

func (h *Hub) leaveLocked(roomID, subID string) {
	if r := h.rooms[roomID]; r != nil {
		r.mu.Lock()
		delete(r.subs, subID)
		empty := len(r.subs) == 0
		r.mu.Unlock()
		if empty {
			delete(h.rooms, roomID)
		}
	}
	if rooms, ok := h.memberships[subID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.memberships, subID)
		}
	}
}
