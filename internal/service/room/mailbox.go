package room

import (
	"sync"

	"github.com/google/uuid"
)

// Mailbox is a bounded in-process subscriber. It drops payloads when full
// instead of blocking the broadcaster. The SSE feed reads from it.
type Mailbox struct {
	id      string
	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	dropped int
}

// NewMailbox returns a Mailbox holding up to size undelivered payloads.
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Mailbox{id: uuid.NewString(), ch: make(chan []byte, size)}
}

func (m *Mailbox) ID() string { return m.id }

func (m *Mailbox) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	select {
	case m.ch <- payload:
		return nil
	default:
		m.dropped++
		return ErrQueueFull
	}
}

// Messages is closed after Close.
func (m *Mailbox) Messages() <-chan []byte {
	return m.ch
}

// Dropped reports how many payloads were discarded because the mailbox was full.
func (m *Mailbox) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}
