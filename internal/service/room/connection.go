package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	DefaultQueueSize = 128
)

// Connection wraps a websocket and serializes outbound writes through a
// bounded queue drained by a single write loop.
type Connection struct {
	id       string
	Identity string

	ws   *websocket.Conn
	send chan []byte
	once sync.Once
	mu   sync.Mutex
	done chan struct{}
}

// NewConnection wraps ws for identity. queueSize <= 0 uses DefaultQueueSize.
func NewConnection(identity string, ws *websocket.Conn, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Connection{
		id:       uuid.NewString(),
		Identity: identity,
		ws:       ws,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

// Start launches the write loop. Call it once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload. A full queue closes the connection rather than
// letting one slow client hold up the room.
func (c *Connection) Send(payload []byte) error {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		go c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return ErrQueueFull
	}
}

// Done is closed once the connection shuts down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close terminates the connection and stops the write loop.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		close(c.done)
		c.mu.Unlock()
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
