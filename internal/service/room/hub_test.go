package room

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func drain(m *Mailbox) []string {
	var out []string
	for {
		select {
		case p := <-m.Messages():
			out = append(out, string(p))
		default:
			return out
		}
	}
}

func TestBroadcastReachesEverySubscriberIncludingSender(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	sender, peer, outsider := NewMailbox(8), NewMailbox(8), NewMailbox(8)
	hub.Subscribe("r", sender)
	hub.Subscribe("r", peer)
	hub.Subscribe("other", outsider)

	req.Equal(2, hub.Broadcast("r", []byte("hello")))
	req.Equal([]string{"hello"}, drain(sender))
	req.Equal([]string{"hello"}, drain(peer))
	req.Empty(drain(outsider))
}

func TestBroadcastPreservesOrderAcrossSubscribers(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	boxes := []*Mailbox{NewMailbox(64), NewMailbox(64), NewMailbox(64)}
	for _, b := range boxes {
		hub.Subscribe("r", b)
	}

	var want []string
	for i := 0; i < 50; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, msg)
		hub.Broadcast("r", []byte(msg))
	}
	for _, b := range boxes {
		req.Equal(want, drain(b))
	}
}

func TestConcurrentBroadcastsAreSeenInOneOrder(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	a, b := NewMailbox(256), NewMailbox(256)
	hub.Subscribe("r", a)
	hub.Subscribe("r", b)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Broadcast("r", []byte(fmt.Sprintf("m%d", i)))
		}()
	}
	wg.Wait()

	req.Equal(drain(a), drain(b))
}

func TestUnsubscribeIsIdempotentAndRemovesFromAllRooms(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	box := NewMailbox(8)
	hub.Subscribe("r1", box)
	hub.Subscribe("r2", box)
	hub.Subscribe("r1", box)
	req.Equal(1, hub.Count("r1"))

	hub.Unsubscribe(box)
	hub.Unsubscribe(box)

	req.Zero(hub.Count("r1"))
	req.Zero(hub.Count("r2"))
	req.Zero(hub.Broadcast("r1", []byte("x")))
	req.Empty(hub.Rooms())
}

func TestLeaveDetachesSingleRoom(t *testing.T) {
	hub := NewHub()
	box := NewMailbox(8)
	hub.Subscribe("r1", box)
	hub.Subscribe("r2", box)

	hub.Leave("r1", box)

	require.Zero(t, hub.Count("r1"))
	require.Equal(t, 1, hub.Count("r2"))
}

func TestFullSubscriberDoesNotStallOthers(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	slow, fast := NewMailbox(1), NewMailbox(16)
	hub.Subscribe("r", slow)
	hub.Subscribe("r", fast)

	for i := 0; i < 5; i++ {
		hub.Broadcast("r", []byte(fmt.Sprintf("m%d", i)))
	}

	req.Len(drain(fast), 5)
	req.Equal([]string{"m0"}, drain(slow))
	req.Equal(4, slow.Dropped())
}

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			box := NewMailbox(4)
			hub.Subscribe("r", box)
			hub.Broadcast("r", []byte("ping"))
			hub.Unsubscribe(box)
		}()
	}
	wg.Wait()
	require.Zero(t, hub.Count("r"))
}

func TestMailboxClosed(t *testing.T) {
	box := NewMailbox(1)
	box.Close()
	box.Close()
	require.ErrorIs(t, box.Send([]byte("x")), ErrClosed)
}

func TestConnectionDeliversThroughWebsocket(t *testing.T) {
	req := require.New(t)
	hub := NewHub()
	upgrader := websocket.Upgrader{}
	joined := make(chan *Connection, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConnection("a@x.com", ws, 4)
		conn.Start()
		hub.Subscribe("r", conn)
		joined <- conn
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	req.NoError(err)
	defer client.Close()

	conn := <-joined
	req.Equal(1, hub.Broadcast("r", []byte(`{"type":"receive_message"}`)))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := client.ReadMessage()
	req.NoError(err)
	req.JSONEq(`{"type":"receive_message"}`, string(payload))

	conn.Close(websocket.CloseNormalClosure, "bye")
	<-conn.Done()
	req.ErrorIs(conn.Send([]byte("late")), ErrClosed)
	hub.Unsubscribe(conn)
}

func TestCloseDetachesEverySubscriber(t *testing.T) {
	h := NewHub()
	a, b := NewMailbox(4), NewMailbox(4)
	h.Subscribe("r1", a)
	h.Subscribe("r2", b)

	h.Close()

	if n := h.Broadcast("r1", []byte("x")); n != 0 {
		t.Fatalf("expected no deliveries after Close, got %d", n)
	}
	if len(h.Rooms()) != 0 {
		t.Fatalf("expected no rooms after Close, got %v", h.Rooms())
	}
	h.Unsubscribe(a)
}
