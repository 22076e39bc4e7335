package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

var (
	// ErrResponderUnavailable is reported when no model is configured.
	ErrResponderUnavailable = errors.New("automated responder is not configured")
	// ErrGatewayClosed is reported for requests made after Shutdown began.
	ErrGatewayClosed = errors.New("automated responder is shutting down")
)

const defaultResponderTimeout = 30 * time.Second

// State is the lifecycle of one responder invocation.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request describes a message addressed to the automated participant.
type Request struct {
	SessionID string
	RoomID    string
	Prompt    string
	History   []chat.Message
}

// Reply is the single outcome of a Request. Message is always populated:
// on failure its body carries the user-visible error text.
type Reply struct {
	State   State
	Message chat.Message
	Err     error
	Elapsed time.Duration
}

// Gateway runs responder calls off the caller's path. Calls are bound to the
// gateway's own context, not the triggering request, and carry a timeout.
type Gateway struct {
	responder Responder
	name      string
	timeout   time.Duration

	base   context.Context
	cancel context.CancelFunc

	// mu orders wg.Add against Shutdown's Wait.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewGateway wraps responder. A nil responder yields failure replies.
func NewGateway(responder Responder, name string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultResponderTimeout
	}
	if strings.TrimSpace(name) == "" {
		name = "GPT"
	}
	base, cancel := context.WithCancel(context.Background())
	return &Gateway{
		responder: responder,
		name:      name,
		timeout:   timeout,
		base:      base,
		cancel:    cancel,
	}
}

// Name is the automated participant's display name and routing marker.
func (g *Gateway) Name() string {
	return g.name
}

// Participant is the identity replies are broadcast under.
func (g *Gateway) Participant() chat.Participant {
	return chat.Participant{Identity: chat.AutomatedAuthor, DisplayName: g.name}
}

// Addressed reports whether target routes a message to the automated participant.
func (g *Gateway) Addressed(target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	return strings.Contains(strings.ToLower(target), strings.ToLower(g.name))
}

// RespondAsync starts one responder call and returns a channel that receives
// exactly one Reply. There is no retry. Once Shutdown has begun the reply is
// an immediate failure and the responder is not called.
func (g *Gateway) RespondAsync(req Request) <-chan Reply {
	out := make(chan Reply, 1)

	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		out <- g.failed(req, ErrGatewayClosed)
		close(out)
		return out
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		out <- g.invoke(req)
		close(out)
	}()
	return out
}

func (g *Gateway) invoke(req Request) (reply Reply) {
	started := time.Now()
	reply = Reply{State: StateRequested}

	defer func() {
		if r := recover(); r != nil {
			reply = g.failed(req, fmt.Errorf("responder panic: %v", r))
		}
		reply.Elapsed = time.Since(started)
		log.Printf("[ai] responder %s session=%s elapsed=%s", reply.State, req.SessionID, reply.Elapsed)
	}()

	if g.responder == nil {
		return g.failed(req, ErrResponderUnavailable)
	}

	ctx, cancel := context.WithTimeout(g.base, g.timeout)
	defer cancel()

	text, err := g.call(ctx, req)
	if err != nil {
		return g.failed(req, err)
	}
	return Reply{State: StateSucceeded, Message: g.message(req, text)}
}

// call returns as soon as ctx expires even if the responder ignores it.
func (g *Gateway) call(ctx context.Context, req Request) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("responder panic: %v", r)}
			}
		}()
		text, err := g.responder.Respond(ctx, req.Prompt, req.History)
		done <- result{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && strings.TrimSpace(res.text) == "" {
			return "", ErrEmptyReply
		}
		return res.text, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("no reply within %s", g.timeout)
		}
		return "", ctx.Err()
	}
}

func (g *Gateway) failed(req Request, err error) Reply {
	log.Printf("[ai] responder failed session=%s: %v", req.SessionID, err)
	return Reply{
		State:   StateFailed,
		Message: g.message(req, fmt.Sprintf("Error from %s: %v", g.name, err)),
		Err:     err,
	}
}

func (g *Gateway) message(req Request, body string) chat.Message {
	return chat.Message{
		SessionID:  req.SessionID,
		RoomID:     req.RoomID,
		Author:     chat.AutomatedAuthor,
		AuthorName: g.name,
		Role:       chat.RoleAutomated,
		Body:       strings.TrimSpace(body),
	}
}

// Shutdown refuses new calls, waits for in-flight ones until ctx expires,
// then cancels them. Calling it more than once is safe.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		<-done
		return ctx.Err()
	}
}
