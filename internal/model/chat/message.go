package chat

import "time"

// AutomatedAuthor is the author identity recorded for responder replies.
const AutomatedAuthor = "automated"

// Message is one append-only entry in a session's log.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	RoomID     string    `json:"room_id,omitempty"`
	Author     string    `json:"user"`
	AuthorName string    `json:"name,omitempty"`
	Role       Role      `json:"role"`
	Body       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}
