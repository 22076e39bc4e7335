package chat

import "time"

// Event types exchanged over the realtime transport.
const (
	EventJoin           = "join"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventHistory        = "history"
	EventError          = "error"
)

// ReceiveMessage is the payload fanned out to every subscriber of a room.
type ReceiveMessage struct {
	User      Participant `json:"user"`
	Message   string      `json:"message"`
	Room      string      `json:"room"`
	Role      Role        `json:"role"`
	Timestamp time.Time   `json:"timestamp"`
}

// Envelope wraps every outbound frame.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// NewReceiveMessage builds the broadcast payload for a logged message.
func NewReceiveMessage(msg Message, author Participant) Envelope {
	return Envelope{
		Type: EventReceiveMessage,
		Data: ReceiveMessage{
			User:      author,
			Message:   msg.Body,
			Room:      msg.RoomID,
			Role:      msg.Role,
			Timestamp: msg.Timestamp,
		},
	}
}

// HistoryReplay is sent to a connection right after it joins a room.
type HistoryReplay struct {
	Room      string    `json:"room"`
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

// ErrorPayload describes a rejected inbound frame.
type ErrorPayload struct {
	Message string `json:"message"`
	Reauth  string `json:"reauth,omitempty"`
}

// NewHistoryReplay wraps an ordered history snapshot.
func NewHistoryReplay(roomID, sessionID string, msgs []Message) Envelope {
	if msgs == nil {
		msgs = []Message{}
	}
	return Envelope{Type: EventHistory, Data: HistoryReplay{Room: roomID, SessionID: sessionID, Messages: msgs}}
}

// NewError wraps a user-visible error.
func NewError(message, reauth string) Envelope {
	return Envelope{Type: EventError, Data: ErrorPayload{Message: message, Reauth: reauth}}
}
