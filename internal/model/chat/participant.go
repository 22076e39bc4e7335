package chat

// Participant is a normalized identity supplied by the identity adapter.
type Participant struct {
	Identity    string `json:"email"`
	DisplayName string `json:"name,omitempty"`
	AvatarRef   string `json:"picture,omitempty"`
}

// Role tags who authored a message or holds a seat in a session.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAutomated Role = "automated"
	// RoleSystem marks synthetic notices such as join announcements.
	RoleSystem Role = "system"
)

// Member is a participant entry inside a session.
type Member struct {
	Participant
	Role Role `json:"role"`
}
