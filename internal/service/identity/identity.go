package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

var (
	ErrInvalidIdentity = errors.New("identity email is required")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrAuthExpired     = errors.New("authentication expired")
)

// LoginResult is the verified profile handed over by the external identity provider.
type LoginResult struct {
	Email   string `json:"email" validate:"required"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

var validate = validator.New()

// Normalize turns a login result into a Participant. The email is trusted as-is.
func Normalize(in LoginResult) (chat.Participant, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.Picture = strings.TrimSpace(in.Picture)

	if err := validate.Struct(in); err != nil {
		return chat.Participant{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	name := in.Name
	if name == "" {
		name = localPart(in.Email)
	}

	return chat.Participant{
		Identity:    in.Email,
		DisplayName: name,
		AvatarRef:   in.Picture,
	}, nil
}

func localPart(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
