//go:generate go run go.uber.org/mock/mockgen -source=responder.go -destination=mocks/mock_responder.go -package=mocks
package ai

import (
	"context"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

// Responder produces the automated participant's answer to prompt.
type Responder interface {
	Respond(ctx context.Context, prompt string, history []chat.Message) (string, error)
}
