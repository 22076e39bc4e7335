package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

const defaultSystemPrompt = `You are %s, an assistant taking part in a shared group chat.
Several people talk in the same room; each of their lines is prefixed with the speaker's name.
Answer the latest message addressed to you. Be concise and friendly, and keep replies in the language the speaker used.`

// BuildSystemPrompt returns custom when set, otherwise the default room prompt for name.
func BuildSystemPrompt(name, custom string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	return fmt.Sprintf(defaultSystemPrompt, name)
}

// buildHistoryMessages converts logged room traffic into chat turns.
// Join notices are skipped; human lines keep their speaker.
func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleHuman:
			history = append(history, schema.UserMessage(speakerLine(msg)))
		case chat.RoleAutomated:
			history = append(history, schema.AssistantMessage(msg.Body, nil))
		}
	}
	return history
}

func speakerLine(msg chat.Message) string {
	speaker := msg.AuthorName
	if speaker == "" {
		speaker = msg.Author
	}
	if speaker == "" {
		return msg.Body
	}
	return speaker + ": " + msg.Body
}
