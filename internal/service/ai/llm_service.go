package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/tavern-room/backend/internal/config"
	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

// ErrEmptyReply is returned when the model answers with no content.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Service answers prompts through an eino chain: system prompt, room history, query.
type Service struct {
	chatModel    model.BaseChatModel
	systemPrompt string
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the ark-backed responder described by cfg.
func NewService(ctx context.Context, cfg config.AIConfig, responderName string) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, BuildSystemPrompt(responderName, cfg.SystemPrompt))
}

// NewServiceWithModel compiles the responder chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, systemPrompt string) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model must not be nil")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel:    chatModel,
		systemPrompt: systemPrompt,
		chain:        runnable,
	}, nil
}

var _ Responder = (*Service)(nil)

// Respond runs the chain for prompt with the given room history as context.
func (s *Service) Respond(ctx context.Context, prompt string, history []chat.Message) (string, error) {
	input := map[string]any{
		"system":  s.systemPrompt,
		"history": buildHistoryMessages(history),
		"query":   prompt,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	content := strings.TrimSpace(response.Content)
	if content == "" {
		return "", ErrEmptyReply
	}

	log.Printf("[ai] generated reply length=%d history=%d", len(content), len(history))
	return content, nil
}
