package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

type fakeModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(f.reply, nil)}), nil
}

func TestServiceRespondBuildsRoomContext(t *testing.T) {
	req := require.New(t)
	fake := &fakeModel{reply: "hello all"}
	svc, err := NewServiceWithModel(context.Background(), fake, BuildSystemPrompt("GPT", ""))
	req.NoError(err)

	history := []chat.Message{
		{Author: "a@x.com", AuthorName: "Alice", Role: chat.RoleHuman, Body: "hi"},
		{Author: "a@x.com", Role: chat.RoleSystem, Body: "a@x.com has joined the room."},
		{Author: chat.AutomatedAuthor, Role: chat.RoleAutomated, Body: "hey"},
	}
	got, err := svc.Respond(context.Background(), "how are you?", history)
	req.NoError(err)
	req.Equal("hello all", got)

	req.Len(fake.input, 4)
	req.Equal(schema.System, fake.input[0].Role)
	req.Contains(fake.input[0].Content, "GPT")
	req.Equal("Alice: hi", fake.input[1].Content)
	req.Equal(schema.Assistant, fake.input[2].Role)
	req.Equal("how are you?", fake.input[3].Content)
}

func TestServiceRespondErrors(t *testing.T) {
	svc, err := NewServiceWithModel(context.Background(), &fakeModel{err: errors.New("quota")}, "sys")
	require.NoError(t, err)
	_, err = svc.Respond(context.Background(), "hi", nil)
	require.ErrorContains(t, err, "quota")

	svc, err = NewServiceWithModel(context.Background(), &fakeModel{reply: ""}, "sys")
	require.NoError(t, err)
	_, err = svc.Respond(context.Background(), "hi", nil)
	require.ErrorIs(t, err, ErrEmptyReply)

	_, err = NewServiceWithModel(context.Background(), nil, "sys")
	require.Error(t, err)
}

func TestBuildSystemPromptPrefersCustom(t *testing.T) {
	require.Equal(t, "be brief", BuildSystemPrompt("GPT", "be brief"))
	require.Contains(t, BuildSystemPrompt("Tavern", " "), "You are Tavern")
}
