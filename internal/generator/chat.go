package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/microsoft/secure-azureai-agent/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// ChatGenerator answers with a single streaming chat completion.
type ChatGenerator struct {
	client       *openai.Client
	model        string
	instructions string
}

// NewChatGenerator creates a direct completion generator.
func NewChatGenerator(client *openai.Client, model, instructions string) *ChatGenerator {
	return &ChatGenerator{client: client, model: model, instructions: instructions}
}

// Generate streams one completion for the thread plus the new user message.
func (g *ChatGenerator) Generate(ctx context.Context, req Request, emit EmitFunc) (*models.Thread, error) {
	th := req.Thread.Clone()
	th.Append(models.NewTextMessage(models.RoleUser, req.Message, ""))

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: toChatMessages(g.instructions, th, false),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chat stream: %w", err)
		}
		for _, choice := range resp.Choices {
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			reply.WriteString(delta)
			if err := emit(delta); err != nil {
				return nil, err
			}
		}
	}

	msg := models.NewTextMessage(models.RoleAssistant, reply.String(), AssistantAgentName)
	msg.ModelID = g.model
	th.Append(msg)
	return th, nil
}
