// Package aichat implements the 聊天 plugin: it proxies the message to an
// OpenAI-compatible chat backend (Dify, OpenAI, local gateways).
package aichat

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"plugbot/internal/message"
	"plugbot/internal/plugin"
)

type factory struct{}

func (factory) Name() string { return "Dify" }

func (factory) New(settings map[string]any) (plugin.Handler, error) {
	apiKey := plugin.StringSetting(settings, "api-key", "")
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api-key must not be empty", plugin.ErrConfigInvalid)
	}

	cfg := openai.DefaultConfig(apiKey)
	if base := plugin.StringSetting(settings, "base-url", ""); base != "" {
		cfg.BaseURL = base
	}

	return &handler{
		client: openai.NewClientWithConfig(cfg),
		model:  plugin.StringSetting(settings, "model", openai.GPT3Dot5Turbo),
		prompt: plugin.StringSetting(settings, "system-prompt", "你是一个乐于助人的聊天助手。"),
	}, nil
}

type handler struct {
	client *openai.Client
	model  string
	prompt string
}

func (h *handler) Handle(ctx context.Context, msg message.Message) (string, error) {
	text := argAfterCommand(msg.Text)
	if text == "" {
		return "用法: 聊天 <内容>", nil
	}

	resp, err := h.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: h.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: h.prompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func argAfterCommand(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) < 2 {
		return ""
	}
	return strings.Join(fields[1:], " ")
}

func init() {
	plugin.RegisterFactory(factory{})
}
