package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider creates a Messages API provider. baseURL may be empty.
func NewAnthropicProvider(apiKey, baseURL, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	opts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(apiKey),
		anthropicopt.WithRequestTimeout(DefaultTimeout),
		anthropicopt.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		client: &client,
		model:  model,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, params Params) (*Response, error) {
	system, turns := splitSystem(messages)
	if _, err := lastUser(turns); err != nil {
		return nil, fail(p.Name(), "chat", err)
	}

	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(params.MaxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(params.Temperature),
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}

	rsp, err := p.client.Messages.New(ctx, req)
	if err != nil {
		return nil, fail(p.Name(), "chat", err)
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return nil, fail(p.Name(), "chat", fmt.Errorf("no text in response"))
	}

	in, out := int(rsp.Usage.InputTokens), int(rsp.Usage.OutputTokens)
	return &Response{
		Content: b.String(),
		Model:   string(rsp.Model),
		Usage: Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
		Meta: map[string]any{"finish_reason": string(rsp.StopReason)},
	}, nil
}
