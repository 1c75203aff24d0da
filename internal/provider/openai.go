package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Groq defaults. Groq serves an OpenAI-compatible API.
const (
	GroqBaseURL      = "https://api.groq.com/openai/v1"
	GroqDefaultModel = "llama-3.1-8b-instant"
	DefaultTimeout   = 60 * time.Second
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client *openai.Client
	name   string
	model  string
}

// NewGroqProvider returns an OpenAI-compatible provider with Groq defaults
// for an empty baseURL or model.
func NewGroqProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = GroqBaseURL
	}
	if model == "" {
		model = GroqDefaultModel
	}
	p, err := NewOpenAIProvider(apiKey, baseURL, model)
	if err != nil {
		return nil, err
	}
	p.name = "groq"
	return p, nil
}

func NewOpenAIProvider(apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = &http.Client{Timeout: DefaultTimeout}

	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		name:   "openai",
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, params Params) (*Response, error) {
	reqMsgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		reqMsgs[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	resp, err := p.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       p.model,
			Messages:    reqMsgs,
			Temperature: float32(params.Temperature),
			MaxTokens:   params.MaxTokens,
		},
	)
	if err != nil {
		return nil, fail(p.name, "chat", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fail(p.name, "chat", fmt.Errorf("no choices returned"))
	}

	choice := resp.Choices[0]
	model := resp.Model
	if model == "" {
		model = p.model
	}

	return &Response{
		Content: choice.Message.Content,
		Model:   model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Meta: map[string]any{
			"finish_reason": string(choice.FinishReason),
		},
	}, nil
}
