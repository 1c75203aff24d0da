package provider

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the sampling parameters of one completion.
type Params struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// DefaultParams are used when the configuration does not override them.
var DefaultParams = Params{Temperature: 0.2, MaxTokens: 512}

// Response represents the output from the model.
type Response struct {
	Content string         `json:"content"`
	Model   string         `json:"model,omitempty"`
	Usage   Usage          `json:"usage"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for chat model interactions.
type Provider interface {
	// Chat sends a list of messages to the model and returns a response.
	Chat(ctx context.Context, messages []Message, params Params) (*Response, error)

	// Name returns the provider identifier (e.g., "groq", "ollama").
	Name() string
}

// fail wraps err as a ProviderError unless it already is one.
func fail(provider, op string, err error) error {
	if errdefs.IsProvider(err) {
		return err
	}
	return &errdefs.ProviderError{Provider: provider, Op: op, Err: err}
}

// splitSystem separates leading and interleaved system messages from the
// conversation, for APIs that take the system prompt out of band.
func splitSystem(messages []Message) (system string, rest []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func lastUser(messages []Message) (Message, error) {
	if len(messages) == 0 {
		return Message{}, fmt.Errorf("no messages")
	}
	last := messages[len(messages)-1]
	if last.Role != RoleUser {
		return Message{}, fmt.Errorf("last message has role %q, want %q", last.Role, RoleUser)
	}
	return last, nil
}
