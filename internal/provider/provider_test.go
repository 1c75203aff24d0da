package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
)

func TestOpenAIProvider(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "llama-3.1-8b-instant",
			"choices": [{"message": {"content": "hello", "role": "assistant"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p, err := NewGroqProvider("test-key", server.URL, "")
	if err != nil {
		t.Fatalf("NewGroqProvider failed: %v", err)
	}
	if p.Name() != "groq" {
		t.Errorf("Expected 'groq', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, DefaultParams)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Expected 'hello', got '%s'", resp.Content)
	}
	if resp.Model != GroqDefaultModel {
		t.Errorf("Expected model '%s', got '%s'", GroqDefaultModel, resp.Model)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 tokens, got %d", resp.Usage.TotalTokens)
	}
	if resp.Meta["finish_reason"] != "stop" {
		t.Errorf("Expected finish_reason 'stop', got %v", resp.Meta["finish_reason"])
	}

	if got["model"] != GroqDefaultModel {
		t.Errorf("Expected request model '%s', got %v", GroqDefaultModel, got["model"])
	}
	if got["max_tokens"] != float64(512) {
		t.Errorf("Expected max_tokens 512, got %v", got["max_tokens"])
	}
	if temp, ok := got["temperature"].(float64); !ok || temp < 0.19 || temp > 0.21 {
		t.Errorf("Expected temperature 0.2, got %v", got["temperature"])
	}
	if msgs, ok := got["messages"].([]any); !ok || len(msgs) != 2 {
		t.Errorf("Expected 2 request messages, got %v", got["messages"])
	}
}

func TestOpenAIProvider_Init(t *testing.T) {
	_, err := NewOpenAIProvider("", "", "")
	if err == nil {
		t.Error("Expected error for empty key")
	}
	p, err := NewOpenAIProvider("key", "", "")
	if err != nil {
		t.Fatalf("NewOpenAIProvider failed: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Expected 'openai', got '%s'", p.Name())
	}
}

func TestOllamaProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": {"role": "assistant", "content": "hi from ollama"}, "done": true, "done_reason": "stop", "eval_count": 10, "prompt_eval_count": 5}`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider(server.URL, "llama3")
	if err != nil {
		t.Fatalf("NewOllamaProvider failed: %v", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Expected 'ollama', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, DefaultParams)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hi from ollama" {
		t.Errorf("Expected 'hi from ollama', got '%s'", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestOllamaProvider_HostFromEnv(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "127.0.0.1:9")
	p, err := NewOllamaProvider("", "")
	if err != nil {
		t.Fatalf("NewOllamaProvider failed: %v", err)
	}
	if p.model != "llama3.2" {
		t.Errorf("Expected default model, got '%s'", p.model)
	}
}

func TestAnthropicProvider(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_123",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "hello from claude"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 5, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	p, err := NewAnthropicProvider("test-key", server.URL, "")
	if err != nil {
		t.Fatalf("NewAnthropicProvider failed: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Expected 'anthropic', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "again"},
	}, DefaultParams)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello from claude" {
		t.Errorf("Expected 'hello from claude', got '%s'", resp.Content)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("Expected 10 tokens, got %d", resp.Usage.TotalTokens)
	}

	if msgs, ok := got["messages"].([]any); !ok || len(msgs) != 3 {
		t.Errorf("Expected system prompt to be sent out of band, got messages %v", got["messages"])
	}
	if got["system"] == nil {
		t.Error("Expected system prompt in request")
	}
}

func TestGeminiProvider_Name(t *testing.T) {
	// genai.NewClient does not connect, so a fake key is enough here.
	p, err := NewGeminiProvider(context.Background(), "fake-key", "")
	if err != nil {
		t.Logf("Skipping Gemini Name test due to client init error: %v", err)
		return
	}
	defer p.Close()
	if p.Name() != "gemini" {
		t.Errorf("Expected 'gemini', got '%s'", p.Name())
	}
}

func TestCLIProvider(t *testing.T) {
	if _, err := NewCLIProvider("", nil); err == nil {
		t.Error("Expected error for empty binary path")
	}

	p, err := NewCLIProvider("echo", nil)
	if err != nil {
		t.Fatalf("NewCLIProvider failed: %v", err)
	}
	resp, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, DefaultParams)
	if err != nil {
		t.Skipf("echo not available: %v", err)
	}
	if resp.Content != "user: hi" {
		t.Errorf("Expected flattened prompt, got '%s'", resp.Content)
	}
}

func TestStubProvider(t *testing.T) {
	p := NewStubProvider(Response{Content: "scripted"})
	if p.Name() != "stub" {
		t.Errorf("Expected 'stub', got '%s'", p.Name())
	}

	msgs := []Message{{Role: RoleUser, Content: "hi"}}
	resp, err := p.Chat(context.Background(), msgs, Params{Temperature: 0.7, MaxTokens: 9})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "scripted" {
		t.Errorf("Expected 'scripted', got '%s'", resp.Content)
	}

	resp, _ = p.Chat(context.Background(), msgs, DefaultParams)
	if resp.Content != "echo: hi" {
		t.Errorf("Expected echo once script is exhausted, got '%s'", resp.Content)
	}

	if len(p.Calls()) != 2 {
		t.Errorf("Expected 2 recorded calls, got %d", len(p.Calls()))
	}
	if params, ok := p.LastParams(); !ok || params != DefaultParams {
		t.Errorf("Expected last params %+v, got %+v", DefaultParams, params)
	}
}

func TestStubProvider_Canceled(t *testing.T) {
	p := NewStubProvider()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Chat(ctx, []Message{{Content: "hi"}}, DefaultParams)
	if !errdefs.IsProvider(err) {
		t.Errorf("Expected provider error on canceled context, got %v", err)
	}
}

func TestProvider_Errors(t *testing.T) {
	t.Run("OpenAI Error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(500)
		}))
		defer server.Close()

		p, _ := NewOpenAIProvider("key", server.URL, "")
		_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, DefaultParams)
		var pe *errdefs.ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("Expected provider error, got %v", err)
		}
		if pe.Provider != "openai" {
			t.Errorf("Expected provider 'openai', got '%s'", pe.Provider)
		}
	})

	t.Run("Anthropic Error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(401)
		}))
		defer server.Close()

		p, _ := NewAnthropicProvider("key", server.URL, "")
		_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, DefaultParams)
		if !errdefs.IsProvider(err) {
			t.Errorf("Expected provider error, got %v", err)
		}
	})

	t.Run("Anthropic requires a user turn", func(t *testing.T) {
		p, _ := NewAnthropicProvider("key", "http://127.0.0.1:9", "")
		_, err := p.Chat(context.Background(), []Message{{Role: RoleSystem, Content: "only system"}}, DefaultParams)
		if !errdefs.IsProvider(err) {
			t.Errorf("Expected provider error, got %v", err)
		}
	})
}

func TestBreaker(t *testing.T) {
	stub := NewStubProvider()
	stub.Err = errors.New("connection refused")

	b := NewBreaker(stub, BreakerConfig{MaxFailures: 2, Timeout: time.Hour, HalfOpenMaxRequests: 1}, nil)
	if b.Name() != "stub" {
		t.Errorf("Expected 'stub', got '%s'", b.Name())
	}

	msgs := []Message{{Role: RoleUser, Content: "hi"}}
	for i := 0; i < 2; i++ {
		if _, err := b.Chat(context.Background(), msgs, DefaultParams); !errdefs.IsProvider(err) {
			t.Fatalf("Expected provider error, got %v", err)
		}
	}
	if b.State() != "open" {
		t.Fatalf("Expected open breaker, got %s", b.State())
	}

	_, err := b.Chat(context.Background(), msgs, DefaultParams)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if !errdefs.IsProvider(err) {
		t.Errorf("Expected open circuit to surface as provider error, got %v", err)
	}
	if len(stub.Calls()) != 2 {
		t.Errorf("Expected open breaker to skip the provider, got %d calls", len(stub.Calls()))
	}
}

func TestBreaker_PassesThrough(t *testing.T) {
	b := NewBreaker(NewStubProvider(Response{Content: "ok"}), DefaultBreakerConfig, nil)
	resp, err := b.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, DefaultParams)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Expected 'ok', got '%s'", resp.Content)
	}
	if b.State() != "closed" {
		t.Errorf("Expected closed breaker, got %s", b.State())
	}
}

func TestLimited(t *testing.T) {
	stub := NewStubProvider()
	l := NewLimited(stub, 1, 1)
	msgs := []Message{{Role: RoleUser, Content: "hi"}}

	if _, err := l.Chat(context.Background(), msgs, DefaultParams); err != nil {
		t.Fatalf("First call should use the burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Chat(ctx, msgs, DefaultParams); !errdefs.IsProvider(err) {
		t.Errorf("Expected rate limit error, got %v", err)
	}
	if len(stub.Calls()) != 1 {
		t.Errorf("Expected the limited call to be dropped, got %d calls", len(stub.Calls()))
	}

	unlimited := NewLimited(stub, 0, 0)
	for i := 0; i < 5; i++ {
		if _, err := unlimited.Chat(context.Background(), msgs, DefaultParams); err != nil {
			t.Fatalf("Unlimited call failed: %v", err)
		}
	}
}
