package provider

import (
	"context"
	"sync"
)

// StubProvider replays scripted responses and records every request. It is
// selected with --provider stub and used throughout the tests.
type StubProvider struct {
	mu sync.Mutex

	// Responses are returned in order; once exhausted the last user message
	// is echoed back.
	Responses []Response

	// Err, when set, fails every call.
	Err error

	calls  [][]Message
	params []Params
}

func NewStubProvider(responses ...Response) *StubProvider {
	return &StubProvider{Responses: responses}
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message, params Params) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fail(m.Name(), "chat", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.params = append(m.params, params)

	if m.Err != nil {
		return nil, fail(m.Name(), "chat", m.Err)
	}

	if len(m.Responses) == 0 {
		var echo string
		if n := len(messages); n > 0 {
			echo = messages[n-1].Content
		}
		return &Response{Content: "echo: " + echo, Model: "stub"}, nil
	}

	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	if resp.Model == "" {
		resp.Model = "stub"
	}
	return &resp, nil
}

func (m *StubProvider) Name() string {
	return "stub"
}

// Calls returns the message lists seen so far.
func (m *StubProvider) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// LastParams returns the parameters of the most recent call.
func (m *StubProvider) LastParams() (Params, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.params) == 0 {
		return Params{}, false
	}
	return m.params[len(m.params)-1], true
}
