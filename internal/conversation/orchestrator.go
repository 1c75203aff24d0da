// Package conversation answers user turns: it recalls related memories and
// recent history, asks the completion provider, and writes both sides of the
// turn back to memory.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/aarii/internal/errdefs"
	"github.com/felixgeelhaar/aarii/internal/guard"
	"github.com/felixgeelhaar/aarii/internal/memory"
	"github.com/felixgeelhaar/aarii/internal/observe"
	"github.com/felixgeelhaar/aarii/internal/provider"
	"github.com/felixgeelhaar/aarii/internal/store"
	"github.com/felixgeelhaar/aarii/internal/ui"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
)

// NoReply stands in for an empty completion.
const NoReply = "(no reply from model)"

// Settings is the key/value store personas are kept in.
type Settings interface {
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error
}

// Options configures an Orchestrator.
type Options struct {
	// SystemPrompt is used for sessions without a persona.
	SystemPrompt string

	// TopK is the number of memories recalled per turn.
	TopK int

	Params provider.Params
}

// Reply is the answer to one user turn.
type Reply struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	Text      string `json:"reply"`

	// Degraded is set when the provider could not be reached; Text then
	// explains the failure and Meta["error"] carries it.
	Degraded bool           `json:"degraded,omitempty"`
	Meta     map[string]any `json:"meta"`

	// Memories are the recalled memories that were placed in the prompt.
	Memories []memory.Result `json:"memories,omitempty"`

	// Warnings lists write-path failures that did not prevent the reply.
	Warnings []string `json:"warnings,omitempty"`
}

// Orchestrator runs conversation turns.
type Orchestrator struct {
	memory   memory.Memory
	settings Settings
	provider provider.Provider
	guard    *guard.Guard
	observe  *observe.Observer
	events   *EventBus
	state    *StateManager
	ui       ui.UI
	opts     Options
}

// New creates an orchestrator. mem may be nil when the memory subsystem is
// disabled; turns are then answered without recall, history or persistence.
func New(mem memory.Memory, settings Settings, p provider.Provider, g *guard.Guard, o *observe.Observer, opts Options) *Orchestrator {
	if o == nil {
		o = observe.Nop()
	}
	if g == nil {
		g = guard.New(guard.DefaultPolicy)
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.Params == (provider.Params{}) {
		opts.Params = provider.DefaultParams
	}
	return &Orchestrator{
		memory:   mem,
		settings: settings,
		provider: p,
		guard:    g,
		observe:  o,
		events:   NewEventBus(),
		state:    NewStateManager(),
		ui:       ui.SilentUI{},
		opts:     opts,
	}
}

func (o *Orchestrator) SetUI(u ui.UI) {
	if u != nil {
		o.ui = u
	}
}

// Events returns the bus turn events are published on.
func (o *Orchestrator) Events() *EventBus {
	return o.events
}

// Stats returns the per-session counters.
func (o *Orchestrator) Stats() *StateManager {
	return o.state
}

func personaKey(sessionID string) string {
	return "session." + sessionID + ".system_prompt"
}

// SetPersona stores a session-specific system prompt. An empty prompt
// restores the default.
func (o *Orchestrator) SetPersona(ctx context.Context, sessionID, prompt string) error {
	if o.settings == nil {
		return fmt.Errorf("persona storage is not configured")
	}
	sessionID = guard.NormalizeSession(sessionID)
	if err := o.settings.SetConfig(personaKey(sessionID), strings.TrimSpace(prompt)); err != nil {
		return fmt.Errorf("failed to store persona: %w", err)
	}
	o.observe.Log().Info().Str("session", sessionID).Msg("persona updated")
	return nil
}

// Persona returns the session's own system prompt, or "" if it has none.
func (o *Orchestrator) Persona(ctx context.Context, sessionID string) (string, error) {
	if o.settings == nil {
		return "", nil
	}
	return o.settings.GetConfig(personaKey(guard.NormalizeSession(sessionID)))
}

func (o *Orchestrator) systemPrompt(ctx context.Context, sessionID string) string {
	persona, err := o.Persona(ctx, sessionID)
	if err != nil {
		o.observe.Log().Warn().Str("session", sessionID).Err(err).Msg("failed to load persona, using default")
	}
	if persona != "" {
		return persona
	}
	return o.opts.SystemPrompt
}

// Respond answers message in sessionID. Provider failures produce a degraded
// reply rather than an error; an error is returned only for invalid input or
// an exhausted budget.
func (o *Orchestrator) Respond(ctx context.Context, sessionID, message string) (reply *Reply, err error) {
	sessionID = guard.NormalizeSession(sessionID)
	log := o.observe.Log().With().Str("session", sessionID).Logger()

	if v := o.guard.CheckMessage(message); v != nil {
		o.events.PublishWithData(EventGuardViolation, sessionID, "", map[string]interface{}{"rule": v.Rule})
		return nil, fmt.Errorf("%w: %s", errdefs.ErrInvalidInput, v.Message)
	}
	if v := o.guard.CheckBudget(o.state.GetTokenUsage(sessionID)); v != nil {
		log.Warn().Str("violation", v.Rule).Msg("session budget exhausted")
		o.events.PublishWithData(EventGuardViolation, sessionID, "", map[string]interface{}{"rule": v.Rule})
		return nil, v
	}

	turnID := ulid.Make().String()
	ctx, span := o.observe.StartSpan(ctx, "conversation.Respond",
		attribute.String("session", sessionID),
		attribute.String("turn_id", turnID),
	)
	defer func() { observe.EndSpan(span, err) }()

	o.events.PublishWithData(EventTurnStart, sessionID, turnID, nil)
	reply = &Reply{SessionID: sessionID, TurnID: turnID}

	// Recall happens before this turn is written so it cannot find itself.
	o.ui.UpdateStatus("Recalling memories...")
	reply.Memories = o.recall(ctx, sessionID, turnID, message)
	history := o.history(ctx, sessionID)

	messages := o.buildPrompt(ctx, sessionID, reply.Memories, history, message)

	writeMemory := o.memory != nil && o.guard.AllowsMemory(sessionID)
	if writeMemory {
		o.remember(ctx, reply, message, map[string]any{"source": provider.RoleUser, "turn_id": turnID})
	}

	o.ui.UpdateStatus("Waiting for " + o.provider.Name() + "...")
	o.events.PublishWithData(EventProviderRequest, sessionID, turnID, map[string]interface{}{
		"provider": o.provider.Name(),
		"messages": len(messages),
	})

	resp, err := o.provider.Chat(ctx, messages, o.opts.Params)
	if err != nil {
		log.Warn().Str("provider", o.provider.Name()).Err(err).Msg("provider call failed, replying degraded")
		o.events.PublishWithData(EventProviderFailed, sessionID, turnID, map[string]interface{}{"error": err.Error()})
		o.state.RecordDegraded(sessionID)

		reply.Degraded = true
		reply.Text = fmt.Sprintf("Aarii could not reach the %s provider: %v", o.provider.Name(), providerMessage(err))
		reply.Meta = map[string]any{"provider": o.provider.Name(), "error": err.Error()}
		o.ui.UpdateStatus("Degraded")
		return reply, nil
	}

	text := resp.Content
	if strings.TrimSpace(text) == "" {
		text = NoReply
	}
	reply.Text = text
	reply.Meta = replyMeta(o.provider.Name(), resp)

	o.events.PublishWithData(EventProviderResponse, sessionID, turnID, map[string]interface{}{
		"model":  resp.Model,
		"tokens": resp.Usage.TotalTokens,
	})
	o.ui.Log(fmt.Sprintf("%s responded (%d tokens)", o.provider.Name(), resp.Usage.TotalTokens))

	if writeMemory {
		o.remember(ctx, reply, text, map[string]any{
			"source":  provider.RoleAssistant,
			"turn_id": turnID,
			"model":   resp.Model,
		})
	}

	o.state.RecordTurn(sessionID, resp.Usage)
	o.events.PublishWithData(EventTurnComplete, sessionID, turnID, map[string]interface{}{
		"warnings": len(reply.Warnings),
	})
	o.ui.UpdateStatus("Ready")

	log.Debug().
		Str("turn_id", turnID).
		Int("memories", len(reply.Memories)).
		Int("history", len(history)).
		Int("tokens", resp.Usage.TotalTokens).
		Msg("turn complete")
	return reply, nil
}

// recall queries memory; failures degrade to no context.
func (o *Orchestrator) recall(ctx context.Context, sessionID, turnID, message string) []memory.Result {
	if o.memory == nil {
		return nil
	}
	results, err := o.memory.QueryMemory(ctx, message, o.opts.TopK)
	if err != nil {
		o.observe.Log().Warn().Str("session", sessionID).Err(err).Msg("memory query failed, continuing without recall")
		o.events.PublishWithData(EventMemoryQueryFailed, sessionID, turnID, map[string]interface{}{"error": err.Error()})
		return nil
	}
	o.events.PublishWithData(EventMemoryQueried, sessionID, turnID, map[string]interface{}{"count": len(results)})
	return results
}

// history returns the session's recent user and assistant turns as chat
// messages, oldest first; failures degrade to no history.
func (o *Orchestrator) history(ctx context.Context, sessionID string) []provider.Message {
	limit := o.guard.HistoryLimit()
	if o.memory == nil || limit == 0 {
		return nil
	}
	records, err := o.memory.History(ctx, sessionID, limit)
	if err != nil {
		o.observe.Log().Warn().Str("session", sessionID).Err(err).Msg("history read failed, continuing without history")
		return nil
	}
	return historyMessages(records, limit)
}

func historyMessages(records []*store.Record, limit int) []provider.Message {
	msgs := make([]provider.Message, 0, len(records))
	for _, r := range records {
		switch r.Source() {
		case provider.RoleUser, provider.RoleAssistant:
			msgs = append(msgs, provider.Message{Role: r.Source(), Content: r.Text})
		}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

// buildPrompt orders the prompt as system prompt, recalled memories, history
// and finally the user turn.
func (o *Orchestrator) buildPrompt(ctx context.Context, sessionID string, mems []memory.Result, history []provider.Message, message string) []provider.Message {
	messages := make([]provider.Message, 0, len(mems)+len(history)+2)
	if sp := o.systemPrompt(ctx, sessionID); sp != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: sp})
	}
	for _, m := range mems {
		messages = append(messages, provider.Message{
			Role:    provider.RoleSystem,
			Content: fmt.Sprintf("Memory (score=%.3f): %s", m.Score, m.Text),
		})
	}
	messages = append(messages, history...)
	return append(messages, provider.Message{Role: provider.RoleUser, Content: message})
}

// remember writes one side of the turn, turning failures into warnings.
func (o *Orchestrator) remember(ctx context.Context, reply *Reply, text string, meta map[string]any) {
	source, _ := meta["source"].(string)
	id, err := o.memory.AddMemory(ctx, reply.SessionID, text, meta)
	if err != nil {
		o.observe.Log().Warn().
			Str("session", reply.SessionID).
			Str("source", source).
			Err(err).
			Msg("failed to write memory")
		o.events.PublishWithData(EventMemoryWriteFailed, reply.SessionID, reply.TurnID, map[string]interface{}{
			"source": source,
			"error":  err.Error(),
		})
		reply.Warnings = append(reply.Warnings, fmt.Sprintf("%s turn not saved to memory: %v", source, err))
		return
	}
	o.events.PublishWithData(EventMemoryAdded, reply.SessionID, reply.TurnID, map[string]interface{}{
		"source":    source,
		"record_id": id,
	})
}

func replyMeta(name string, resp *provider.Response) map[string]any {
	meta := make(map[string]any, len(resp.Meta)+3)
	for k, v := range resp.Meta {
		meta[k] = v
	}
	meta["provider"] = name
	meta["model"] = resp.Model
	meta["usage"] = map[string]any{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	}
	return meta
}

// providerMessage strips the ProviderError prefix so the reply reads
// naturally.
func providerMessage(err error) string {
	var pe *errdefs.ProviderError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}
