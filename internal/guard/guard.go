package guard

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultSession is used when a caller does not name a session.
const DefaultSession = "default"

// Policy defines the limits applied to each conversation turn.
type Policy struct {
	// MaxMessageChars bounds a single user message. 0 disables the check.
	MaxMessageChars int `json:"max_message_chars" yaml:"max_message_chars"`

	// MaxHistoryMessages caps how many prior turns are replayed to the model.
	MaxHistoryMessages int `json:"max_history_messages" yaml:"max_history_messages"`

	// MaxPromptTokens and MaxOutputTokens are per-session budgets over the
	// lifetime of the process. 0 means unlimited.
	MaxPromptTokens int `json:"max_prompt_tokens" yaml:"max_prompt_tokens"`
	MaxOutputTokens int `json:"max_output_tokens" yaml:"max_output_tokens"`

	// NoMemorySessions are doublestar globs of session ids whose turns are
	// answered normally but never written to memory (e.g. "scratch/**").
	NoMemorySessions []string `json:"no_memory_sessions" yaml:"no_memory_sessions"`
}

// DefaultPolicy provides safe defaults.
var DefaultPolicy = Policy{
	MaxMessageChars:    16000,
	MaxHistoryMessages: 12,
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
	Fatal   bool
}

func (v *Violation) Error() string {
	return v.Rule + ": " + v.Message
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// ValidatePatterns reports the first malformed NoMemorySessions glob.
func (p Policy) ValidatePatterns() error {
	for _, pattern := range p.NoMemorySessions {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid session pattern %q", pattern)
		}
	}
	return nil
}

// NormalizeSession trims the session id and substitutes DefaultSession for
// an empty one.
func NormalizeSession(sessionID string) string {
	s := strings.TrimSpace(sessionID)
	if s == "" {
		return DefaultSession
	}
	return s
}

// CheckMessage verifies a user message is non-blank and within size limits.
func (g *Guard) CheckMessage(msg string) *Violation {
	if strings.TrimSpace(msg) == "" {
		return &Violation{Rule: "empty_message", Message: "Message must not be empty", Fatal: true}
	}
	if g.policy.MaxMessageChars > 0 && utf8.RuneCountInString(msg) > g.policy.MaxMessageChars {
		return &Violation{
			Rule:    "max_message_chars",
			Message: fmt.Sprintf("Message exceeds %d characters", g.policy.MaxMessageChars),
			Fatal:   true,
		}
	}
	return nil
}

// AllowsMemory reports whether turns of sessionID may be written to memory.
func (g *Guard) AllowsMemory(sessionID string) bool {
	for _, pattern := range g.policy.NoMemorySessions {
		match, err := doublestar.Match(pattern, sessionID)
		if err == nil && match {
			return false
		}
	}
	return true
}

// HistoryLimit returns how many prior messages to include, at least 0.
func (g *Guard) HistoryLimit() int {
	return max(g.policy.MaxHistoryMessages, 0)
}

// CheckBudget verifies the session's cumulative usage is within limits.
func (g *Guard) CheckBudget(promptTokens, outputTokens int) *Violation {
	if g.policy.MaxPromptTokens > 0 && promptTokens > g.policy.MaxPromptTokens {
		return &Violation{Rule: "max_prompt_tokens", Message: "Prompt token budget exceeded", Fatal: true}
	}
	if g.policy.MaxOutputTokens > 0 && outputTokens > g.policy.MaxOutputTokens {
		return &Violation{Rule: "max_output_tokens", Message: "Output token budget exceeded", Fatal: true}
	}
	return nil
}
