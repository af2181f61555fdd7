// Package profile abstracts where agent behavioral profiles come from and how
// an agent "speaks" when the engine asks it for an offer or a follow-up.
package profile

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownAgent indicates the source has no profile for the agent id.
var ErrUnknownAgent = errors.New("profile: unknown agent")

// UnknownAgentError wraps ErrUnknownAgent with the agent id.
type UnknownAgentError struct {
	AgentID string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("profile: unknown agent %q", e.AgentID)
}

func (e *UnknownAgentError) Unwrap() error { return ErrUnknownAgent }

// Profile is an agent's behavioral profile: the structured description the
// offer skill embeds in prompts, plus summary fields the registry exposes.
type Profile struct {
	AgentID     string         `json:"agent_id"`
	DisplayName string         `json:"display_name"`
	Summary     string         `json:"summary"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Message is one chat turn sent to an agent.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Source resolves agent profiles and lets callers chat with an agent in that
// agent's voice. Implementations must be safe for concurrent use; the engine
// queries agents in parallel.
type Source interface {
	GetProfile(ctx context.Context, agentID string) (*Profile, error)
	Chat(ctx context.Context, agentID string, messages []Message, systemPrompt string) (string, error)
	ChatStream(ctx context.Context, agentID string, messages []Message, systemPrompt string) (<-chan string, error)
}
