package profile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/concordhq/concord/pkg/llm"
)

var _ Source = (*TwinSource)(nil)

// ProfileStore resolves the stored profile for an agent. The registry
// implements this.
type ProfileStore interface {
	GetProfile(ctx context.Context, agentID string) (*Profile, error)
}

// TwinSource answers chat requests in an agent's voice by prompting a
// reasoning model with that agent's profile. Profiles come from the store;
// the model never sees any other agent's data.
type TwinSource struct {
	store ProfileStore
	chat  llm.ReasoningClient
}

// NewTwinSource constructs a model-backed profile source.
func NewTwinSource(store ProfileStore, chat llm.ReasoningClient) *TwinSource {
	return &TwinSource{store: store, chat: chat}
}

// GetProfile implements Source.
func (t *TwinSource) GetProfile(ctx context.Context, agentID string) (*Profile, error) {
	return t.store.GetProfile(ctx, agentID)
}

// Chat implements Source.
func (t *TwinSource) Chat(ctx context.Context, agentID string, messages []Message, systemPrompt string) (string, error) {
	p, err := t.store.GetProfile(ctx, agentID)
	if err != nil {
		return "", err
	}

	req := llm.ChatRequest{SystemPrompt: t.persona(p, systemPrompt)}
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = llm.RoleUser
		}
		req.Messages = append(req.Messages, llm.Message{Role: role, Content: m.Content})
	}

	resp, err := t.chat.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("profile: chat as %s: %w", agentID, err)
	}
	return resp.Content, nil
}

// ChatStream implements Source. The underlying client is request/response,
// so the reply arrives as a single chunk.
func (t *TwinSource) ChatStream(ctx context.Context, agentID string, messages []Message, systemPrompt string) (<-chan string, error) {
	text, err := t.Chat(ctx, agentID, messages, systemPrompt)
	if err != nil {
		return nil, err
	}
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return ch, nil
}

func (t *TwinSource) persona(p *Profile, systemPrompt string) string {
	doc, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		doc = []byte(p.Summary)
	}
	base := fmt.Sprintf("You are %s. Stay in character and answer from this profile only:\n%s", p.DisplayName, doc)
	if systemPrompt != "" {
		return base + "\n\n" + systemPrompt
	}
	return base
}
