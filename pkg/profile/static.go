package profile

import (
	"context"
	"fmt"
	"sync"
)

var _ Source = (*StaticSource)(nil)

// ReplyFunc produces a scripted chat reply for an agent.
type ReplyFunc func(agentID string, messages []Message, systemPrompt string) (string, error)

// StaticSource serves profiles and scripted chat replies from memory. Used
// for demo scenes and tests; production deployments wire a TwinSource.
type StaticSource struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	reply    ReplyFunc
}

// NewStaticSource creates a source seeded with the given profiles. Chat
// replies default to a short line derived from the agent's summary.
func NewStaticSource(profiles ...*Profile) *StaticSource {
	s := &StaticSource{profiles: make(map[string]*Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.AgentID] = p
	}
	return s
}

// Put adds or replaces a profile.
func (s *StaticSource) Put(p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.AgentID] = p
}

// SetReplyFunc overrides the scripted chat behavior.
func (s *StaticSource) SetReplyFunc(fn ReplyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = fn
}

// GetProfile implements Source.
func (s *StaticSource) GetProfile(_ context.Context, agentID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[agentID]
	if !ok {
		return nil, &UnknownAgentError{AgentID: agentID}
	}
	cp := *p
	return &cp, nil
}

// Chat implements Source.
func (s *StaticSource) Chat(ctx context.Context, agentID string, messages []Message, systemPrompt string) (string, error) {
	s.mu.RLock()
	p, ok := s.profiles[agentID]
	reply := s.reply
	s.mu.RUnlock()
	if !ok {
		return "", &UnknownAgentError{AgentID: agentID}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if reply != nil {
		return reply(agentID, messages, systemPrompt)
	}
	return fmt.Sprintf("%s: %s", p.DisplayName, p.Summary), nil
}

// ChatStream implements Source. The scripted reply arrives as one chunk.
func (s *StaticSource) ChatStream(ctx context.Context, agentID string, messages []Message, systemPrompt string) (<-chan string, error) {
	text, err := s.Chat(ctx, agentID, messages, systemPrompt)
	if err != nil {
		return nil, err
	}
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return ch, nil
}
