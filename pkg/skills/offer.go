package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/concordhq/concord/pkg/profile"
)

const offerSkillName = "offer_generation"

const offerSystemPrompt = `You respond to a demand on behalf of the agent whose profile follows.
Offer only what this profile genuinely supports. If the demand is irrelevant
to this agent, decline gracefully and say so in the content.
Respond with a JSON object:
{"content": "...", "capabilities": [...], "confidence": 0.0-1.0}`

// defaultOfferConfidence is used when the model omits a confidence value.
const defaultOfferConfidence = 0.5

// OfferResult is the offer skill's output for one agent.
type OfferResult struct {
	Content      string   `json:"content"`
	Capabilities []string `json:"capabilities"`
	Confidence   float64  `json:"confidence"`
}

// OfferSkill asks one agent for an offer against the formulated demand. The
// prompt carries only that agent's profile; the caller fetches the profile
// and passes it explicitly so no other agent's data can leak in.
type OfferSkill struct{}

// Name returns the skill name used in errors and traces.
func (OfferSkill) Name() string { return offerSkillName }

// Execute generates the agent's offer.
func (s OfferSkill) Execute(ctx context.Context, prof *profile.Profile, demandText string, src profile.Source) (*OfferResult, error) {
	if prof == nil {
		return nil, newError(s.Name(), "agent profile is required")
	}
	if strings.TrimSpace(demandText) == "" {
		return nil, newError(s.Name(), "demand text must not be empty")
	}

	prompt := offerSystemPrompt
	if doc, err := json.Marshal(prof); err == nil {
		prompt += fmt.Sprintf("\n\nAgent profile:\n%s", doc)
	}

	reply, err := src.Chat(ctx, prof.AgentID, []profile.Message{{Role: "user", Content: "Demand: " + demandText}}, prompt)
	if err != nil {
		return nil, wrapError(s.Name(), fmt.Sprintf("offer chat with %s failed", prof.AgentID), err)
	}
	if looksLikeLLMError(reply) {
		return nil, newError(s.Name(), "model returned an error pattern instead of an offer")
	}

	fields := decodeLenient(reply, "content")
	result := &OfferResult{
		Content:      fieldString(fields, "content"),
		Capabilities: fieldStrings(fields, "capabilities"),
		Confidence:   fieldFloat(fields, "confidence", defaultOfferConfidence),
	}
	if result.Content == "" {
		return nil, newError(s.Name(), "content missing from model output")
	}
	return result, nil
}
