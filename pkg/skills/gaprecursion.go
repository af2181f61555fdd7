package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/concordhq/concord/pkg/llm"
)

const gapRecursionSkillName = "gap_recursion"

const gapRecursionSystemPrompt = `A coordinator identified a gap that no current offer covers. Compose the raw
intent for a child negotiation that would fill this gap. Respond with a JSON
object: {"sub_demand_text": "...", "context": "..."}`

// GapRecursionResult is the composed child demand.
type GapRecursionResult struct {
	SubDemandText string `json:"sub_demand_text"`
	Context       string `json:"context"`
}

// GapRecursionSkill turns a coordinator-identified gap into the raw intent
// of a child negotiation.
type GapRecursionSkill struct{}

// Name returns the skill name used in errors and traces.
func (GapRecursionSkill) Name() string { return gapRecursionSkillName }

// Execute composes the child demand. When the model call fails the gap
// description itself is a serviceable demand, so callers may fall back to it.
func (s GapRecursionSkill) Execute(ctx context.Context, reasoner llm.ReasoningClient, gapDescription, parentDemand string) (*GapRecursionResult, error) {
	if strings.TrimSpace(gapDescription) == "" {
		return nil, newError(s.Name(), "gap description must not be empty")
	}
	if reasoner == nil {
		return nil, newError(s.Name(), "reasoning client is required")
	}

	prompt := fmt.Sprintf("Parent demand:\n%s\n\nGap:\n%s\n", parentDemand, gapDescription)
	resp, err := reasoner.Chat(ctx, llm.ChatRequest{
		SystemPrompt: gapRecursionSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return nil, wrapError(s.Name(), "gap reasoning failed", err)
	}
	if looksLikeLLMError(resp.Content) {
		return nil, newError(s.Name(), "model returned an error pattern instead of a sub-demand")
	}

	fields := decodeLenient(resp.Content, "sub_demand_text")
	result := &GapRecursionResult{
		SubDemandText: fieldString(fields, "sub_demand_text"),
		Context:       fieldString(fields, "context"),
	}
	if result.SubDemandText == "" {
		return nil, newError(s.Name(), "sub_demand_text missing from model output")
	}
	return result, nil
}
