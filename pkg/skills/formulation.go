package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/concordhq/concord/pkg/profile"
)

const formulationSkillName = "demand_formulation"

const formulationSystemPrompt = `You turn a user's raw intent into a well-formulated demand.
Distinguish the underlying need from the stated requirement and preserve the user's intent.
Respond with a JSON object:
{"formulated_text": "...", "enrichments": {"hard_constraints": [...], "negotiable_preferences": [...], "context_added": [...]}}`

// Enrichments are the structured additions the formulation model extracted
// from the raw intent.
type Enrichments struct {
	HardConstraints       []string `json:"hard_constraints"`
	NegotiablePreferences []string `json:"negotiable_preferences"`
	ContextAdded          []string `json:"context_added"`
}

// FormulationResult is the formulation skill's output.
type FormulationResult struct {
	FormulatedText string      `json:"formulated_text"`
	Enrichments    Enrichments `json:"enrichments"`
}

// FormulationSkill rewrites a raw intent into a formulated demand by chatting
// with the user's own profile twin.
type FormulationSkill struct{}

// Name returns the skill name used in errors and traces.
func (FormulationSkill) Name() string { return formulationSkillName }

// Execute formulates the raw intent. The user's profile, when the source has
// one, is embedded in the prompt so the model can fill in unstated context.
func (s FormulationSkill) Execute(ctx context.Context, rawIntent, userID string, src profile.Source) (*FormulationResult, error) {
	if strings.TrimSpace(rawIntent) == "" {
		return nil, newError(s.Name(), "raw intent must not be empty")
	}
	if src == nil {
		return nil, newError(s.Name(), "profile source is required")
	}

	prompt := formulationSystemPrompt
	if p, err := src.GetProfile(ctx, userID); err == nil {
		if doc, err := json.Marshal(p); err == nil {
			prompt += fmt.Sprintf("\n\nUser profile:\n%s", doc)
		}
	}

	reply, err := src.Chat(ctx, userID, []profile.Message{{Role: "user", Content: rawIntent}}, prompt)
	if err != nil {
		return nil, wrapError(s.Name(), "formulation chat failed", err)
	}
	if looksLikeLLMError(reply) {
		return nil, newError(s.Name(), "model returned an error pattern instead of a formulation")
	}

	fields := decodeLenient(reply, "formulated_text")
	result := &FormulationResult{
		FormulatedText: fieldString(fields, "formulated_text"),
	}
	if enr, ok := fields["enrichments"].(map[string]any); ok {
		result.Enrichments = Enrichments{
			HardConstraints:       fieldStrings(enr, "hard_constraints"),
			NegotiablePreferences: fieldStrings(enr, "negotiable_preferences"),
			ContextAdded:          fieldStrings(enr, "context_added"),
		}
	}
	if result.FormulatedText == "" {
		return nil, newError(s.Name(), "formulated_text missing from model output")
	}
	return result, nil
}
