package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/concordhq/concord/pkg/llm"
)

const subNegotiationSkillName = "sub_negotiation"

const subNegotiationSystemPrompt = `Two agents in a negotiation may be able to accomplish more together than
their individual offers suggest. Analyze the pairing below and respond with a
JSON object:
{"discovery_report": {"new_associations": [...], "coordination": "...",
 "additional_contributions": {"agent_a": [...], "agent_b": [...]}, "summary": "..."}}`

// AdditionalContributions lists what each side of a discovered pairing could
// add beyond its original offer.
type AdditionalContributions struct {
	AgentA []string `json:"agent_a"`
	AgentB []string `json:"agent_b"`
}

// DiscoveryReport is the structured result of a pairwise discovery round.
type DiscoveryReport struct {
	NewAssociations         []string                `json:"new_associations"`
	Coordination            string                  `json:"coordination"`
	AdditionalContributions AdditionalContributions `json:"additional_contributions"`
	Summary                 string                  `json:"summary"`
}

// DiscoveryInput names the two agents and why the coordinator paired them.
type DiscoveryInput struct {
	AgentA       string
	AgentAOffer  string
	AgentB       string
	AgentBOffer  string
	Reason       string
	DemandText   string
	SceneContext string
}

// SubNegotiationSkill runs a platform-side reasoning call exploring what two
// agents could do together.
type SubNegotiationSkill struct{}

// Name returns the skill name used in errors and traces.
func (SubNegotiationSkill) Name() string { return subNegotiationSkillName }

// Execute produces a discovery report for the pairing.
func (s SubNegotiationSkill) Execute(ctx context.Context, reasoner llm.ReasoningClient, in DiscoveryInput) (*DiscoveryReport, error) {
	if reasoner == nil {
		return nil, newError(s.Name(), "reasoning client is required")
	}
	if in.AgentA == "" || in.AgentB == "" {
		return nil, newError(s.Name(), "both agent ids are required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Demand:\n%s\n\nAgent A (%s) offered:\n%s\n\nAgent B (%s) offered:\n%s\n\nPairing reason: %s\n",
		in.DemandText, in.AgentA, in.AgentAOffer, in.AgentB, in.AgentBOffer, in.Reason)
	if in.SceneContext != "" {
		fmt.Fprintf(&b, "\nScene context:\n%s\n", in.SceneContext)
	}

	resp, err := reasoner.Chat(ctx, llm.ChatRequest{
		SystemPrompt: subNegotiationSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return nil, wrapError(s.Name(), "discovery reasoning failed", err)
	}
	if looksLikeLLMError(resp.Content) {
		return nil, newError(s.Name(), "model returned an error pattern instead of a report")
	}

	fields := decodeLenient(resp.Content, "summary")
	if nested, ok := fields["discovery_report"].(map[string]any); ok {
		fields = nested
	}
	report := &DiscoveryReport{
		NewAssociations: fieldStrings(fields, "new_associations"),
		Coordination:    fieldString(fields, "coordination"),
		Summary:         fieldString(fields, "summary"),
	}
	if contrib, ok := fields["additional_contributions"].(map[string]any); ok {
		report.AdditionalContributions = AdditionalContributions{
			AgentA: fieldStrings(contrib, "agent_a"),
			AgentB: fieldStrings(contrib, "agent_b"),
		}
	}
	if report.Summary == "" {
		return nil, newError(s.Name(), "summary missing from model output")
	}
	return report, nil
}
