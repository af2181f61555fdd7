package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/concordhq/concord/pkg/llm"
)

const coordinatorSkillName = "coordinator"

// Tool names the coordinator may call.
const (
	ToolOutputPlan      = "output_plan"
	ToolAskAgent        = "ask_agent"
	ToolStartDiscovery  = "start_discovery"
	ToolCreateSubDemand = "create_sub_demand"
	ToolCreateMachine   = "create_machine"
)

const coordinatorSystemPrompt = `You coordinate a multi-agent negotiation. A demand was broadcast and the
agents below replied with offers. Synthesize an actionable plan, asking
follow-up questions or spawning sub-negotiations only when the offers leave a
real gap. When you are ready, call output_plan with the final plan text.`

// HistoryEntry is one item of the coordinator's working history: either a
// dispatched tool call with its result, or free-text reasoning the model
// produced alongside its tool calls.
type HistoryEntry struct {
	Type    string         `json:"type"`
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Result  string         `json:"result,omitempty"`
	Round   int            `json:"round"`
	Content string         `json:"content,omitempty"`
}

// History entry types.
const (
	HistoryTypeTool      = "tool"
	HistoryTypeReasoning = "center_reasoning"
)

// AgentOffer is one replied participant's offer as seen by the coordinator.
type AgentOffer struct {
	AgentID      string
	DisplayName  string
	Content      string
	Capabilities []string
	Confidence   float64
}

// CoordinatorContext is the input to one coordinator round.
type CoordinatorContext struct {
	DemandText      string
	Offers          []AgentOffer
	History         []HistoryEntry
	RoundNumber     int
	ToolsRestricted bool
	SceneContext    string
}

// AllToolSchemas returns the full coordinator tool set.
func AllToolSchemas() []llm.ToolSchema {
	return []llm.ToolSchema{
		{
			Name:        ToolOutputPlan,
			Description: "Finish the negotiation with the final plan.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"plan_text": map[string]any{"type": "string", "description": "The complete plan."},
				},
				"required": []string{"plan_text"},
			},
		},
		{
			Name:        ToolAskAgent,
			Description: "Ask one participating agent a follow-up question.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_id": map[string]any{"type": "string"},
					"question": map[string]any{"type": "string"},
				},
				"required": []string{"agent_id", "question"},
			},
		},
		{
			Name:        ToolStartDiscovery,
			Description: "Explore what two agents could accomplish together.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_a": map[string]any{"type": "string"},
					"agent_b": map[string]any{"type": "string"},
					"reason":  map[string]any{"type": "string"},
				},
				"required": []string{"agent_a", "agent_b", "reason"},
			},
		},
		{
			Name:        ToolCreateSubDemand,
			Description: "Spawn a child negotiation for a gap no current offer covers.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"gap_description": map[string]any{"type": "string"},
				},
				"required": []string{"gap_description"},
			},
		},
		{
			Name:        ToolCreateMachine,
			Description: "Emit a structured workflow artifact as JSON.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"machine_json": map[string]any{"type": "string"},
				},
				"required": []string{"machine_json"},
			},
		},
	}
}

// RestrictedToolSchemas returns the tool set offered once the round cap is
// reached: only terminal-compatible tools.
func RestrictedToolSchemas() []llm.ToolSchema {
	restricted := make([]llm.ToolSchema, 0, 2)
	for _, t := range AllToolSchemas() {
		if t.Name == ToolOutputPlan || t.Name == ToolCreateMachine {
			restricted = append(restricted, t)
		}
	}
	return restricted
}

// KnownTool reports whether name is in the coordinator whitelist.
func KnownTool(name string) bool {
	switch name {
	case ToolOutputPlan, ToolAskAgent, ToolStartDiscovery, ToolCreateSubDemand, ToolCreateMachine:
		return true
	}
	return false
}

// CoordinatorSkill runs one reasoning round: prompt assembly with observation
// masking, the reasoning call, and tool-name validation on the response.
type CoordinatorSkill struct{}

// Name returns the skill name used in errors and traces.
func (CoordinatorSkill) Name() string { return coordinatorSkillName }

// Execute performs one coordinator round and returns the validated response.
// Dispatching the returned tool calls is the engine's job.
func (s CoordinatorSkill) Execute(ctx context.Context, reasoner llm.ReasoningClient, cc CoordinatorContext) (*llm.ChatResponse, error) {
	if reasoner == nil {
		return nil, newError(s.Name(), "reasoning client is required")
	}
	if strings.TrimSpace(cc.DemandText) == "" {
		return nil, newError(s.Name(), "demand text must not be empty")
	}

	tools := AllToolSchemas()
	if cc.ToolsRestricted {
		tools = RestrictedToolSchemas()
	}

	resp, err := reasoner.Chat(ctx, llm.ChatRequest{
		SystemPrompt: coordinatorSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: buildCoordinatorPrompt(cc)}},
		Tools:        tools,
	})
	if err != nil {
		return nil, wrapError(s.Name(), "reasoning call failed", err)
	}

	for _, tc := range resp.ToolCalls {
		if !KnownTool(tc.Name) {
			return nil, newError(s.Name(), fmt.Sprintf("reasoning returned unknown tool %q", tc.Name))
		}
	}
	if len(resp.ToolCalls) == 0 && looksLikeLLMError(resp.Content) {
		return nil, newError(s.Name(), "model returned an error pattern instead of a plan")
	}
	return resp, nil
}

// buildCoordinatorPrompt renders the round context. From round 2 onward the
// raw offers are replaced with a one-line summary; the model works from the
// history instead.
func buildCoordinatorPrompt(cc CoordinatorContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d.\n\nDemand:\n%s\n", cc.RoundNumber, cc.DemandText)
	if cc.SceneContext != "" {
		fmt.Fprintf(&b, "\nScene context:\n%s\n", cc.SceneContext)
	}

	if cc.RoundNumber >= 2 {
		names := make([]string, 0, len(cc.Offers))
		for _, o := range cc.Offers {
			names = append(names, o.DisplayName)
		}
		fmt.Fprintf(&b, "\n%d offers received from: %s; see previous round reasoning.\n",
			len(cc.Offers), strings.Join(names, ", "))
	} else if len(cc.Offers) == 0 {
		b.WriteString("\nNo offers were received. Produce the best plan you can from the demand alone.\n")
	} else {
		b.WriteString("\nOffers:\n")
		for _, o := range cc.Offers {
			fmt.Fprintf(&b, "- %s (%s, confidence %.2f): %s", o.DisplayName, o.AgentID, o.Confidence, o.Content)
			if len(o.Capabilities) > 0 {
				fmt.Fprintf(&b, " [capabilities: %s]", strings.Join(o.Capabilities, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(cc.History) > 0 {
		b.WriteString("\nHistory:\n")
		for _, h := range cc.History {
			switch h.Type {
			case HistoryTypeReasoning:
				fmt.Fprintf(&b, "- round %d reasoning: %s\n", h.Round, h.Content)
			default:
				fmt.Fprintf(&b, "- round %d %s(%v) -> %s\n", h.Round, h.Tool, h.Args, h.Result)
			}
		}
	}

	if cc.ToolsRestricted {
		b.WriteString("\nThis is the final round. You must call output_plan now.\n")
	}
	return b.String()
}
