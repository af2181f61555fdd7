package engine

import (
	"log/slog"

	"github.com/concordhq/concord/pkg/archive"
	"github.com/concordhq/concord/pkg/encoder"
	"github.com/concordhq/concord/pkg/llm"
	"github.com/concordhq/concord/pkg/profile"
	"github.com/concordhq/concord/pkg/resonance"
	"github.com/concordhq/concord/pkg/skills"
)

// Skills bundles the five negotiation skills. Any entry may be nil: the
// engine falls back to raw intent for formulation, to the profile source's
// chat for offers, and to a direct reasoning call for coordination. A nil
// SubNegotiation or GapRecursion skill turns the corresponding coordinator
// tool into a synthesized history entry.
type Skills struct {
	Formulation    *skills.FormulationSkill
	Offer          *skills.OfferSkill
	Coordinator    *skills.CoordinatorSkill
	SubNegotiation *skills.SubNegotiationSkill
	GapRecursion   *skills.GapRecursionSkill
}

// DefaultSkills returns all five skills.
func DefaultSkills() Skills {
	return Skills{
		Formulation:    &skills.FormulationSkill{},
		Offer:          &skills.OfferSkill{},
		Coordinator:    &skills.CoordinatorSkill{},
		SubNegotiation: &skills.SubNegotiationSkill{},
		GapRecursion:   &skills.GapRecursionSkill{},
	}
}

// Deps carries everything one negotiation run needs. The registry-derived
// fields (AgentVectors, DisplayNames, SceneContext) are resolved per
// negotiation by the caller so the engine itself stays scope-agnostic.
type Deps struct {
	Profiles profile.Source
	Reasoner llm.ReasoningClient
	Encoder  encoder.Encoder
	Detector *resonance.Detector
	Skills   Skills

	AgentVectors map[string]encoder.Vector
	DisplayNames map[string]string
	KStar        int
	MinScore     float64
	SceneContext string

	// Archive receives a snapshot after completion. Optional; failures are
	// logged, never propagated.
	Archive archive.Sink

	Logger *slog.Logger
}
