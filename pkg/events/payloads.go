package events

// FormulationReadyData is the payload for formulation.ready events.
// Published once the demand has been formulated (or passed through verbatim
// when no formulation skill is configured).
type FormulationReadyData struct {
	RawIntent      string `json:"raw_intent"`
	FormulatedText string `json:"formulated_text"`
}

// ActivatedAgent describes a single agent selected by resonance detection.
type ActivatedAgent struct {
	AgentID        string  `json:"agent_id"`
	DisplayName    string  `json:"display_name"`
	ResonanceScore float64 `json:"resonance_score"`
}

// ResonanceActivatedData is the payload for resonance.activated events.
type ResonanceActivatedData struct {
	ActivatedCount int              `json:"activated_count"`
	Agents         []ActivatedAgent `json:"agents"`
}

// OfferReceivedData is the payload for offer.received events.
// One per participant that replies within the offer timeout.
type OfferReceivedData struct {
	AgentID      string   `json:"agent_id"`
	DisplayName  string   `json:"display_name"`
	Content      string   `json:"content"`
	Capabilities []string `json:"capabilities"`
}

// BarrierCompleteData is the payload for barrier.complete events.
// Invariant: OffersReceived + ExitedCount == TotalParticipants.
type BarrierCompleteData struct {
	TotalParticipants int `json:"total_participants"`
	OffersReceived    int `json:"offers_received"`
	ExitedCount       int `json:"exited_count"`
}

// CoordinatorToolCallData is the payload for coordinator.tool_call events.
// One per tool call the reasoning service emits, in response order.
type CoordinatorToolCallData struct {
	ToolName    string         `json:"tool_name"`
	ToolArgs    map[string]any `json:"tool_args"`
	RoundNumber int            `json:"round_number"`
}

// SubNegotiationStartedData is the payload for sub_negotiation.started events.
type SubNegotiationStartedData struct {
	SubNegotiationID string `json:"sub_negotiation_id"`
	GapDescription   string `json:"gap_description"`
}

// PlanReadyData is the payload for plan.ready events, the terminal event of
// every successful negotiation. ParticipatingAgents lists the agents that
// replied with an offer.
type PlanReadyData struct {
	PlanText            string   `json:"plan_text"`
	CoordinatorRounds   int      `json:"coordinator_rounds"`
	ParticipatingAgents []string `json:"participating_agents"`
}
