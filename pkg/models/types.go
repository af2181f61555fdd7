package models

import (
	"time"
)

// maxOfferCapabilities bounds the capability list accepted from an agent.
const maxOfferCapabilities = 32

// DemandSnapshot captures the user intent at negotiation start. Immutable
// after creation except FormulatedText, which is set exactly once on the
// transition to formulated.
type DemandSnapshot struct {
	RawIntent      string         `json:"raw_intent"`
	FormulatedText string         `json:"formulated_text,omitempty"`
	UserID         string         `json:"user_id"`
	Scope          string         `json:"scope"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Text returns the formulated text when present, otherwise the raw intent.
func (d DemandSnapshot) Text() string {
	if d.FormulatedText != "" {
		return d.FormulatedText
	}
	return d.RawIntent
}

// Offer is a participant's response to the formulated demand.
type Offer struct {
	AgentID      string    `json:"agent_id"`
	Content      string    `json:"content"`
	Capabilities []string  `json:"capabilities"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewOffer builds an Offer, clamping confidence to [0,1] and bounding the
// capabilities list. The list is trusted but size-bounded.
func NewOffer(agentID, content string, capabilities []string, confidence float64) *Offer {
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	if len(capabilities) > maxOfferCapabilities {
		capabilities = capabilities[:maxOfferCapabilities]
	}
	if capabilities == nil {
		capabilities = []string{}
	}
	return &Offer{
		AgentID:      agentID,
		Content:      content,
		Capabilities: capabilities,
		Confidence:   confidence,
		CreatedAt:    time.Now(),
	}
}

// Participant is an agent selected for a specific negotiation. Created in
// state active on resonance activation; terminal states are replied (offer
// arrived in time) and exited (timeout or failure).
type Participant struct {
	AgentID        string           `json:"agent_id"`
	DisplayName    string           `json:"display_name"`
	ResonanceScore float64          `json:"resonance_score"`
	State          ParticipantState `json:"state"`
	Offer          *Offer           `json:"offer,omitempty"`
}

// Scene is a named scope that narrows agent selection and injects domain
// context into the coordinator prompt.
type Scene struct {
	SceneID          string `json:"scene_id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	PriorityStrategy string `json:"priority_strategy"`
	DomainContext    string `json:"domain_context"`
	AgentCount       int    `json:"agent_count"`
}
