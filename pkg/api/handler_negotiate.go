package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/concordhq/concord/pkg/models"
	"github.com/concordhq/concord/pkg/session"
)

type createNegotiationRequest struct {
	Intent string `json:"intent" binding:"required"`
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
}

type confirmRequest struct {
	ConfirmedText *string `json:"confirmed_text"`
}

type participantView struct {
	AgentID        string  `json:"agent_id"`
	DisplayName    string  `json:"display_name"`
	ResonanceScore float64 `json:"resonance_score"`
	State          string  `json:"state"`
	OfferContent   string  `json:"offer_content,omitempty"`
	Source         string  `json:"source,omitempty"`
}

func (s *Server) createNegotiation(c *gin.Context) {
	var req createNegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "intent is required"})
		return
	}
	if strings.TrimSpace(req.Intent) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "intent must not be blank"})
		return
	}

	entry, agentCount := s.negotiations.Start(req.Intent, req.UserID, req.Scope)
	sess := entry.Session
	demand := sess.DemandSnapshot()
	c.JSON(http.StatusCreated, gin.H{
		"negotiation_id": sess.NegotiationID,
		"state":          sess.CurrentState(),
		"demand_raw":     demand.RawIntent,
		"scope":          demand.Scope,
		"agent_count":    agentCount,
	})
}

func (s *Server) listNegotiations(c *gin.Context) {
	sessions := s.store.List()
	out := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		demand := sess.DemandSnapshot()
		out = append(out, gin.H{
			"negotiation_id": sess.NegotiationID,
			"state":          sess.CurrentState(),
			"demand_raw":     demand.RawIntent,
			"scope":          demand.Scope,
			"created_at":     sess.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"negotiations": out})
}

func (s *Server) getNegotiation(c *gin.Context) {
	entry, err := s.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "negotiation not found"})
		return
	}
	sess := entry.Session
	demand := sess.DemandSnapshot()

	participants := make([]participantView, 0)
	for _, p := range sess.ParticipantSnapshot() {
		view := participantView{
			AgentID:        p.AgentID,
			DisplayName:    p.DisplayName,
			ResonanceScore: p.ResonanceScore,
			State:          string(p.State),
		}
		if p.Offer != nil {
			view.OfferContent = p.Offer.Content
			view.Source = "offer"
		}
		participants = append(participants, view)
	}

	resp := gin.H{
		"negotiation_id": sess.NegotiationID,
		"state":          sess.CurrentState(),
		"demand_raw":     demand.RawIntent,
		"participants":   participants,
		"center_rounds":  sess.Rounds(),
		"scope":          demand.Scope,
	}
	if demand.FormulatedText != "" {
		resp["demand_formulated"] = demand.FormulatedText
	}
	if plan := sess.Plan(); plan != "" {
		resp["plan_output"] = plan
	}
	if machineJSON, ok := sess.MetadataValue("machine_json"); ok {
		resp["plan_json"] = machineJSON
	}
	if sess.CurrentState() == models.StateCompleted {
		if errMsg, ok := sess.MetadataValue("error"); ok {
			resp["error"] = errMsg
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) confirmNegotiation(c *gin.Context) {
	// An absent or malformed body is a plain confirmation.
	var req confirmRequest
	_ = c.ShouldBindJSON(&req)

	err := s.negotiations.Confirm(c.Param("id"), req.ConfirmedText)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "negotiation not found"})
	case errors.Is(err, session.ErrNotAwaitingConfirmation):
		c.JSON(http.StatusConflict, gin.H{"error": "negotiation is not awaiting confirmation"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
