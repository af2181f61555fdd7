package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/concordhq/concord/pkg/models"
	"github.com/concordhq/concord/pkg/registry"
)

type registerSceneRequest struct {
	SceneID          string `json:"scene_id" binding:"required"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	PriorityStrategy string `json:"priority_strategy"`
	DomainContext    string `json:"domain_context"`
}

type connectSceneRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

func (s *Server) listAgents(c *gin.Context) {
	scope := c.DefaultQuery("scope", registry.ScopeAll)
	profiles := s.agents.Profiles(scope)
	out := make([]gin.H, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, gin.H{
			"agent_id":     p.AgentID,
			"display_name": p.DisplayName,
			"summary":      p.Summary,
		})
	}
	c.JSON(http.StatusOK, gin.H{"scope": scope, "agents": out})
}

func (s *Server) listScenes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scenes": s.scenes.List()})
}

func (s *Server) registerScene(c *gin.Context) {
	var req registerSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scene_id is required"})
		return
	}
	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = req.SceneID
	}
	s.scenes.Register(models.Scene{
		SceneID:          req.SceneID,
		Name:             name,
		Description:      req.Description,
		PriorityStrategy: req.PriorityStrategy,
		DomainContext:    req.DomainContext,
	})
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "scene_id": req.SceneID})
}

func (s *Server) connectScene(c *gin.Context) {
	var req connectSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}

	err := s.scenes.Connect(c.Param("id"), req.AgentID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, registry.ErrSceneNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "scene not found"})
	case errors.Is(err, registry.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
