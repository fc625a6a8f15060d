package http

import (
	"net/http"

	"github.com/dkeye/proxvoice/internal/app/orch"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/gin-gonic/gin"
)

type worldHandlers struct {
	orch *orch.Orchestrator
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /api/worlds
func (h *worldHandlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"worlds": h.orch.Worlds.List()})
}

// GET /api/worlds/:name/members
func (h *worldHandlers) members(c *gin.Context) {
	w, ok := h.orch.Worlds.Get(domain.WorldName(c.Param("name")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "world not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    w.World().Name,
		"range":   w.World().VoiceRange,
		"members": w.MembersSnapshot(),
	})
}

// DELETE /api/worlds/:name
func (h *worldHandlers) evict(c *gin.Context) {
	name := domain.WorldName(c.Param("name"))
	if _, ok := h.orch.Worlds.Get(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "world not found"})
		return
	}
	h.orch.EvictWorld(name)
	c.Status(http.StatusNoContent)
}
