package http

import (
	"net/http"

	"github.com/dkeye/proxvoice/internal/adapters/signal"
	"github.com/dkeye/proxvoice/internal/app/orch"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	profileNameKey  = "name"
	profileWorldKey = "world"
)

type profileHandlers struct {
	orch *orch.Orchestrator
}

type profileBody struct {
	Name  string           `json:"name"`
	World domain.WorldName `json:"world"`
}

func loadProfile(s sessions.Session) signal.Profile {
	name, _ := s.Get(profileNameKey).(string)
	world, _ := s.Get(profileWorldKey).(string)
	return signal.Profile{Name: name, World: domain.WorldName(world)}
}

// GET /api/profile
func (h *profileHandlers) get(c *gin.Context) {
	p := loadProfile(sessions.Default(c))
	c.JSON(http.StatusOK, profileBody{Name: p.Name, World: p.World})
}

// PUT /api/profile stores the name and world in the cookie session. A
// connected client is renamed right away.
func (h *profileHandlers) put(c *gin.Context) {
	var body profileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrCodeBadPayload})
		return
	}
	if body.Name != "" {
		if err := domain.ValidateUsername(body.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrCodeInvalidName})
			return
		}
	}
	body.World = body.World.Clamp()

	s := sessions.Default(c)
	s.Set(profileNameKey, body.Name)
	s.Set(profileWorldKey, string(body.World))
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
		return
	}

	sid := core.SessionID(c.GetString("client_token"))
	if body.Name != "" {
		if _, ok := h.orch.Registry.GetSession(sid); ok {
			_ = h.orch.Rename(sid, body.Name)
		}
	}
	log.Info().Str("module", "adapters.http").Str("sid", string(sid)).Str("name", body.Name).Str("world", string(body.World)).Msg("profile saved")
	c.JSON(http.StatusOK, body)
}
