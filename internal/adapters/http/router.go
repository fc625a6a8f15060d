package http

import (
	"context"

	"github.com/dkeye/proxvoice/internal/adapters/signal"
	"github.com/dkeye/proxvoice/internal/app/orch"
	"github.com/dkeye/proxvoice/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const ClientTokenCookie = "ct"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(ClientTokenCookie)
		if _, err := uuid.Parse(token); err != nil {
			token = genClientToken()
			c.SetCookie(ClientTokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

const sessionName = "VoiceSessions"

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) (*gin.Engine, error) {
	key, err := cfg.SessionKey()
	if err != nil {
		return nil, err
	}
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore(key)
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}
	r.GET("/healthz", handleHealth)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		SendBuffer:   cfg.SendBuffer,
		SignalLimit:  cfg.SignalLimit,
		SignalWindow: cfg.SignalWindow,
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c, loadProfile(sessions.Default(c)))
	})

	profile := &profileHandlers{orch: o}
	api.GET("/profile", profile.get)
	api.PUT("/profile", profile.put)

	worlds := &worldHandlers{orch: o}
	api.GET("/worlds", worlds.list)
	api.GET("/worlds/:name/members", worlds.members)
	api.DELETE("/worlds/:name", worlds.evict)

	return r, nil
}
