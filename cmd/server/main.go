package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/proxvoice/internal/adapters/http"
	"github.com/dkeye/proxvoice/internal/app"
	"github.com/dkeye/proxvoice/internal/app/bot"
	"github.com/dkeye/proxvoice/internal/app/orch"
	"github.com/dkeye/proxvoice/internal/app/world"
	"github.com/dkeye/proxvoice/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	params := bot.DefaultParams()
	params.MinBand = cfg.World.BotMinBand
	params.MaxBand = cfg.World.BotMaxBand
	params.Spring = cfg.World.BotSpring

	worlds := world.NewManager(world.Options{
		VoiceRange: cfg.World.VoiceRange,
		Seed:       cfg.World.Seed,
		Population: world.PopulationConfig{
			Size:        cfg.World.Bots,
			SpawnRadius: cfg.World.SpawnRadius,
			Wander:      cfg.World.Wander,
			Params:      params,
		},
	})

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Worlds:   worlds,
		Policy:   app.PolicyFor(cfg.Backpressure),
	}
	go o.Run(ctx, cfg.World.TickInterval)

	r, err := router.SetupRouter(ctx, cfg, o)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up router")
	}
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Voice server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
