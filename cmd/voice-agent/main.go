package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/proxvoice/internal/adapters/capture"
	"github.com/dkeye/proxvoice/internal/adapters/playback"
	"github.com/dkeye/proxvoice/internal/adapters/rtc"
	"github.com/dkeye/proxvoice/internal/adapters/wsclient"
	"github.com/dkeye/proxvoice/internal/app/agent"
	"github.com/dkeye/proxvoice/internal/app/audio"
	"github.com/dkeye/proxvoice/internal/app/voice"
	"github.com/dkeye/proxvoice/internal/config"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := config.AgentFlags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	mode, err := audio.ParseGatingMode(cfg.Voice.GatingMode)
	if err != nil {
		log.Fatal().Err(err).Msg("bad gating mode")
	}

	bus := core.NewBus()
	bus.OnSpeakingChange(func(speaking bool) {
		log.Info().Str("module", "agent").Bool("speaking", speaking).Msg("speaking")
	})
	bus.Subscribe(core.EventSessionState, func(ev core.Event) {
		log.Debug().Str("module", "agent").Str("peer", string(ev.Peer)).Str("state", ev.State.String()).Msg("session state")
	})

	mic := &capture.PCMMicrophone{
		Source:     cfg.Agent.MicSource,
		SampleRate: cfg.Agent.SampleRate,
		StreamID:   cfg.Agent.Name,
		Loop:       cfg.Agent.MicSource != capture.SourceStdin,
	}
	pipe := audio.NewPipeline(audio.Config{
		Mode:          mode,
		Threshold:     cfg.Voice.VADThreshold,
		Sensitivity:   cfg.Voice.Sensitivity,
		FFTSize:       cfg.Voice.FFTSize,
		Smoothing:     cfg.Voice.Smoothing,
		FrameInterval: cfg.Voice.FrameInterval,
	}, mic, bus)
	if err := pipe.Enable(ctx); err != nil {
		log.Fatal().Err(err).Msg("enable voice")
	}
	defer pipe.Disable()

	factory, err := rtc.NewFactory(rtc.ConfigFor(cfg.Voice.ICEServers))
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}

	var out io.Writer
	if cfg.Agent.Output != "" {
		f, err := os.Create(cfg.Agent.Output)
		if err != nil {
			log.Fatal().Err(err).Msg("open output")
		}
		defer f.Close()
		out = f
	}

	client := wsclient.New(cfg.Agent.ServerURL, nil, wsclient.Options{
		MinBackoff: cfg.Agent.ReconnectMin,
		MaxBackoff: cfg.Agent.ReconnectMax,
	})
	engine := voice.NewEngine(voice.Config{
		NegotiationTimeout: cfg.Voice.NegotiationTimeout,
		MaxAttempts:        cfg.Voice.MaxNegotiationAttempts,
		RetryCooldown:      cfg.Voice.RetryCooldown,
		MasterVolume:       cfg.Voice.MasterVolume,
		GainTimeConstant:   cfg.Voice.GainTimeConstant,
	}, factory, client, pipe, playback.NewSink(out), bus)

	ag := agent.New(engine, domain.WorldName(cfg.Agent.World), cfg.Agent.Name, domain.Vec2{X: cfg.Agent.X, Y: cfg.Agent.Y})
	client.SetHandler(ag)

	if mode == audio.ModePushToTalk {
		go togglePushToTalk(ctx, pipe)
	}
	go pipe.Run(ctx)
	go engine.Run(ctx)

	log.Info().Str("server", cfg.Agent.ServerURL).Str("world", cfg.Agent.World).Str("mode", string(mode)).Msg("voice agent started")
	client.Run(ctx)
	log.Info().Msg("voice agent stopped")
}

// togglePushToTalk flips the talk gate on every SIGUSR1.
func togglePushToTalk(ctx context.Context, p *audio.Pipeline) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			on := !p.State().PushToTalkActive
			p.SetPushToTalk(on)
			log.Info().Str("module", "agent").Bool("push_to_talk", on).Msg("push to talk")
		}
	}
}
