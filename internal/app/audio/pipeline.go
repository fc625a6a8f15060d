package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrPermissionDenied = errors.New("microphone permission denied")

const DefaultFrameInterval = 16 * time.Millisecond

type Config struct {
	Mode          GatingMode
	Threshold     float64
	Sensitivity   float64
	FFTSize       int
	Smoothing     float64
	FrameInterval time.Duration
}

// State is a snapshot of the local audio state.
type State struct {
	CaptureActive    bool
	PushToTalkActive bool
	Level            float64
	Speaking         bool
}

// Pipeline owns the microphone stream, the analyser and the output audio
// context. Speaking changes are published on edges only, the level on
// every tick.
type Pipeline struct {
	cfg Config
	mic core.Microphone
	bus *core.Bus
	now func() time.Time

	mu        sync.Mutex
	stream    core.CaptureStream
	analyser  *Analyser
	actx      *Context
	ptt       bool
	speaking  bool
	level     float64
	onDisable []func()
}

func NewPipeline(cfg Config, mic core.Microphone, bus *core.Bus) *Pipeline {
	if cfg.Mode == "" {
		cfg.Mode = ModeVoiceActivity
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	return &Pipeline{cfg: cfg, mic: mic, bus: bus, now: time.Now}
}

// WithClock replaces the clock used by the audio context. Tests only.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Enable opens the microphone with echo cancellation, noise suppression
// and auto gain requested. Calling it while active is a no-op.
func (p *Pipeline) Enable(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return nil
	}
	if p.mic == nil {
		return ErrPermissionDenied
	}
	stream, err := p.mic.Open(ctx, core.Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "audio").Msg("microphone unavailable")
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	p.stream = stream
	p.analyser = NewAnalyser(p.cfg.FFTSize, p.cfg.Smoothing)
	p.actx = NewContext(p.now)
	if p.cfg.Mode == ModePushToTalk {
		stream.SetEnabled(p.ptt)
	}
	log.Info().Str("module", "audio").Str("mode", string(p.cfg.Mode)).Int("sample_rate", stream.SampleRate()).Msg("capture enabled")
	return nil
}

func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// Tracks returns the outbound tracks, nil while capture is inactive.
func (p *Pipeline) Tracks() []webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	return p.stream.Tracks()
}

// AudioContext is nil while capture is inactive.
func (p *Pipeline) AudioContext() *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.actx
}

// SetPushToTalk mirrors active onto the outbound gate when push-to-talk
// is the gating mode.
func (p *Pipeline) SetPushToTalk(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ptt = active
	if p.cfg.Mode != ModePushToTalk || p.stream == nil {
		return
	}
	p.stream.SetEnabled(active)
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		CaptureActive:    p.stream != nil,
		PushToTalkActive: p.ptt,
		Level:            p.level,
		Speaking:         p.speaking,
	}
}

// Tick runs one voice activity evaluation.
func (p *Pipeline) Tick() {
	p.mu.Lock()
	if p.stream == nil {
		p.mu.Unlock()
		return
	}
	level := p.analyser.Level(p.stream)
	d := Detector{Mode: p.cfg.Mode, Threshold: p.cfg.Threshold, Sensitivity: p.cfg.Sensitivity}
	speaking := d.Speaking(level, p.ptt)
	changed := speaking != p.speaking
	p.speaking = speaking
	p.level = level
	p.mu.Unlock()

	if changed {
		log.Debug().Str("module", "audio").Bool("speaking", speaking).Float64("level", level).Msg("speaking changed")
		p.bus.Publish(core.Event{Kind: core.EventSpeakingChanged, Speaking: speaking})
	}
	p.bus.Publish(core.Event{Kind: core.EventVolumeLevel, Level: level})
}

// Run ticks until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	t := time.NewTicker(p.cfg.FrameInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Tick()
		}
	}
}

// OnDisable registers a hook fired after capture is torn down.
func (p *Pipeline) OnDisable(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDisable = append(p.onDisable, fn)
}

// Disable stops capture, tears down the analyser and the audio context,
// then fires the disable hooks.
func (p *Pipeline) Disable() {
	p.mu.Lock()
	if p.stream == nil {
		p.mu.Unlock()
		return
	}
	p.stream.Stop()
	p.stream = nil
	p.analyser = nil
	p.actx.Close()
	p.actx = nil
	wasSpeaking := p.speaking
	p.speaking = false
	p.level = 0
	hooks := append([]func(){}, p.onDisable...)
	p.mu.Unlock()

	log.Info().Str("module", "audio").Msg("capture disabled")
	if wasSpeaking {
		p.bus.Publish(core.Event{Kind: core.EventSpeakingChanged, Speaking: false})
	}
	for _, fn := range hooks {
		fn()
	}
}
