package voice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/proxvoice/internal/app/audio"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrSessionExists = errors.New("session already exists")

const (
	DefaultNegotiationTimeout = 15 * time.Second
	DefaultMaxAttempts        = 3
	DefaultRetryCooldown      = time.Minute
	DefaultGainTimeConstant   = 100 * time.Millisecond
)

type Config struct {
	NegotiationTimeout time.Duration
	MaxAttempts        int
	RetryCooldown      time.Duration
	MasterVolume       float64
	GainTimeConstant   time.Duration
}

// LocalAudio is the part of the audio pipeline the engine depends on.
type LocalAudio interface {
	Active() bool
	Tracks() []webrtc.TrackLocal
	AudioContext() *audio.Context
	OnDisable(func())
}

// Engine is the voice mesh of one local participant: the session
// registry, the per-peer negotiation state machines, proximity sync and
// spatial gain. One engine is built per process or test.
type Engine struct {
	cfg       Config
	media     core.MediaFactory
	transport core.SignalTransport
	audio     LocalAudio
	sink      core.OutputSink
	bus       *core.Bus
	now       func() time.Time

	reg *Registry

	// mu serializes every state machine step, so callbacks from the media
	// layer interleave like events on a single loop.
	mu         sync.Mutex
	self       domain.PeerID
	master     float64
	voiceRange float64
	attempts   map[domain.PeerID]int
	cooldown   map[domain.PeerID]time.Time
}

func NewEngine(
	cfg Config,
	media core.MediaFactory,
	transport core.SignalTransport,
	la LocalAudio,
	sink core.OutputSink,
	bus *core.Bus,
) *Engine {
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryCooldown <= 0 {
		cfg.RetryCooldown = DefaultRetryCooldown
	}
	if cfg.GainTimeConstant <= 0 {
		cfg.GainTimeConstant = DefaultGainTimeConstant
	}
	if bus == nil {
		bus = core.NewBus()
	}
	e := &Engine{
		cfg:       cfg,
		media:     media,
		transport: transport,
		audio:     la,
		sink:      sink,
		bus:       bus,
		now:       time.Now,
		reg:       NewRegistry(),
		master:    cfg.MasterVolume,
		attempts:  make(map[domain.PeerID]int),
		cooldown:  make(map[domain.PeerID]time.Time),
	}
	la.OnDisable(e.DisconnectAll)
	return e
}

// WithClock replaces the engine clock. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Registry() *Registry { return e.reg }

func (e *Engine) Bus() *core.Bus { return e.bus }

func (e *Engine) SetSelf(id domain.PeerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.self = id
}

func (e *Engine) Self() domain.PeerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// Enabled reports whether local voice is on.
func (e *Engine) Enabled() bool { return e.audio.Active() }

// State returns the negotiation state of peer, StateClosed if unknown.
func (e *Engine) State(peer domain.PeerID) domain.SessionState {
	if s := e.reg.Get(peer); s != nil {
		return s.State()
	}
	return domain.StateClosed
}

// GetConnectedPeers returns the peers whose session completed negotiation.
func (e *Engine) GetConnectedPeers() map[domain.PeerID]struct{} {
	out := make(map[domain.PeerID]struct{})
	for _, s := range e.reg.Snapshot() {
		if s.State() == domain.StateConnected {
			out[s.peer] = struct{}{}
		}
	}
	return out
}

// ConnectToPeer starts a locally initiated session. It is a no-op when
// voice is disabled, the peer is self, a session already exists or the
// peer is cooling down after repeated stalled negotiations.
func (e *Engine) ConnectToPeer(peer domain.PeerID) {
	e.connectToPeer(peer)
}

func (e *Engine) connectToPeer(peer domain.PeerID) bool {
	fx := &effects{}
	defer e.flush(fx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.audio.Active() || peer == "" || peer == e.self {
		return false
	}
	if e.reg.Get(peer) != nil {
		return false
	}
	if e.coolingLocked(peer) {
		log.Debug().Str("module", "voice").Str("peer", string(peer)).Msg("connect skipped, peer cooling down")
		return false
	}

	s, err := e.newSessionLocked(peer, fx)
	if err != nil {
		return false
	}
	offer, err := s.media.CreateAndSetOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(peer)).Msg("create offer")
		e.teardownLocked(s, fx)
		return false
	}
	e.setStateLocked(s, domain.StateOfferSent, fx)
	fx.send(peer, domain.SignalOffer, offer)
	log.Info().Str("module", "voice").Str("peer", string(peer)).Msg("offer sent")
	return true
}

// DisconnectPeer tears down the session for peer. Unknown peers are a no-op.
func (e *Engine) DisconnectPeer(peer domain.PeerID) {
	e.disconnectPeer(peer)
}

func (e *Engine) disconnectPeer(peer domain.PeerID) bool {
	fx := &effects{}
	defer e.flush(fx)

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.reg.Get(peer)
	if s == nil {
		return false
	}
	e.teardownLocked(s, fx)
	return true
}

// DisconnectAll closes every session. Bound to the audio pipeline's
// disable hook: without local audio no session stays alive.
func (e *Engine) DisconnectAll() {
	fx := &effects{}
	defer e.flush(fx)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.reg.Snapshot() {
		e.teardownLocked(s, fx)
	}
}

// Run sweeps stalled negotiations until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	interval := e.cfg.NegotiationTimeout / 3
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			e.DisconnectAll()
			return
		case <-t.C:
			e.Sweep()
		}
	}
}

func (e *Engine) newSessionLocked(peer domain.PeerID, fx *effects) (*Session, error) {
	mc, err := e.media.NewConnection(peer)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("peer", string(peer)).Msg("new media connection")
		return nil, err
	}
	s := newSession(peer, mc, e.now())
	if tracks := e.audio.Tracks(); len(tracks) > 0 {
		if err := mc.AddLocalTracks(tracks); err != nil {
			log.Warn().Err(err).Str("module", "voice").Str("peer", string(peer)).Msg("attach local tracks")
		}
	}
	mc.OnICECandidate(func(c webrtc.ICECandidateInit) { e.onLocalCandidate(s, c) })
	mc.OnTrack(func(rs core.RemoteStream) { e.onRemoteTrack(s, rs) })
	mc.OnStateChange(func(st webrtc.PeerConnectionState) { e.onMediaState(s, st) })

	if !e.reg.Register(s) {
		fx.closes = append(fx.closes, mc)
		return nil, ErrSessionExists
	}
	fx.event(core.Event{Kind: core.EventSessionState, Peer: peer, State: domain.StateIdle})
	return s, nil
}

func (e *Engine) setStateLocked(s *Session, st domain.SessionState, fx *effects) {
	if s.State() == st {
		return
	}
	s.setState(st, e.now())
	fx.event(core.Event{Kind: core.EventSessionState, Peer: s.peer, State: st})
	if st == domain.StateConnected {
		delete(e.attempts, s.peer)
		delete(e.cooldown, s.peer)
		fx.event(core.Event{Kind: core.EventPeerConnected, Peer: s.peer, State: st})
		log.Info().Str("module", "voice").Str("peer", string(s.peer)).Msg("peer connected")
	}
}

// teardownLocked releases everything the session owns. Closing the media
// connection is deferred to flush since it may call back into the engine.
func (e *Engine) teardownLocked(s *Session, fx *effects) {
	if !e.reg.Remove(s.peer, s) {
		return
	}
	s.setState(domain.StateClosed, e.now())
	if s.playback != nil {
		s.playback.Close()
		s.playback = nil
	}
	if s.gain != nil {
		s.gain.Disconnect()
		s.gain = nil
	}
	fx.closes = append(fx.closes, s.media)
	fx.event(core.Event{Kind: core.EventSessionState, Peer: s.peer, State: domain.StateClosed})
	fx.event(core.Event{Kind: core.EventPeerDisconnected, Peer: s.peer, State: domain.StateClosed})
	log.Info().Str("module", "voice").Str("peer", string(s.peer)).Msg("peer disconnected")
}

// currentLocked reports whether s is still the registered session.
func (e *Engine) currentLocked(s *Session) bool {
	return e.reg.Get(s.peer) == s && s.State() != domain.StateClosed
}

// effects are collected under the engine lock and executed after it is
// released: transport sends, media closes and event dispatch.
type effects struct {
	sends  []domain.SignalEnvelope
	closes []core.MediaConnection
	events []core.Event
}

func (fx *effects) send(to domain.PeerID, t domain.SignalType, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "voice").Str("signal", string(t)).Msg("marshal payload")
		return
	}
	fx.sends = append(fx.sends, domain.SignalEnvelope{To: to, Type: t, Payload: payload})
}

func (fx *effects) event(ev core.Event) {
	fx.events = append(fx.events, ev)
}

func (e *Engine) flush(fx *effects) {
	for _, env := range fx.sends {
		if e.transport == nil {
			continue
		}
		if err := e.transport.Send(env.To, env.Type, env.Payload); err != nil {
			log.Debug().Err(err).Str("module", "voice").Str("peer", string(env.To)).Str("signal", string(env.Type)).Msg("signal not sent")
		}
	}
	for _, mc := range fx.closes {
		mc.Close()
	}
	for _, ev := range fx.events {
		e.bus.Publish(ev)
	}
}
