package voice

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/proxvoice/internal/app/audio"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var errNoRemoteDescription = errors.New("no remote description")

// fakeMedia mimics the signaling state transitions of a PeerConnection.
type fakeMedia struct {
	peer domain.PeerID

	mu         sync.Mutex
	state      webrtc.SignalingState
	hasRemote  bool
	tracks     int
	candidates []webrtc.ICECandidateInit
	offerErr   error
	closed     bool

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteStream)
	onState func(webrtc.PeerConnectionState)
}

func (m *fakeMedia) AddLocalTracks(tracks []webrtc.TrackLocal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks += len(tracks)
	return nil
}

func (m *fakeMedia) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offerErr != nil {
		return nil, m.offerErr
	}
	m.state = webrtc.SignalingStateHaveLocalOffer
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer:" + string(m.peer)}, nil
}

func (m *fakeMedia) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, errors.New("not an offer")
	}
	m.hasRemote = true
	m.state = webrtc.SignalingStateStable
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer:" + string(m.peer)}, nil
}

func (m *fakeMedia) ApplyAnswer(answer webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != webrtc.SignalingStateHaveLocalOffer {
		return errors.New("no local offer")
	}
	m.hasRemote = true
	m.state = webrtc.SignalingStateStable
	return nil
}

func (m *fakeMedia) AddICECandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasRemote {
		return errNoRemoteDescription
	}
	m.candidates = append(m.candidates, c)
	return nil
}

func (m *fakeMedia) SignalingState() webrtc.SignalingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *fakeMedia) OnICECandidate(fn func(webrtc.ICECandidateInit)) { m.onICE = fn }
func (m *fakeMedia) OnTrack(fn func(core.RemoteStream))              { m.onTrack = fn }
func (m *fakeMedia) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	m.onState = fn
}

// Close reports the closed state back like pion does.
func (m *fakeMedia) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.state = webrtc.SignalingStateClosed
	m.mu.Unlock()
	if m.onState != nil {
		m.onState(webrtc.PeerConnectionStateClosed)
	}
}

func (m *fakeMedia) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMedia) Candidates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.candidates)
}

type fakeFactory struct {
	mu       sync.Mutex
	conns    map[domain.PeerID][]*fakeMedia
	offerErr error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[domain.PeerID][]*fakeMedia)}
}

func (f *fakeFactory) NewConnection(peer domain.PeerID) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &fakeMedia{peer: peer, offerErr: f.offerErr}
	f.conns[peer] = append(f.conns[peer], m)
	return m, nil
}

func (f *fakeFactory) created(peer domain.PeerID) []*fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeMedia(nil), f.conns[peer]...)
}

func (f *fakeFactory) last(peer domain.PeerID) *fakeMedia {
	c := f.created(peer)
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

// fakeTransport records envelopes. With deliver set, they are handed to
// the remote engine synchronously.
type fakeTransport struct {
	from domain.PeerID

	mu      sync.Mutex
	sent    []domain.SignalEnvelope
	err     error
	deliver func(domain.SignalEnvelope)
}

func (t *fakeTransport) Send(to domain.PeerID, typ domain.SignalType, payload json.RawMessage) error {
	env := domain.SignalEnvelope{From: t.from, To: to, Type: typ, Payload: payload}
	t.mu.Lock()
	if t.err != nil {
		t.mu.Unlock()
		return t.err
	}
	t.sent = append(t.sent, env)
	deliver := t.deliver
	t.mu.Unlock()
	if deliver != nil {
		deliver(env)
	}
	return nil
}

func (t *fakeTransport) Sent() []domain.SignalEnvelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.SignalEnvelope(nil), t.sent...)
}

func (t *fakeTransport) SentOfType(typ domain.SignalType) []domain.SignalEnvelope {
	var out []domain.SignalEnvelope
	for _, env := range t.Sent() {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

type fakeAudio struct {
	mu     sync.Mutex
	active bool
	actx   *audio.Context
	hooks  []func()
}

func newFakeAudio(now func() time.Time) *fakeAudio {
	return &fakeAudio{active: true, actx: audio.NewContext(now)}
}

func (a *fakeAudio) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *fakeAudio) Tracks() []webrtc.TrackLocal { return nil }

func (a *fakeAudio) AudioContext() *audio.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.actx
}

func (a *fakeAudio) OnDisable(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, fn)
}

func (a *fakeAudio) disable() {
	a.mu.Lock()
	a.active = false
	if a.actx != nil {
		a.actx.Close()
		a.actx = nil
	}
	hooks := a.hooks
	a.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

type fakeStream struct {
	id   string
	kind webrtc.RTPCodecType
}

func (s fakeStream) ID() string                { return s.id }
func (s fakeStream) Kind() webrtc.RTPCodecType { return s.kind }
func (s fakeStream) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU}}
}
func (s fakeStream) ReadPacket() (*rtp.Packet, error) { return nil, errors.New("eof") }

type fakePlayback struct {
	mu     sync.Mutex
	gain   core.Gain
	closed bool
}

func (p *fakePlayback) Route(g core.Gain) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = g
}

func (p *fakePlayback) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePlayback) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeSink struct {
	mu        sync.Mutex
	playbacks map[domain.PeerID][]*fakePlayback
}

func newFakeSink() *fakeSink {
	return &fakeSink{playbacks: make(map[domain.PeerID][]*fakePlayback)}
}

func (s *fakeSink) Attach(peer domain.PeerID, _ core.RemoteStream) (core.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &fakePlayback{}
	s.playbacks[peer] = append(s.playbacks[peer], p)
	return p, nil
}

func (s *fakeSink) of(peer domain.PeerID) []*fakePlayback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakePlayback(nil), s.playbacks[peer]...)
}

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// harness is one engine with all of its fakes.
type harness struct {
	id        domain.PeerID
	engine    *Engine
	factory   *fakeFactory
	transport *fakeTransport
	audio     *fakeAudio
	sink      *fakeSink
	bus       *core.Bus
	clock     *clock
	events    *eventLog
}

func newHarness(id domain.PeerID, clk *clock) *harness {
	if clk == nil {
		clk = newClock()
	}
	h := &harness{
		id:        id,
		factory:   newFakeFactory(),
		transport: &fakeTransport{from: id},
		audio:     newFakeAudio(clk.Now),
		sink:      newFakeSink(),
		bus:       core.NewBus(),
		clock:     clk,
	}
	h.events = recordEvents(h.bus)
	h.engine = NewEngine(Config{MasterVolume: 1}, h.factory, h.transport, h.audio, h.sink, h.bus).WithClock(clk.Now)
	h.engine.SetSelf(id)
	return h
}

// link makes a and b deliver their envelopes to each other.
func link(a, b *harness) {
	a.transport.deliver = func(env domain.SignalEnvelope) {
		if env.To == b.id {
			b.engine.HandleSignal(env)
		}
	}
	b.transport.deliver = func(env domain.SignalEnvelope) {
		if env.To == a.id {
			a.engine.HandleSignal(env)
		}
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func recordEvents(bus *core.Bus) *eventLog {
	l := &eventLog{}
	rec := func(ev core.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, ev)
	}
	for _, k := range []core.EventKind{core.EventPeerConnected, core.EventPeerDisconnected, core.EventSessionState} {
		bus.Subscribe(k, rec)
	}
	return l
}

func (l *eventLog) count(kind core.EventKind, peer domain.PeerID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind && ev.Peer == peer {
			n++
		}
	}
	return n
}
