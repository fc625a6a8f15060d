package rtc

import (
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{defaultSTUN},
			},
		},
	}
}

// ConfigFor builds a configuration from ICE server urls. An empty list
// falls back to the default STUN server.
func ConfigFor(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return DefaultWebRTCConfig()
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// Factory creates one PeerConnection per remote peer from a shared API
// carrying the default codecs and interceptors.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(cfg webrtc.Configuration) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))
	return &Factory{api: api, cfg: cfg}, nil
}

func (f *Factory) NewConnection(peer domain.PeerID) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	return newConnection(pc, peer), nil
}

// WebRTCConnection adapts a pion PeerConnection. Candidates trickle: the
// descriptions are returned as soon as they are applied and every local
// candidate is reported through OnICECandidate.
type WebRTCConnection struct {
	pc   *webrtc.PeerConnection
	peer domain.PeerID
}

func newConnection(pc *webrtc.PeerConnection, peer domain.PeerID) *WebRTCConnection {
	c := &WebRTCConnection{pc: pc, peer: peer}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("peer", string(peer)).Str("ice_state", s.String()).Msg("ICE state")
	})
	return c
}

func (c *WebRTCConnection) AddLocalTracks(tracks []webrtc.TrackLocal) error {
	for _, t := range tracks {
		sender, err := c.pc.AddTrack(t)
		if err != nil {
			return err
		}
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP reads incoming RTCP so the interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(core.RemoteStream)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", string(c.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		fn(remoteTrack{track})
	})
}

func (c *WebRTCConnection) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Str("peer_connection_state", s.String()).Msg("Peer state")
		fn(s)
	})
}

func (c *WebRTCConnection) Close() {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(c.peer)).Msg("close error")
		return
	}
	log.Info().Str("module", "webrtc").Str("peer", string(c.peer)).Msg("closed")
}

type remoteTrack struct {
	t *webrtc.TrackRemote
}

func (r remoteTrack) ID() string                       { return r.t.ID() }
func (r remoteTrack) Kind() webrtc.RTPCodecType        { return r.t.Kind() }
func (r remoteTrack) Codec() webrtc.RTPCodecParameters { return r.t.Codec() }

func (r remoteTrack) ReadPacket() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}
