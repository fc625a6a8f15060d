package voice

import (
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// onLocalCandidate forwards each gathered candidate as its own envelope.
func (e *Engine) onLocalCandidate(s *Session, c webrtc.ICECandidateInit) {
	fx := &effects{}
	defer e.flush(fx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(s) {
		return
	}
	fx.send(s.peer, domain.SignalICE, c)
}

// onRemoteTrack replaces any previous playback for the peer and routes the
// new stream through the peer's gain node when an audio context exists.
func (e *Engine) onRemoteTrack(s *Session, rs core.RemoteStream) {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := log.With().Str("module", "voice").Str("peer", string(s.peer)).Str("track_id", rs.ID()).Logger()
	if !e.currentLocked(s) {
		logger.Debug().Msg("track for torn down session ignored")
		return
	}
	if rs.Kind() != webrtc.RTPCodecTypeAudio {
		logger.Debug().Str("kind", rs.Kind().String()).Msg("non audio track ignored")
		return
	}
	if s.playback != nil {
		s.playback.Close()
		s.playback = nil
	}
	if e.sink == nil {
		return
	}
	pb, err := e.sink.Attach(s.peer, rs)
	if err != nil {
		logger.Warn().Err(err).Msg("attach playback")
		return
	}
	s.playback = pb

	if actx := e.audio.AudioContext(); actx != nil {
		if s.gain == nil {
			s.gain = actx.NewGain()
		}
		if s.gain != nil {
			pb.Route(s.gain)
		}
	}
	logger.Info().Msg("remote audio attached")
}

func (e *Engine) onMediaState(s *Session, st webrtc.PeerConnectionState) {
	fx := &effects{}
	defer e.flush(fx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(s) {
		return
	}
	log.Debug().Str("module", "voice").Str("peer", string(s.peer)).Str("peer_connection_state", st.String()).Msg("media state")
	switch st {
	case webrtc.PeerConnectionStateConnected:
		e.setStateLocked(s, domain.StateConnected, fx)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		e.teardownLocked(s, fx)
	}
}
