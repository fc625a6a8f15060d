package voice

import (
	"encoding/json"

	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// HandleSignal applies one inbound envelope. Nothing is returned: races
// and malformed input are logged and dropped.
func (e *Engine) HandleSignal(env domain.SignalEnvelope) {
	fx := &effects{}
	defer e.flush(fx)

	e.mu.Lock()
	defer e.mu.Unlock()

	switch env.Type {
	case domain.SignalOffer:
		e.handleOfferLocked(env, fx)
	case domain.SignalAnswer:
		e.handleAnswerLocked(env, fx)
	case domain.SignalICE:
		e.handleCandidateLocked(env)
	default:
		log.Warn().Str("module", "voice").Str("from", string(env.From)).Str("signal", string(env.Type)).Msg("unknown signal")
	}
}

func (e *Engine) handleOfferLocked(env domain.SignalEnvelope, fx *effects) {
	logger := log.With().Str("module", "voice").Str("peer", string(env.From)).Logger()
	if !e.audio.Active() {
		logger.Debug().Msg("offer ignored, voice disabled")
		return
	}
	if env.From == "" || env.From == e.self {
		return
	}
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &offer); err != nil {
		logger.Warn().Err(err).Msg("bad offer payload")
		return
	}

	s := e.reg.Get(env.From)
	if s != nil && s.State() == domain.StateOfferSent {
		// Glare: both sides offered. The smaller id yields and answers,
		// the larger one keeps its offer and waits for the answer.
		if e.self >= env.From {
			logger.Info().Msg("glare, keeping local offer")
			return
		}
		logger.Info().Msg("glare, yielding to remote offer")
		e.teardownLocked(s, fx)
		s = nil
	}
	if s == nil {
		var err error
		if s, err = e.newSessionLocked(env.From, fx); err != nil {
			return
		}
		e.setStateLocked(s, domain.StateOfferReceived, fx)
	}

	answer, err := s.media.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		logger.Warn().Err(err).Msg("apply offer")
		return
	}
	if s.State() != domain.StateConnected {
		e.setStateLocked(s, domain.StateAnswerSent, fx)
	}
	fx.send(env.From, domain.SignalAnswer, answer)
	logger.Info().Msg("answer sent")
}

func (e *Engine) handleAnswerLocked(env domain.SignalEnvelope, fx *effects) {
	logger := log.With().Str("module", "voice").Str("peer", string(env.From)).Logger()
	s := e.reg.Get(env.From)
	if s == nil {
		logger.Warn().Msg("answer from unknown peer dropped")
		return
	}
	if s.media.SignalingState() == webrtc.SignalingStateStable {
		logger.Debug().Msg("answer on stable connection ignored")
		return
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &answer); err != nil {
		logger.Warn().Err(err).Msg("bad answer payload")
		return
	}
	if err := s.media.ApplyAnswer(answer); err != nil {
		logger.Warn().Err(err).Msg("apply answer")
		return
	}
	e.setStateLocked(s, domain.StateConnected, fx)
}

func (e *Engine) handleCandidateLocked(env domain.SignalEnvelope) {
	logger := log.With().Str("module", "voice").Str("peer", string(env.From)).Logger()
	s := e.reg.Get(env.From)
	if s == nil {
		logger.Warn().Msg("ice from unknown peer dropped")
		return
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Payload, &cand); err != nil {
		logger.Warn().Err(err).Msg("bad ice payload")
		return
	}
	if err := s.media.AddICECandidate(cand); err != nil {
		logger.Warn().Err(err).Msg("add ice candidate")
	}
}
