package voice

import (
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Sweep expires sessions stuck negotiating for longer than the
// negotiation timeout. The peer is retried by the next proximity update;
// after MaxAttempts consecutive expiries it cools down for RetryCooldown.
// It returns the expired peers.
func (e *Engine) Sweep() []domain.PeerID {
	fx := &effects{}
	defer e.flush(fx)

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	var expired []domain.PeerID
	for _, s := range e.reg.Snapshot() {
		if !s.State().Negotiating() || now.Sub(s.since) < e.cfg.NegotiationTimeout {
			continue
		}
		logger := log.With().Str("module", "voice").Str("peer", string(s.peer)).Str("state", s.State().String()).Logger()
		e.teardownLocked(s, fx)
		expired = append(expired, s.peer)

		e.attempts[s.peer]++
		if e.attempts[s.peer] >= e.cfg.MaxAttempts {
			delete(e.attempts, s.peer)
			e.cooldown[s.peer] = now.Add(e.cfg.RetryCooldown)
			logger.Warn().Dur("cooldown", e.cfg.RetryCooldown).Msg("negotiation stalled, peer cooling down")
			continue
		}
		logger.Info().Int("attempt", e.attempts[s.peer]).Msg("negotiation stalled, expired")
	}
	return expired
}

func (e *Engine) coolingLocked(peer domain.PeerID) bool {
	until, ok := e.cooldown[peer]
	if !ok {
		return false
	}
	if e.now().Before(until) {
		return true
	}
	delete(e.cooldown, peer)
	return false
}
