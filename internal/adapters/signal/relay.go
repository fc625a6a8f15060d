package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/proxvoice/internal/app/orch"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards an offer, answer or ice envelope to its target.
func (ctl *SignalWSController) handleRelay(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p domain.SignalMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad signal payload")
		ctl.sendError(conn, domain.ErrCodeBadPayload)
		return
	}
	if err := p.SignalType.Validate(); err != nil || p.To == "" {
		ctl.sendError(conn, domain.ErrCodeBadPayload)
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("signal rate limited")
		ctl.sendError(conn, domain.ErrCodeRateLimited)
		return
	}

	switch err := ctl.Orch.Relay(sid, p.Envelope()); {
	case errors.Is(err, orch.ErrNotJoined):
		ctl.sendError(conn, domain.ErrCodeNotJoined)
	case errors.Is(err, orch.ErrUnknownPeer):
		ctl.sendError(conn, domain.ErrCodeUnknownPeer)
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("relay")
	}
}
