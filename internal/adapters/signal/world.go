package signal

import (
	"encoding/json"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p domain.JoinMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, domain.ErrCodeBadPayload)
		return
	}
	p.World = p.World.Clamp()
	if p.World == "" {
		p.World = conn.world
	}

	if p.Name != "" {
		if err := ctl.Orch.Registry.UpdateUsername(sid, p.Name); err != nil {
			ctl.sendError(conn, domain.ErrCodeInvalidName)
			return
		}
		log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename on join")
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("world", string(p.World)).Msg("join")
	ctl.Orch.Join(sid, p.World)
}

// handleLeave leaves the current world; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.KickBySID(sid)
	ctl.sendJSON(conn, domain.Envelope{Type: domain.MsgLeft})
}

func (ctl *SignalWSController) handlePosition(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p domain.PositionMsg
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, domain.ErrCodeBadPayload)
		return
	}
	if !ctl.Orch.Move(sid, domain.Vec2{X: p.X, Y: p.Y}) {
		ctl.sendError(conn, domain.ErrCodeNotJoined)
	}
}
