package signal

import (
	"encoding/json"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p domain.RenameMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, domain.ErrCodeBadPayload)
		return
	}
	if p.Name == "" {
		ctl.sendError(conn, domain.ErrCodeEmptyName)
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename")
	if err := ctl.Orch.Rename(sid, p.Name); err != nil {
		ctl.sendError(conn, domain.ErrCodeInvalidName)
		return
	}
	ctl.handleWhoAmI(sid, conn)
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	ctl.Orch.Registry.GetOrCreateUser(sid)
	u, _ := ctl.Orch.Registry.User(sid)

	resp := domain.WhoAmIMsg{
		Type:     domain.MsgWhoAmI,
		ID:       u.ID,
		Username: u.Username,
	}
	if world, _, ok := ctl.Orch.Registry.WorldOf(sid); ok {
		resp.World = world
	}
	ctl.sendJSON(conn, resp)
}
