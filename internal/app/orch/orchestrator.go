package orch

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/proxvoice/internal/app"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotJoined   = errors.New("not joined to a world")
	ErrUnknownPeer = errors.New("unknown peer")
)

type Orchestrator struct {
	Registry *app.Registry
	Worlds   core.WorldManager
	Policy   app.Policy
}

// Broadcast sends v to every member of the sender's world but the sender,
// applying the back-pressure policy to slow members.
func (o *Orchestrator) Broadcast(sid core.SessionID, v any) {
	worldName, _, ok := o.Registry.WorldOf(sid)
	if !ok {
		return
	}
	w, ok := o.Worlds.Get(worldName)
	if !ok {
		return
	}
	frame, err := encode(v)
	if err != nil {
		return
	}
	res := w.Broadcast(sid, frame)
	for _, slow := range res.Dropped {
		o.onBackPressure(w, slow)
	}
}

func (o *Orchestrator) onBackPressure(w core.WorldService, slow core.MemberSession) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(w, slow) {
	case app.KickMember:
		for _, snap := range o.Registry.MembersOfWorld(w.World().Name) {
			if snap.Session == slow {
				log.Warn().Str("module", "orch").Str("sid", string(snap.SID)).Msg("kicking slow member")
				o.KickBySID(snap.SID)
			}
		}
	case app.MarkSlow, app.DropFrame, app.NoAction:
	}
}

// Send delivers v to one session's signal connection.
func (o *Orchestrator) Send(conn core.SignalConnection, v any) {
	frame, err := encode(v)
	if err != nil {
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "orch").Msg("send dropped")
	}
}

func encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal frame")
		return nil, err
	}
	return b, nil
}

func peerMsg(typ string, u domain.User) domain.PeerMsg {
	return domain.PeerMsg{Type: typ, User: u}
}
