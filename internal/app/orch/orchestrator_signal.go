package orch

import (
	"errors"

	"github.com/dkeye/proxvoice/internal/app/world"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards a signaling envelope from sid to its target. Both must
// be members of the same world. The envelope payload is passed through
// untouched.
func (o *Orchestrator) Relay(sid core.SessionID, env domain.SignalEnvelope) error {
	name, _, ok := o.Registry.WorldOf(sid)
	if !ok {
		return ErrNotJoined
	}
	w, ok := o.Worlds.Get(name)
	if !ok {
		return ErrNotJoined
	}
	target := env.To
	if target == "" || target == sid.Peer() {
		return ErrUnknownPeer
	}
	frame, err := encode(domain.SignalMsg{
		Type:       domain.MsgSignal,
		From:       sid.Peer(),
		SignalType: env.Type,
		Payload:    env.Payload,
	})
	if err != nil {
		return err
	}
	ms, err := w.SendTo(target, frame)
	switch {
	case errors.Is(err, world.ErrNotMember):
		return ErrUnknownPeer
	case err != nil:
		log.Warn().Err(err).Str("module", "orch").Str("from", string(sid.Peer())).Str("to", string(target)).Msg("relay dropped")
		o.onBackPressure(w, ms)
		return nil
	}
	log.Debug().Str("module", "orch").Str("from", string(sid.Peer())).Str("to", string(target)).Str("signal", string(env.Type)).Msg("relayed")
	return nil
}
