package orch

import (
	"context"
	"time"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Tick steps every world once: bots move, every member gets its nearby
// set, and the world state plus bot chatter go to everyone.
func (o *Orchestrator) Tick(now time.Time) {
	for _, w := range o.Worlds.All() {
		res := w.Step(now)
		if w.MemberCount() == 0 {
			continue
		}
		state, err := encode(domain.WorldStateMsg{Type: domain.MsgWorldState, Tick: res.Tick, Bots: res.Bots})
		if err != nil {
			continue
		}
		o.broadcastTick(w, state)
		for _, ev := range res.Events {
			if frame, err := encode(domain.BotEventMsg{Type: domain.MsgBotEvent, Bot: ev.Bot, Kind: ev.Kind}); err == nil {
				o.broadcastTick(w, frame)
			}
		}
		// members kicked above get no nearby frame
		members := w.Members()
		for sid, ms := range members {
			nearby := w.Nearby(sid)
			if nearby == nil {
				nearby = []domain.NearbyPeer{}
			}
			o.Send(ms.Signal(), domain.NearbyMsg{
				Type:  domain.MsgNearby,
				Range: w.World().VoiceRange,
				Peers: nearby,
			})
		}
	}
}

func (o *Orchestrator) broadcastTick(w core.WorldService, frame core.Frame) {
	res := w.Broadcast("", frame)
	for _, slow := range res.Dropped {
		o.onBackPressure(w, slow)
	}
}

// Run ticks the worlds until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	log.Info().Str("module", "orch").Dur("interval", interval).Msg("world loop started")
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch").Msg("world loop stopped")
			return
		case now := <-t.C:
			o.Tick(now)
		}
	}
}
