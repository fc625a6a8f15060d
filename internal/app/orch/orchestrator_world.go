package orch

import (
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join moves sid into the named world, leaving its current one first.
// The joining member gets a welcome frame, the others a peer_joined.
func (o *Orchestrator) Join(sid core.SessionID, name domain.WorldName) (core.WorldService, bool) {
	if name == "" {
		name = domain.DefaultWorld
	}
	if from, _, ok := o.Registry.WorldOf(sid); ok {
		o.KickBySID(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_world", string(from)).Msg("left previous world")
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, false
	}
	w := o.Worlds.GetOrCreate(name)
	w.AddMember(sid, session)
	o.Registry.UpdateWorld(sid, name)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("world", string(name)).Msg("added to world")

	peers := make([]domain.PeerInfo, 0, w.MemberCount())
	for _, p := range w.MembersSnapshot() {
		if p.ID != sid.Peer() {
			peers = append(peers, p)
		}
	}
	o.Send(session.Signal(), domain.WelcomeMsg{
		Type:  domain.MsgWelcome,
		ID:    sid.Peer(),
		World: name,
		Range: w.World().VoiceRange,
		Peers: peers,
	})
	o.Broadcast(sid, peerMsg(domain.MsgPeerJoined, session.Meta().Account.User()))
	return w, true
}

// KickBySID removes sid from its world and tells the remaining members.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	name, session, ok := o.Registry.WorldOf(sid)
	if !ok {
		return
	}
	o.Broadcast(sid, peerMsg(domain.MsgPeerLeft, session.Meta().Account.User()))
	if w, ok := o.Worlds.Get(name); ok {
		w.RemoveMember(sid)
	}
	o.Registry.RemoveWorld(sid)
}

// Rename updates the username and tells the world.
func (o *Orchestrator) Rename(sid core.SessionID, name string) error {
	if err := o.Registry.UpdateUsername(sid, name); err != nil {
		return err
	}
	if u, ok := o.Registry.User(sid); ok {
		o.Broadcast(sid, peerMsg(domain.MsgMemberUpdated, u))
	}
	return nil
}

func (o *Orchestrator) Move(sid core.SessionID, pos domain.Vec2) bool {
	name, _, ok := o.Registry.WorldOf(sid)
	if !ok {
		return false
	}
	w, ok := o.Worlds.Get(name)
	if !ok {
		return false
	}
	return w.SetPosition(sid, pos)
}

// OnDisconnect releases sid if sess is still its bound session.
func (o *Orchestrator) OnDisconnect(sid core.SessionID, sess core.MemberSession) {
	if current, ok := o.Registry.GetSession(sid); !ok || current != sess {
		return
	}
	o.KickBySID(sid)
	o.Registry.Unbind(sid, sess)
}

func (o *Orchestrator) EvictWorld(name domain.WorldName) {
	for _, snap := range o.Registry.MembersOfWorld(name) {
		o.KickBySID(snap.SID)
		o.Send(snap.Session.Signal(), domain.Envelope{Type: domain.MsgLeft})
	}
	o.Worlds.StopWorld(name)
}
