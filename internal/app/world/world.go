package world

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotMember = errors.New("not a member of this world")

// worldImpl is a threadsafe in-memory world.
// It never closes adapter-owned resources.
type worldImpl struct {
	world *domain.World

	mu     sync.RWMutex
	bySID  map[core.SessionID]core.MemberSession
	byPeer map[domain.PeerID]core.SessionID
	pop    *Population
	tick   int64
}

func NewWorldService(w *domain.World, pop *Population) core.WorldService {
	return &worldImpl{
		world:  w,
		bySID:  make(map[core.SessionID]core.MemberSession),
		byPeer: make(map[domain.PeerID]core.SessionID),
		pop:    pop,
	}
}

func (w *worldImpl) World() *domain.World { return w.world }

func (w *worldImpl) MemberCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.bySID)
}

func (w *worldImpl) AddMember(sid core.SessionID, ms core.MemberSession) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bySID[sid] = ms
	w.byPeer[sid.Peer()] = sid
	log.Info().Str("module", "world").Str("world", string(w.world.Name)).Str("sid", string(sid)).Msg("member added")
}

func (w *worldImpl) RemoveMember(sid core.SessionID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.bySID, sid)
	delete(w.byPeer, sid.Peer())
	log.Info().Str("module", "world").Str("world", string(w.world.Name)).Str("sid", string(sid)).Msg("member removed")
}

func (w *worldImpl) HasMember(sid core.SessionID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.bySID[sid]
	return ok
}

func (w *worldImpl) Members() map[core.SessionID]core.MemberSession {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[core.SessionID]core.MemberSession, len(w.bySID))
	for sid, ms := range w.bySID {
		out[sid] = ms
	}
	return out
}

func (w *worldImpl) SetPosition(sid core.SessionID, pos domain.Vec2) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	ms, ok := w.bySID[sid]
	if !ok {
		return false
	}
	ms.Meta().Position = pos
	return true
}

// Nearby lists the other members within voice range of sid, closest first.
func (w *worldImpl) Nearby(sid core.SessionID) []domain.NearbyPeer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	self, ok := w.bySID[sid]
	if !ok {
		return nil
	}
	anchor := self.Meta().Position
	out := make([]domain.NearbyPeer, 0, len(w.bySID))
	for other, ms := range w.bySID {
		if other == sid {
			continue
		}
		if d := anchor.Dist(ms.Meta().Position); d <= w.world.VoiceRange {
			out = append(out, domain.NearbyPeer{ID: other.Peer(), Distance: d})
		}
	}
	slices.SortFunc(out, func(a, b domain.NearbyPeer) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

func (w *worldImpl) Broadcast(from core.SessionID, data core.Frame) core.PublishResult {
	w.mu.RLock()
	defer w.mu.RUnlock()
	res := core.PublishResult{}
	for sid, m := range w.bySID {
		if sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "world").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendTo delivers data to one member. The member session is returned with
// send errors so the caller can apply its back-pressure policy.
func (w *worldImpl) SendTo(to domain.PeerID, data core.Frame) (core.MemberSession, error) {
	w.mu.RLock()
	ms, ok := w.bySID[w.byPeer[to]]
	w.mu.RUnlock()
	if !ok {
		return nil, ErrNotMember
	}
	return ms, ms.Signal().TrySend(data)
}

func (w *worldImpl) MembersSnapshot() []domain.PeerInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]domain.PeerInfo, 0, len(w.bySID))
	for _, ms := range w.bySID {
		m := ms.Meta()
		u := m.Account.User()
		out = append(out, domain.PeerInfo{ID: u.ID, Username: u.Username, Position: m.Position})
	}
	slices.SortFunc(out, func(a, b domain.PeerInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Step advances the bot population by one tick. Bots follow the member
// closest to them.
func (w *worldImpl) Step(now time.Time) core.TickResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick++
	positions := make([]domain.Vec2, 0, len(w.bySID))
	for _, ms := range w.bySID {
		positions = append(positions, ms.Meta().Position)
	}
	res := core.TickResult{Tick: w.tick}
	if w.pop != nil {
		res.Events = w.pop.Step(now, positions)
		res.Bots = w.pop.Snapshot()
	}
	return res
}
