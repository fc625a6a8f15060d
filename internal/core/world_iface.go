package core

import (
	"time"

	"github.com/dkeye/proxvoice/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// TickResult is what one simulation step of a world produced.
type TickResult struct {
	Tick   int64
	Bots   []domain.BotSnapshot
	Events []domain.BotEvent
}

// WorldService is the core-facing API of a world.
// It owns the membership set and positions but never touches transport resources.
type WorldService interface {
	World() *domain.World
	MemberCount() int
	MembersSnapshot() []domain.PeerInfo
	Members() map[SessionID]MemberSession

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	HasMember(sid SessionID) bool
	SetPosition(sid SessionID, pos domain.Vec2) bool
	Nearby(sid SessionID) []domain.NearbyPeer

	Broadcast(from SessionID, data Frame) PublishResult
	SendTo(to domain.PeerID, data Frame) (MemberSession, error)
	Step(now time.Time) TickResult
}

type WorldInfo struct {
	Name        domain.WorldName `json:"name"`
	MemberCount int              `json:"client_count"`
	BotCount    int              `json:"bot_count"`
}

type WorldManager interface {
	GetOrCreate(name domain.WorldName) WorldService
	Get(name domain.WorldName) (WorldService, bool)
	All() []WorldService
	List() []WorldInfo
	StopWorld(name domain.WorldName)
}
