package agent

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/proxvoice/internal/app/voice"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Voice is the part of the voice engine the agent drives.
type Voice interface {
	SetSelf(id domain.PeerID)
	UpdateNearbyPeers(nearby []domain.PeerID, voiceRange float64) voice.ProximityDelta
	UpdateSpatialAudio(peer domain.PeerID, distance, maxDistance float64)
	HandleSignal(env domain.SignalEnvelope)
	DisconnectPeer(peer domain.PeerID)
	DisconnectAll()
}

// Agent joins a world on every relay connection and feeds what the relay
// reports into the voice engine.
type Agent struct {
	voice Voice
	world domain.WorldName
	name  string

	mu       sync.Mutex
	sender   core.JSONSender
	self     domain.PeerID
	position domain.Vec2
	tick     int64
}

func New(v Voice, world domain.WorldName, name string, pos domain.Vec2) *Agent {
	return &Agent{voice: v, world: world, name: name, position: pos}
}

func (a *Agent) Self() domain.PeerID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self
}

func (a *Agent) Tick() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tick
}

func (a *Agent) OnConnect(s core.JSONSender) {
	a.mu.Lock()
	a.sender = s
	a.mu.Unlock()
	if err := s.SendJSON(domain.JoinMsg{Type: domain.MsgJoin, World: a.world, Name: a.name}); err != nil {
		log.Warn().Err(err).Str("module", "agent").Msg("send join")
	}
}

// OnDisconnect drops every voice session: without the relay no
// negotiation can complete and the nearby set is unknown.
func (a *Agent) OnDisconnect(err error) {
	a.mu.Lock()
	a.sender = nil
	a.mu.Unlock()
	log.Info().Err(err).Str("module", "agent").Msg("relay disconnected")
	a.voice.DisconnectAll()
}

// Move publishes a new position.
func (a *Agent) Move(pos domain.Vec2) error {
	a.mu.Lock()
	a.position = pos
	s := a.sender
	a.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.SendJSON(domain.PositionMsg{Type: domain.MsgPosition, X: pos.X, Y: pos.Y})
}

func (a *Agent) OnMessage(typ string, data []byte) {
	logger := log.With().Str("module", "agent").Str("type", typ).Logger()
	switch typ {
	case domain.MsgWelcome:
		var msg domain.WelcomeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("bad welcome")
			return
		}
		a.mu.Lock()
		a.self = msg.ID
		pos := a.position
		a.mu.Unlock()
		a.voice.SetSelf(msg.ID)
		logger.Info().Str("id", string(msg.ID)).Str("world", string(msg.World)).Int("peers", len(msg.Peers)).Msg("joined")
		if err := a.Move(pos); err != nil {
			logger.Warn().Err(err).Msg("send position")
		}

	case domain.MsgNearby:
		var msg domain.NearbyMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("bad nearby")
			return
		}
		ids := make([]domain.PeerID, 0, len(msg.Peers))
		for _, p := range msg.Peers {
			ids = append(ids, p.ID)
		}
		a.voice.UpdateNearbyPeers(ids, msg.Range)
		for _, p := range msg.Peers {
			a.voice.UpdateSpatialAudio(p.ID, p.Distance, msg.Range)
		}

	case domain.MsgSignal:
		var msg domain.SignalMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("bad signal")
			return
		}
		a.voice.HandleSignal(msg.Envelope())

	case domain.MsgPeerLeft:
		var msg domain.PeerMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Msg("bad peer_left")
			return
		}
		a.voice.DisconnectPeer(msg.User.ID)

	case domain.MsgWorldState:
		var msg domain.WorldStateMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		a.mu.Lock()
		a.tick = msg.Tick
		a.mu.Unlock()

	case domain.MsgBotEvent:
		var msg domain.BotEventMsg
		if err := json.Unmarshal(data, &msg); err == nil {
			logger.Debug().Str("bot", string(msg.Bot)).Str("kind", string(msg.Kind)).Msg("bot event")
		}

	case domain.MsgError:
		var msg domain.ErrorMsg
		if err := json.Unmarshal(data, &msg); err == nil {
			logger.Warn().Str("error", msg.Error).Msg("relay error")
		}

	default:
		logger.Debug().Msg("frame ignored")
	}
}
