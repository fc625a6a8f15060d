package domain

import "encoding/json"

// Frame types on the signaling WebSocket.
const (
	MsgJoin     = "join"
	MsgLeave    = "leave"
	MsgPing     = "ping"
	MsgRename   = "rename"
	MsgWhoAmI   = "whoami"
	MsgPosition = "position"
	MsgSignal   = "signal"

	MsgWelcome       = "welcome"
	MsgPeerJoined    = "peer_joined"
	MsgPeerLeft      = "peer_left"
	MsgMemberUpdated = "member_updated"
	MsgLeft          = "left"
	MsgPong          = "pong"
	MsgNearby        = "nearby"
	MsgWorldState    = "world_state"
	MsgBotEvent      = "bot_event"
	MsgError         = "error"
)

// Error codes carried by error frames.
const (
	ErrCodeBadPayload  = "bad_payload"
	ErrCodeEmptyName   = "empty_name"
	ErrCodeInvalidName = "invalid_name"
	ErrCodeNotJoined   = "not_joined"
	ErrCodeUnknownPeer = "unknown_peer"
	ErrCodeRateLimited = "rate_limited"
)

// Envelope is the common header of every frame.
type Envelope struct {
	Type string `json:"type"`
}

type JoinMsg struct {
	Type  string    `json:"type"`
	World WorldName `json:"world,omitempty"`
	Name  string    `json:"name,omitempty"`
}

type RenameMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type PositionMsg struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// SignalMsg carries a SignalEnvelope. Clients set To, the relay replaces
// it with From before delivery.
type SignalMsg struct {
	Type       string          `json:"type"`
	From       PeerID          `json:"from,omitempty"`
	To         PeerID          `json:"to,omitempty"`
	SignalType SignalType      `json:"signal_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (m SignalMsg) Envelope() SignalEnvelope {
	return SignalEnvelope{From: m.From, To: m.To, Type: m.SignalType, Payload: m.Payload}
}

type PeerInfo struct {
	ID       PeerID `json:"id"`
	Username string `json:"username"`
	Position Vec2   `json:"position"`
}

type WelcomeMsg struct {
	Type  string     `json:"type"`
	ID    PeerID     `json:"id"`
	World WorldName  `json:"world"`
	Range float64    `json:"range"`
	Peers []PeerInfo `json:"peers"`
}

type PeerMsg struct {
	Type string `json:"type"`
	User User   `json:"user"`
}

type WhoAmIMsg struct {
	Type     string    `json:"type"`
	ID       PeerID    `json:"id"`
	Username string    `json:"username"`
	World    WorldName `json:"world,omitempty"`
}

type NearbyMsg struct {
	Type  string       `json:"type"`
	Range float64      `json:"range"`
	Peers []NearbyPeer `json:"peers"`
}

type WorldStateMsg struct {
	Type string        `json:"type"`
	Tick int64         `json:"tick"`
	Bots []BotSnapshot `json:"bots"`
}

type BotEventMsg struct {
	Type string       `json:"type"`
	Bot  BotID        `json:"bot"`
	Kind BotEventKind `json:"kind"`
}

type ErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
