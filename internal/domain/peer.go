package domain

// PeerID is the stable public identifier of a participant. The relay
// server derives it from the client token.
type PeerID string

// SessionState is the negotiation state of one voice session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateOfferSent
	StateOfferReceived
	StateAnswerSent
	StateConnected
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Negotiating reports whether the session still waits for the other side.
func (s SessionState) Negotiating() bool {
	return s == StateOfferSent || s == StateOfferReceived || s == StateAnswerSent
}

// NearbyPeer is one entry of a proximity snapshot.
type NearbyPeer struct {
	ID       PeerID  `json:"id"`
	Distance float64 `json:"distance"`
}
