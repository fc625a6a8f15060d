package core

import (
	"encoding/json"

	"github.com/dkeye/proxvoice/internal/domain"
)

// Frame is a raw text payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalTransport delivers addressed signaling messages to a remote peer.
// The voice engine only depends on this send contract; inbound envelopes
// are pushed into the engine by whoever owns the transport.
type SignalTransport interface {
	Send(to domain.PeerID, t domain.SignalType, payload json.RawMessage) error
}

// JSONSender writes one JSON frame to the relay.
type JSONSender interface {
	SendJSON(v any) error
}
