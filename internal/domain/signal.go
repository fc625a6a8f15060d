package domain

import (
	"encoding/json"
	"errors"
)

type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
	SignalICE    SignalType = "ice"
)

var ErrUnknownSignalType = errors.New("unknown signal type")

func (t SignalType) Validate() error {
	switch t {
	case SignalOffer, SignalAnswer, SignalICE:
		return nil
	}
	return ErrUnknownSignalType
}

// SignalEnvelope is an addressed signaling message. Payload is a session
// description for offer/answer and an ICE candidate for ice; the relay
// passes it through untouched.
type SignalEnvelope struct {
	From    PeerID          `json:"from,omitempty"`
	To      PeerID          `json:"to,omitempty"`
	Type    SignalType      `json:"signal_type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
