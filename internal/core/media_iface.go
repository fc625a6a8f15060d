package core

import (
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteStream is an inbound media track of a remote peer.
type RemoteStream interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	// ReadPacket blocks until the next RTP packet arrives or the track ends.
	ReadPacket() (*rtp.Packet, error)
}

type MediaConnection interface {
	// AddLocalTracks attaches the shared outbound capture tracks.
	AddLocalTracks(tracks []webrtc.TrackLocal) error
	// CreateAndSetOffer builds an offer and applies it as local description.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer applies a remote offer, then builds and
	// applies the answer.
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteStream))
	OnStateChange(func(webrtc.PeerConnectionState))

	// Close should stop all underlying media resources.
	Close()
}

type MediaFactory interface {
	NewConnection(peer domain.PeerID) (MediaConnection, error)
}
