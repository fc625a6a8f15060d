package core

import (
	"context"

	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Constraints are the processing hints requested when the microphone opens.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// CaptureStream is an open microphone. Its tracks are shared read-only by
// every outbound connection; only the audio pipeline may stop them.
type CaptureStream interface {
	Tracks() []webrtc.TrackLocal
	SampleRate() int
	// Window copies the most recent PCM samples into dst and returns how
	// many were written.
	Window(dst []float64) int
	// SetEnabled opens or closes the outbound gate.
	SetEnabled(on bool)
	Enabled() bool
	Stop()
}

type Microphone interface {
	Open(ctx context.Context, c Constraints) (CaptureStream, error)
}

// Gain is a read-only view of a gain node.
type Gain interface {
	Value() float64
}

// Playback is a remote stream attached to the output sink.
type Playback interface {
	// Route makes the playback follow g instead of unity gain.
	Route(g Gain)
	Close()
}

type OutputSink interface {
	Attach(peer domain.PeerID, stream RemoteStream) (Playback, error)
}
