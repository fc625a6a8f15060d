package voice

import (
	"github.com/dkeye/proxvoice/internal/app/audio"
	"github.com/dkeye/proxvoice/internal/domain"
)

// UpdateSpatialAudio ramps the peer's gain toward the volume for distance.
// No-op without an audio context or before the peer's audio is routed.
func (e *Engine) UpdateSpatialAudio(peer domain.PeerID, distance, maxDistance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actx := e.audio.AudioContext()
	if actx == nil {
		return
	}
	s := e.reg.Get(peer)
	if s == nil || s.gain == nil {
		return
	}
	vol := audio.SpatialVolume(distance, maxDistance, e.master)
	s.gain.SetTargetAtTime(vol, actx.Now(), e.cfg.GainTimeConstant)
}

func (e *Engine) SetMasterVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	e.master = v
}

// PeerGain returns the current output gain of peer and whether a gain
// node is routed for it.
func (e *Engine) PeerGain(peer domain.PeerID) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.reg.Get(peer)
	if s == nil || s.gain == nil {
		return 0, false
	}
	return s.gain.Value(), true
}

// PeerGainTarget is the volume the peer's gain is ramping toward.
func (e *Engine) PeerGainTarget(peer domain.PeerID) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.reg.Get(peer)
	if s == nil || s.gain == nil {
		return 0, false
	}
	return s.gain.Target(), true
}
