package voice

import (
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// ProximityDelta lists what one proximity update changed.
type ProximityDelta struct {
	Connected    []domain.PeerID
	Disconnected []domain.PeerID
}

func (d ProximityDelta) Empty() bool {
	return len(d.Connected) == 0 && len(d.Disconnected) == 0
}

// UpdateNearbyPeers connects to newly nearby peers and disconnects the
// registered ones that left the set. Calling it again with the same set
// changes nothing.
func (e *Engine) UpdateNearbyPeers(nearby []domain.PeerID, voiceRange float64) ProximityDelta {
	e.mu.Lock()
	self := e.self
	if voiceRange > 0 {
		e.voiceRange = voiceRange
	}
	e.mu.Unlock()

	want := make(map[domain.PeerID]struct{}, len(nearby))
	for _, id := range nearby {
		if id != self && id != "" {
			want[id] = struct{}{}
		}
	}

	var d ProximityDelta
	for _, id := range nearby {
		if _, ok := want[id]; !ok || e.reg.Get(id) != nil {
			continue
		}
		if e.connectToPeer(id) {
			d.Connected = append(d.Connected, id)
		}
	}
	for _, id := range e.reg.IDs() {
		if _, ok := want[id]; ok {
			continue
		}
		if e.disconnectPeer(id) {
			d.Disconnected = append(d.Disconnected, id)
		}
	}
	if !d.Empty() {
		log.Debug().Str("module", "voice.proximity").Int("connected", len(d.Connected)).Int("disconnected", len(d.Disconnected)).Msg("nearby set applied")
	}
	return d
}

// VoiceRange is the range of the last proximity update.
func (e *Engine) VoiceRange() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voiceRange
}
