package core

import (
	"sync"

	"github.com/dkeye/proxvoice/internal/domain"
)

type EventKind int

const (
	EventPeerConnected EventKind = iota
	EventPeerDisconnected
	EventSessionState
	EventSpeakingChanged
	EventVolumeLevel
)

func (k EventKind) String() string {
	switch k {
	case EventPeerConnected:
		return "peer_connected"
	case EventPeerDisconnected:
		return "peer_disconnected"
	case EventSessionState:
		return "session_state"
	case EventSpeakingChanged:
		return "speaking_changed"
	case EventVolumeLevel:
		return "volume_level"
	default:
		return "unknown"
	}
}

// Event is a tagged notification. Which fields are set depends on Kind:
// Peer/State for the peer kinds, Speaking for EventSpeakingChanged and
// Level for EventVolumeLevel.
type Event struct {
	Kind     EventKind
	Peer     domain.PeerID
	State    domain.SessionState
	Speaking bool
	Level    float64
}

// Bus dispatches events to explicit subscriber lists, one per kind.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventKind][]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[EventKind][]func(Event))}
}

func (b *Bus) Subscribe(kind EventKind, fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], fn)
}

// Publish calls subscribers synchronously in subscription order.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.subs[ev.Kind]
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (b *Bus) OnSpeakingChange(fn func(speaking bool)) {
	b.Subscribe(EventSpeakingChanged, func(ev Event) { fn(ev.Speaking) })
}

func (b *Bus) OnVolumeUpdate(fn func(level float64)) {
	b.Subscribe(EventVolumeLevel, func(ev Event) { fn(ev.Level) })
}
