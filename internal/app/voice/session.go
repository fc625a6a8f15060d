package voice

import (
	"sync/atomic"
	"time"

	"github.com/dkeye/proxvoice/internal/app/audio"
	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
)

// Session is the voice connection to one remote peer. Fields other than
// state are guarded by the engine lock.
type Session struct {
	peer  domain.PeerID
	media core.MediaConnection
	state atomic.Int32
	since time.Time

	gain     *audio.GainNode
	playback core.Playback
}

func newSession(peer domain.PeerID, mc core.MediaConnection, now time.Time) *Session {
	return &Session{peer: peer, media: mc, since: now}
}

func (s *Session) Peer() domain.PeerID { return s.peer }

func (s *Session) State() domain.SessionState {
	return domain.SessionState(s.state.Load())
}

func (s *Session) setState(st domain.SessionState, now time.Time) {
	s.state.Store(int32(st))
	s.since = now
}
