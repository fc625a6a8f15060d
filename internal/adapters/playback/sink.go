package playback

import (
	"encoding/binary"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"
)

// Sink plays remote audio by decoding µ-law payloads to 16-bit PCM and
// writing them to Out. With a nil Out decoded audio is discarded.
type Sink struct {
	Out io.Writer

	mu sync.Mutex
}

func NewSink(out io.Writer) *Sink {
	return &Sink{Out: out}
}

func (s *Sink) Attach(peer domain.PeerID, stream core.RemoteStream) (core.Playback, error) {
	p := &Playback{
		sink:   s,
		peer:   peer,
		stream: stream,
		done:   make(chan struct{}),
		pcmu:   strings.EqualFold(stream.Codec().MimeType, webrtc.MimeTypePCMU),
	}
	go p.loop()
	log.Info().Str("module", "playback").Str("peer", string(peer)).Str("codec", stream.Codec().MimeType).Msg("playback attached")
	return p, nil
}

func (s *Sink) write(pcm []byte) {
	if s.Out == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.Out.Write(pcm); err != nil {
		log.Debug().Err(err).Str("module", "playback").Msg("write pcm")
	}
}

// Playback is one remote stream being read into the sink.
type Playback struct {
	sink   *Sink
	peer   domain.PeerID
	stream core.RemoteStream
	pcmu   bool
	done   chan struct{}

	mu     sync.Mutex
	gain   core.Gain
	closed bool

	packets atomic.Int64
}

func (p *Playback) Route(g core.Gain) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = g
}

// Close stops writing. The reader exits once the track delivers its next
// packet or ends.
func (p *Playback) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
}

// Packets is the number of RTP packets played so far.
func (p *Playback) Packets() int64 { return p.packets.Load() }

// Done is closed once the playback is closed.
func (p *Playback) Done() <-chan struct{} { return p.done }

func (p *Playback) volume() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, false
	}
	if p.gain == nil {
		return 1, true
	}
	return p.gain.Value(), true
}

func (p *Playback) loop() {
	logger := log.With().Str("module", "playback").Str("peer", string(p.peer)).Logger()
	for {
		pkt, err := p.stream.ReadPacket()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track ended")
			p.Close()
			return
		}
		vol, ok := p.volume()
		if !ok {
			return
		}
		p.packets.Add(1)
		if !p.pcmu || len(pkt.Payload) == 0 {
			continue
		}
		pcm := g711.DecodeUlaw(pkt.Payload)
		scale(pcm, vol)
		p.sink.write(pcm)
	}
}

// scale multiplies 16-bit little endian samples by vol in place.
func scale(pcm []byte, vol float64) {
	if vol == 1 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * vol
		v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}
