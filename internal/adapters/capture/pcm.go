package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"
)

const (
	DefaultSampleRate = 8000
	FrameDuration     = 20 * time.Millisecond

	// SourceStdin reads PCM from standard input.
	SourceStdin = "-"

	historySize = 4096
)

var ErrUnsupportedRate = errors.New("only 8 kHz PCM is supported")

// PCMMicrophone captures 16-bit little endian mono PCM from a file, from
// stdin, or from silence when Source is empty. Frames are µ-law encoded
// and written to a PCMU sample track.
type PCMMicrophone struct {
	Source     string
	SampleRate int
	StreamID   string
	// Loop rewinds a file source on EOF.
	Loop bool
}

func (m *PCMMicrophone) Open(ctx context.Context, c core.Constraints) (core.CaptureStream, error) {
	rate := m.SampleRate
	if rate == 0 {
		rate = DefaultSampleRate
	}
	if rate != DefaultSampleRate {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedRate, rate)
	}

	src, err := m.openSource()
	if err != nil {
		return nil, err
	}

	streamID := m.StreamID
	if streamID == "" {
		streamID = "voice"
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: uint32(rate), Channels: 1},
		"audio", streamID,
	)
	if err != nil {
		src.Close()
		return nil, err
	}

	log.Info().
		Str("module", "capture").
		Str("source", m.Source).
		Bool("echo_cancellation", c.EchoCancellation).
		Bool("noise_suppression", c.NoiseSuppression).
		Bool("auto_gain_control", c.AutoGainControl).
		Msg("microphone opened")

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		track:   track,
		rate:    rate,
		src:     src,
		loop:    m.Loop,
		cancel:  cancel,
		history: make([]float64, historySize),
		enabled: true,
	}
	go s.run(ctx)
	return s, nil
}

func (m *PCMMicrophone) openSource() (io.ReadCloser, error) {
	switch m.Source {
	case "":
		return silence{}, nil
	case SourceStdin:
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(m.Source)
	if err != nil {
		return nil, fmt.Errorf("open microphone source: %w", err)
	}
	return f, nil
}

type silence struct{}

func (silence) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func (silence) Close() error { return nil }

// Stream is an open PCM capture.
type Stream struct {
	track  *webrtc.TrackLocalStaticSample
	rate   int
	src    io.ReadCloser
	loop   bool
	cancel context.CancelFunc

	mu      sync.Mutex
	history []float64
	head    int
	filled  int
	enabled bool
	stopped bool
}

func (s *Stream) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{s.track} }

func (s *Stream) SampleRate() int { return s.rate }

func (s *Stream) Window(dst []float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(len(dst), s.filled)
	start := s.head - n
	if start < 0 {
		start += len(s.history)
	}
	for i := 0; i < n; i++ {
		dst[i] = s.history[(start+i)%len(s.history)]
	}
	return n
}

func (s *Stream) SetEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = on
}

func (s *Stream) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Stop ends capture. A reader blocked on stdin exits on its next frame.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	if err := s.src.Close(); err != nil {
		log.Debug().Err(err).Str("module", "capture").Msg("close source")
	}
	log.Info().Str("module", "capture").Msg("microphone stopped")
}

func (s *Stream) run(ctx context.Context) {
	frame := make([]byte, s.rate*int(FrameDuration/time.Millisecond)/1000*2)
	t := time.NewTicker(FrameDuration)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := s.readFrame(frame); err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "capture").Msg("capture ended")
			}
			return
		}
		s.push(frame)
		if !s.Enabled() {
			continue
		}
		sample := media.Sample{Data: g711.EncodeUlaw(frame), Duration: FrameDuration}
		if err := s.track.WriteSample(sample); err != nil {
			log.Debug().Err(err).Str("module", "capture").Msg("write sample")
		}
	}
}

func (s *Stream) readFrame(frame []byte) error {
	n, err := io.ReadFull(s.src, frame)
	for s.loop && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		seeker, ok := s.src.(io.Seeker)
		if !ok {
			return err
		}
		if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
			return serr
		}
		var m int
		m, err = io.ReadFull(s.src, frame[n:])
		if m == 0 && err != nil {
			// empty source
			return err
		}
		n += m
	}
	return err
}

// push appends the frame's samples, scaled to [-1, 1], to the history.
func (s *Stream) push(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i+1 < len(frame); i += 2 {
		v := int16(binary.LittleEndian.Uint16(frame[i:]))
		s.history[s.head] = float64(v) / 32768
		s.head = (s.head + 1) % len(s.history)
	}
	s.filled = min(s.filled+len(frame)/2, len(s.history))
}
