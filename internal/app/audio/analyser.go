package audio

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8

	minDecibels = -100.0
	maxDecibels = -30.0
)

// WindowSource provides the most recent PCM samples in [-1, 1].
type WindowSource interface {
	Window(dst []float64) int
}

// Analyser is a frequency-domain level meter. Each bin is smoothed over
// time, converted to decibels and scaled to a byte between minDecibels
// and maxDecibels; Level is the mean of the bins normalized to [0, 1].
type Analyser struct {
	size      int
	smoothing float64
	hann      []float64
	buf       []float64
	smoothed  []float64
	bins      []byte
}

func NewAnalyser(size int, smoothing float64) *Analyser {
	if size < 2 {
		size = DefaultFFTSize
	}
	if smoothing < 0 || smoothing >= 1 {
		smoothing = DefaultSmoothing
	}
	return &Analyser{
		size:      size,
		smoothing: smoothing,
		hann:      window.Hann(size),
		buf:       make([]float64, size),
		smoothed:  make([]float64, size/2),
		bins:      make([]byte, size/2),
	}
}

// Level samples src and returns the normalized level.
func (a *Analyser) Level(src WindowSource) float64 {
	n := src.Window(a.buf)
	for i := n; i < a.size; i++ {
		a.buf[i] = 0
	}
	for i := range a.buf {
		a.buf[i] *= a.hann[i]
	}
	spectrum := fft.FFTReal(a.buf)

	sum := 0
	for k := range a.bins {
		mag := cmplx.Abs(spectrum[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		a.bins[k] = toByte(a.smoothed[k])
		sum += int(a.bins[k])
	}
	return float64(sum) / float64(len(a.bins)) / 255
}

// Bins returns the byte spectrum computed by the last Level call.
func (a *Analyser) Bins() []byte { return a.bins }

func toByte(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	}
	return byte(scaled)
}
