package vad

import (
	"encoding/binary"
	"math"
	"sync"

	"voxloop-server-go/internal/platform/config"
)

func init() {
	Register("energy", func(cfg config.VADConfig) (Provider, error) {
		return NewEnergyDetector(cfg), nil
	})
}

// EnergyDetector is an RMS-based voice activity detector with a smoothing
// window. It is deliberately simple: the endpointing logic above it handles
// hangover and minimum-duration rules.
type EnergyDetector struct {
	mu        sync.Mutex
	threshold float64
	window    []float64
	windowLen int
	pos       int
	filled    int
}

// NewEnergyDetector builds a detector from config, applying sane defaults.
func NewEnergyDetector(cfg config.VADConfig) *EnergyDetector {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.015
	}
	windowLen := 5
	if cfg.WindowMs > 0 {
		// one slot per 10ms of smoothing
		windowLen = cfg.WindowMs / 10
		if windowLen < 1 {
			windowLen = 1
		}
	}
	return &EnergyDetector{
		threshold: threshold,
		window:    make([]float64, windowLen),
		windowLen: windowLen,
	}
}

// IsSpeech reports whether the 16-bit little-endian PCM chunk is speech.
func (d *EnergyDetector) IsSpeech(pcm []byte) bool {
	rms := rmsLevel(pcm)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.window[d.pos] = rms
	d.pos = (d.pos + 1) % d.windowLen
	if d.filled < d.windowLen {
		d.filled++
	}

	sum := 0.0
	for i := 0; i < d.filled; i++ {
		sum += d.window[i]
	}
	return sum/float64(d.filled) >= d.threshold
}

// Reset clears the smoothing window, for use after a flush.
func (d *EnergyDetector) Reset() {
	d.mu.Lock()
	for i := range d.window {
		d.window[i] = 0
	}
	d.pos = 0
	d.filled = 0
	d.mu.Unlock()
}

// rmsLevel computes the normalized RMS of 16-bit PCM in [0, 1].
func rmsLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
