package vad

import (
	"encoding/binary"
	"math"
	"testing"

	"voxloop-server-go/internal/platform/config"
)

func sineWave(amplitude float64, samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude * math.Sin(2*math.Pi*float64(i)/float64(samples)*8)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}

func TestEnergyDetector_SpeechVsSilence(t *testing.T) {
	d := NewEnergyDetector(config.VADConfig{Threshold: 0.02, WindowMs: 10})

	if d.IsSpeech(make([]byte, 640)) {
		t.Error("silence classified as speech")
	}

	d.Reset()
	if !d.IsSpeech(sineWave(0.5, 320)) {
		t.Error("loud tone classified as silence")
	}
}

func TestEnergyDetector_SmoothingWindow(t *testing.T) {
	d := NewEnergyDetector(config.VADConfig{Threshold: 0.02, WindowMs: 50})

	// several loud chunks raise the average
	for i := 0; i < 5; i++ {
		d.IsSpeech(sineWave(0.5, 320))
	}
	// one silent chunk should not immediately flip the decision
	if !d.IsSpeech(make([]byte, 640)) {
		t.Error("single silent chunk flipped a smoothed speech decision")
	}

	d.Reset()
	if d.IsSpeech(make([]byte, 640)) {
		t.Error("silence after Reset classified as speech")
	}
}

func TestCreate_UnknownType(t *testing.T) {
	if _, err := Create(config.VADConfig{Type: "nope"}); err == nil {
		t.Error("expected error for unknown provider type")
	}
}

func TestCreate_Energy(t *testing.T) {
	p, err := Create(config.VADConfig{Type: "energy", Threshold: 0.01})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p == nil {
		t.Fatal("nil provider")
	}
}
