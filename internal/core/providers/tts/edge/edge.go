package edge

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"voxloop-server-go/internal/core/audio"
	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/core/providers/tts"
	"voxloop-server-go/internal/platform/config"
	"voxloop-server-go/internal/platform/errors"
)

func init() {
	tts.Register("edge", NewProvider)
}

const frameDuration = 20 * time.Millisecond

// Provider synthesizes speech with the Edge TTS service. The service returns
// MP3; we decode to 16-bit PCM and stream it out in playback-sized frames so
// the session can interleave cancellation checks.
type Provider struct {
	voice  string
	rate   string
	volume string
}

func NewProvider(cfg config.TTSConfig) (tts.Provider, error) {
	if cfg.Voice == "" {
		return nil, errors.New(errors.KindConfig, "tts.edge", "missing voice")
	}
	rate := cfg.Rate
	if rate == "" {
		rate = "+0%"
	}
	volume := cfg.Volume
	if volume == "" {
		volume = "+0%"
	}
	return &Provider{voice: cfg.Voice, rate: rate, volume: volume}, nil
}

func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan audio.Frame, error) {
	communicate, err := edge_tts.NewCommunicate(
		text,
		edge_tts.SetVoice(p.voice),
		edge_tts.SetRate(p.rate),
		edge_tts.SetVolume(p.volume),
	)
	if err != nil {
		return nil, errors.Wrap(errors.KindProvider, "tts.edge",
			"create communicator", err)
	}

	out := make(chan audio.Frame, 8)
	go func() {
		defer close(out)

		mp3Data, err := communicate.Stream()
		if err != nil || ctx.Err() != nil {
			return
		}

		decoder, err := mp3.NewDecoder(bytes.NewReader(mp3Data))
		if err != nil {
			return
		}

		sampleRate := decoder.SampleRate()
		// go-mp3 always outputs 16-bit stereo
		const channels = 2
		frameBytes := int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
		frameBytes *= 2 * channels

		buf := make([]byte, frameBytes)
		for {
			n, err := io.ReadFull(decoder, buf)
			if n > 0 {
				pcm := make([]byte, n)
				copy(pcm, buf[:n])
				select {
				case out <- audio.Frame{
					Direction:  audio.DirectionOutbound,
					SampleRate: sampleRate,
					Channels:   channels,
					PCM:        pcm,
					Timestamp:  time.Now(),
				}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return out, nil
}

var _ providers.SpeechSynthesizer = (*Provider)(nil)
