package tts

import (
	"fmt"

	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/platform/config"
	"voxloop-server-go/internal/platform/errors"
)

// Provider is a configured speech synthesizer.
type Provider interface {
	providers.SpeechSynthesizer
}

type Factory func(cfg config.TTSConfig) (Provider, error)

var factories = make(map[string]Factory)

func Register(name string, factory Factory) {
	factories[name] = factory
}

func Create(cfg config.TTSConfig) (Provider, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, errors.New(errors.KindConfig, "tts.create",
			fmt.Sprintf("unknown TTS provider type %q", cfg.Type))
	}
	return factory(cfg)
}
