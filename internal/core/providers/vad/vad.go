package vad

import (
	"fmt"

	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/platform/config"
	"voxloop-server-go/internal/platform/errors"
)

// Provider is a configured voice activity detector.
type Provider interface {
	providers.VoiceDetector
}

type Factory func(cfg config.VADConfig) (Provider, error)

var factories = make(map[string]Factory)

func Register(name string, factory Factory) {
	factories[name] = factory
}

func Create(cfg config.VADConfig) (Provider, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, errors.New(errors.KindConfig, "vad.create",
			fmt.Sprintf("unknown VAD provider type %q", cfg.Type))
	}
	return factory(cfg)
}
