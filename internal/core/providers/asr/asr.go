package asr

import (
	"fmt"

	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/platform/config"
	"voxloop-server-go/internal/platform/errors"
)

// Provider is a configured speech recognizer.
type Provider interface {
	providers.SpeechRecognizer
}

type Factory func(cfg config.ASRConfig) (Provider, error)

var factories = make(map[string]Factory)

func Register(name string, factory Factory) {
	factories[name] = factory
}

func Create(cfg config.ASRConfig) (Provider, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, errors.New(errors.KindConfig, "asr.create",
			fmt.Sprintf("unknown ASR provider type %q", cfg.Type))
	}
	return factory(cfg)
}
