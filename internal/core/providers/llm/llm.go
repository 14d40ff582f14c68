package llm

import (
	"fmt"

	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/platform/config"
	"voxloop-server-go/internal/platform/errors"
)

// Provider is a configured language model ready to stream completions.
type Provider interface {
	providers.LanguageModel
}

// Factory builds a provider from its config block.
type Factory func(cfg config.LLMConfig) (Provider, error)

var factories = make(map[string]Factory)

// Register installs a factory under a type name. Adapter packages call this
// from init().
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create instantiates the provider for cfg.Type.
func Create(cfg config.LLMConfig) (Provider, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, errors.New(errors.KindConfig, "llm.create",
			fmt.Sprintf("unknown LLM provider type %q", cfg.Type))
	}
	return factory(cfg)
}
