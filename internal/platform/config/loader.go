package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"voxloop-server-go/internal/platform/errors"
)

// Loader reads configuration from an optional .env file, a YAML file and
// environment variable overrides, in that order.
type Loader struct {
	useDotEnv bool
	path      string
}

func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      "config.yaml",
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the YAML file path (useful for tests).
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration. A missing YAML file is not an
// error; defaults plus environment overrides apply.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using process environment")
		}
	}

	cfg := DefaultConfig()
	path := ""

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "load",
				fmt.Sprintf("parse %s", l.path), err)
		}
		path = l.path
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, errors.Wrap(errors.KindConfig, "load",
			fmt.Sprintf("read %s", l.path), err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

// applyEnvOverrides lets deploy environments inject secrets without touching
// the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOXLOOP_LLM_API_KEY"); v != "" {
		if llm, ok := cfg.LLM[cfg.Selected.LLM]; ok {
			llm.APIKey = v
			cfg.LLM[cfg.Selected.LLM] = llm
		}
	}
	if v := os.Getenv("VOXLOOP_LLM_URL"); v != "" {
		if llm, ok := cfg.LLM[cfg.Selected.LLM]; ok {
			llm.BaseURL = v
			cfg.LLM[cfg.Selected.LLM] = llm
		}
	}
	if v := os.Getenv("VOXLOOP_ASR_API_KEY"); v != "" {
		if asr, ok := cfg.ASR[cfg.Selected.ASR]; ok {
			asr.APIKey = v
			cfg.ASR[cfg.Selected.ASR] = asr
		}
	}
	if v := os.Getenv("VOXLOOP_ASR_URL"); v != "" {
		if asr, ok := cfg.ASR[cfg.Selected.ASR]; ok {
			asr.URL = v
			cfg.ASR[cfg.Selected.ASR] = asr
		}
	}
	if v := os.Getenv("VOXLOOP_REDIS_ADDR"); v != "" {
		cfg.Events.Redis.Addr = v
	}
	if v := os.Getenv("VOXLOOP_REDIS_PASSWORD"); v != "" {
		cfg.Events.Redis.Password = v
	}
}

// Validate checks every selected provider and reports all missing settings at
// once so operators fix the configuration in one pass.
func Validate(cfg *Config) error {
	var missing []string

	llm, ok := cfg.LLM[cfg.Selected.LLM]
	if !ok {
		missing = append(missing, fmt.Sprintf("LLM.%s (selected but not defined)", cfg.Selected.LLM))
	} else {
		if llm.APIKey == "" || llm.APIKey == "your_api_key" {
			missing = append(missing, fmt.Sprintf("LLM.%s.api_key", cfg.Selected.LLM))
		}
		if llm.ModelName == "" {
			missing = append(missing, fmt.Sprintf("LLM.%s.model_name", cfg.Selected.LLM))
		}
	}

	tts, ok := cfg.TTS[cfg.Selected.TTS]
	if !ok {
		missing = append(missing, fmt.Sprintf("TTS.%s (selected but not defined)", cfg.Selected.TTS))
	} else if tts.Voice == "" {
		missing = append(missing, fmt.Sprintf("TTS.%s.voice", cfg.Selected.TTS))
	}

	asr, ok := cfg.ASR[cfg.Selected.ASR]
	if !ok {
		missing = append(missing, fmt.Sprintf("ASR.%s (selected but not defined)", cfg.Selected.ASR))
	} else if asr.URL == "" {
		missing = append(missing, fmt.Sprintf("ASR.%s.url", cfg.Selected.ASR))
	}

	if _, ok := cfg.VAD[cfg.Selected.VAD]; !ok {
		missing = append(missing, fmt.Sprintf("VAD.%s (selected but not defined)", cfg.Selected.VAD))
	}

	if cfg.Events.Redis.Enabled && cfg.Events.Redis.Addr == "" {
		missing = append(missing, "events.redis.addr")
	}

	if cfg.Session.MaxToolRounds <= 0 {
		missing = append(missing, "session.max_tool_rounds (must be positive)")
	}

	if len(missing) > 0 {
		return errors.New(errors.KindConfig, "validate",
			"missing configuration: "+strings.Join(missing, ", "))
	}
	return nil
}
