package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	platformerrors "voxloop-server-go/internal/platform/errors"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoader_DefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("VOXLOOP_LLM_API_KEY", "test-key")

	result, err := NewLoader().
		WithDotEnv(false).
		WithPath(filepath.Join(t.TempDir(), "absent.yaml")).
		Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if result.Path != "" {
		t.Errorf("expected empty path for defaults, got %q", result.Path)
	}
	if result.Config.Session.MaxToolRounds != 5 {
		t.Errorf("default max tool rounds = %d, want 5", result.Config.Session.MaxToolRounds)
	}
	if got := result.Config.LLM["OpenAILLM"].APIKey; got != "test-key" {
		t.Errorf("env override not applied, api_key = %q", got)
	}
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	t.Setenv("VOXLOOP_LLM_API_KEY", "test-key")

	path := writeConfigFile(t, `
server:
  port: 9001
session:
  prompt: "You are a numerology guide."
  max_tool_rounds: 3
`)

	result, err := NewLoader().WithDotEnv(false).WithPath(path).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if result.Config.Server.Port != 9001 {
		t.Errorf("server port = %d, want 9001", result.Config.Server.Port)
	}
	if result.Config.Session.MaxToolRounds != 3 {
		t.Errorf("max tool rounds = %d, want 3", result.Config.Session.MaxToolRounds)
	}
	if !strings.Contains(result.Config.Session.SystemPrompt, "numerology") {
		t.Errorf("prompt not overridden: %q", result.Config.Session.SystemPrompt)
	}
	if result.Config.Selected.TTS != "EdgeTTS" {
		t.Errorf("selected TTS = %q, want EdgeTTS", result.Config.Selected.TTS)
	}
}

func TestValidate_ListsAllMissingSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM["OpenAILLM"] = LLMConfig{Type: "openai"}
	cfg.Selected.ASR = "NoSuchASR"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	if !platformerrors.IsKind(err, platformerrors.KindConfig) {
		t.Errorf("expected config kind error, got %v", err)
	}
	for _, want := range []string{"api_key", "model_name", "NoSuchASR"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err.Error(), want)
		}
	}
}

func TestValidate_RedisAddrRequiredWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM["OpenAILLM"] = LLMConfig{Type: "openai", ModelName: "m", APIKey: "k"}
	cfg.Events.Redis.Enabled = true
	cfg.Events.Redis.Addr = ""

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "events.redis.addr") {
		t.Errorf("expected redis addr error, got %v", err)
	}
}
