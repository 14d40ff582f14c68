package config

// Config is the root configuration for the voxloop server.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Web      WebConfig            `yaml:"web"`
	Log      LogConfig            `yaml:"log"`
	Session  SessionConfig        `yaml:"session"`
	Selected SelectedConfig       `yaml:"selected_module"`
	LLM      map[string]LLMConfig `yaml:"LLM"`
	TTS      map[string]TTSConfig `yaml:"TTS"`
	ASR      map[string]ASRConfig `yaml:"ASR"`
	VAD      map[string]VADConfig `yaml:"VAD"`
	Events   EventsConfig         `yaml:"events"`
}

// ServerConfig configures the websocket audio endpoint.
type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// WebConfig configures the HTTP control plane.
type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// SessionConfig holds per-session pipeline tunables.
type SessionConfig struct {
	SystemPrompt string `yaml:"prompt"`
	Greeting     string `yaml:"greeting"`

	MaxToolRounds int    `yaml:"max_tool_rounds"`
	ToolFallback  string `yaml:"tool_fallback"`

	// Endpointing: how long the user must stay silent after speech before
	// the utterance is considered complete.
	EndpointSilenceMs int `yaml:"endpoint_silence_ms"`

	FirstTokenTimeoutMs int `yaml:"first_token_timeout_ms"`
	FirstAudioTimeoutMs int `yaml:"first_audio_timeout_ms"`
	MaxRetries          int `yaml:"max_retries"`
	RetryBackoffMs      int `yaml:"retry_backoff_ms"`

	AudioBufferFrames int `yaml:"audio_buffer_frames"`

	// Compaction keeps the system prompt plus the most recent turns once the
	// context grows past CompactAfterTurns.
	CompactAfterTurns int `yaml:"compact_after_turns"`
	CompactKeepTurns  int `yaml:"compact_keep_turns"`
}

// SelectedConfig names the active provider per family.
type SelectedConfig struct {
	LLM string `yaml:"LLM"`
	TTS string `yaml:"TTS"`
	ASR string `yaml:"ASR"`
	VAD string `yaml:"VAD"`
}

type LLMConfig struct {
	Type        string  `yaml:"type"`
	ModelName   string  `yaml:"model_name"`
	BaseURL     string  `yaml:"url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float64 `yaml:"top_p"`
}

type TTSConfig struct {
	Type       string `yaml:"type"`
	Voice      string `yaml:"voice"`
	Rate       string `yaml:"rate"`
	Volume     string `yaml:"volume"`
	SampleRate int    `yaml:"sample_rate"`
}

type ASRConfig struct {
	Type       string `yaml:"type"`
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
}

type VADConfig struct {
	Type        string  `yaml:"type"`
	Threshold   float64 `yaml:"threshold"`
	WindowMs    int     `yaml:"window_ms"`
	SampleRate  int     `yaml:"sample_rate"`
	MinSpeechMs int     `yaml:"min_speech_ms"`
}

// EventsConfig configures the observability event stream.
type EventsConfig struct {
	Redis RedisSinkConfig `yaml:"redis"`
}

// RedisSinkConfig configures the optional Redis event sink.
type RedisSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	MaxLen   int64  `yaml:"max_len"`
}
