package config

// DefaultConfig returns a runnable configuration with demo providers selected.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8000,
			Path: "/voice",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Session: SessionConfig{
			SystemPrompt: "You are a friendly voice assistant. Keep replies short " +
				"and conversational; they will be spoken aloud.",
			Greeting:            "Hello! What would you like to talk about?",
			MaxToolRounds:       5,
			ToolFallback:        "Sorry, I ran into trouble looking that up. Let's try something else.",
			EndpointSilenceMs:   700,
			FirstTokenTimeoutMs: 8000,
			FirstAudioTimeoutMs: 5000,
			MaxRetries:          2,
			RetryBackoffMs:      250,
			AudioBufferFrames:   64,
			CompactAfterTurns:   40,
			CompactKeepTurns:    10,
		},
		Selected: SelectedConfig{
			LLM: "OpenAILLM",
			TTS: "EdgeTTS",
			ASR: "StreamASR",
			VAD: "EnergyVAD",
		},
		LLM: map[string]LLMConfig{
			"OpenAILLM": {
				Type:        "openai",
				ModelName:   "gpt-4o-mini",
				BaseURL:     "https://api.openai.com/v1",
				APIKey:      "your_api_key",
				Temperature: 0.7,
				MaxTokens:   1024,
				TopP:        0.9,
			},
		},
		TTS: map[string]TTSConfig{
			"EdgeTTS": {
				Type:       "edge",
				Voice:      "en-US-AriaNeural",
				Rate:       "+0%",
				Volume:     "+0%",
				SampleRate: 24000,
			},
		},
		ASR: map[string]ASRConfig{
			"StreamASR": {
				Type:       "stream",
				URL:        "ws://127.0.0.1:8848/asr",
				Language:   "en-US",
				SampleRate: 16000,
			},
		},
		VAD: map[string]VADConfig{
			"EnergyVAD": {
				Type:        "energy",
				Threshold:   0.015,
				WindowMs:    30,
				SampleRate:  16000,
				MinSpeechMs: 120,
			},
		},
		Events: EventsConfig{
			Redis: RedisSinkConfig{
				Enabled: false,
				Addr:    "127.0.0.1:6379",
				Key:     "voxloop:events",
				MaxLen:  10000,
			},
		},
	}
}
