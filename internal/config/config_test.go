package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:                  5050,
			BindAddress:           "0.0.0.0",
			MaxConcurrentSessions: 100,
		},
		OpenAI: OpenAIConfig{
			APIKey:       "test-key",
			RealtimeURL:  "wss://api.openai.com/v1/realtime",
			Model:        "gpt-realtime",
			Temperature:  0.8,
			Voice:        "alloy",
			Instructions: "You are a helpful assistant.",
		},
		Audio: AudioConfig{
			MicSampleRate: 24000,
			MicBitDepth:   16,
		},
		VAD: VADConfig{
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 200,
		},
		RAG: RAGConfig{
			Enabled:        true,
			QdrantURL:      "https://qdrant.example.com",
			QdrantAPIKey:   "qdrant-key",
			Collection:     "knowledge",
			TopK:           3,
			EmbeddingModel: "text-embedding-3-large",
			Timeout:        10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid server port",
			mutate:      func(c *Config) { c.Server.Port = 0 },
			expectError: true,
			errorMsg:    "port must be between",
		},
		{
			name:        "empty bind address",
			mutate:      func(c *Config) { c.Server.BindAddress = "" },
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
		{
			name:        "missing openai api key",
			mutate:      func(c *Config) { c.OpenAI.APIKey = "" },
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name:        "temperature out of range",
			mutate:      func(c *Config) { c.OpenAI.Temperature = 2.5 },
			expectError: true,
			errorMsg:    "temperature must be between",
		},
		{
			name:        "unsupported mic sample rate",
			mutate:      func(c *Config) { c.Audio.MicSampleRate = 16000 },
			expectError: true,
			errorMsg:    "mic_sample_rate must be 24000",
		},
		{
			name:        "vad threshold out of range",
			mutate:      func(c *Config) { c.VAD.Threshold = 1.5 },
			expectError: true,
			errorMsg:    "threshold must be between",
		},
		{
			name: "rag disabled skips rag validation",
			mutate: func(c *Config) {
				c.RAG = RAGConfig{Enabled: false}
			},
			expectError: false,
		},
		{
			name:        "rag enabled requires qdrant url",
			mutate:      func(c *Config) { c.RAG.QdrantURL = "" },
			expectError: true,
			errorMsg:    "qdrant_url cannot be empty",
		},
		{
			name:        "rag enabled requires collection",
			mutate:      func(c *Config) { c.RAG.Collection = "" },
			expectError: true,
			errorMsg:    "collection cannot be empty",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  port: 5050
  bind_address: "0.0.0.0"
  max_concurrent_sessions: 50
openai:
  api_key: "file-key"
  realtime_url: "wss://api.openai.com/v1/realtime"
  model: "gpt-realtime"
  temperature: 0.8
  voice: "alloy"
  instructions: "You are a helpful assistant."
audio:
  mic_sample_rate: 24000
  mic_bit_depth: 16
vad:
  threshold: 0.5
  prefix_padding_ms: 300
  silence_duration_ms: 200
rag:
  enabled: false
logging:
  level: "info"
  format: "text"
  output: "stdout"
`

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 5050 {
		t.Errorf("Expected port 5050, got %d", cfg.Server.Port)
	}
	if cfg.OpenAI.Model != "gpt-realtime" {
		t.Errorf("Expected model gpt-realtime, got %s", cfg.OpenAI.Model)
	}
	if cfg.VAD.SilenceDurationMs != 200 {
		t.Errorf("Expected silence_duration_ms 200, got %d", cfg.VAD.SilenceDurationMs)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	content := `
server:
  port: 5050
  bind_address: "0.0.0.0"
  max_concurrent_sessions: 50
openai:
  api_key: "file-key"
  realtime_url: "wss://api.openai.com/v1/realtime"
  model: "gpt-realtime"
  temperature: 0.8
  voice: "alloy"
audio:
  mic_sample_rate: 24000
  mic_bit_depth: 16
vad:
  threshold: 0.5
  prefix_padding_ms: 300
  silence_duration_ms: 200
rag:
  enabled: false
logging:
  level: "info"
  format: "text"
  output: "stdout"
`

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("PORT", "6060")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OpenAI.APIKey != "env-key" {
		t.Errorf("Expected env override for api key, got %s", cfg.OpenAI.APIKey)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("Expected env override for port, got %d", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestMicBytesPerMs(t *testing.T) {
	a := AudioConfig{MicSampleRate: 24000, MicBitDepth: 16}
	if got := a.MicBytesPerMs(); got != 48 {
		t.Errorf("Expected 48 bytes/ms for 24kHz 16-bit mono, got %d", got)
	}
}

// contains checks if a string contains a substring
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > 0 && len(substr) > 0 && indexOf(s, substr) >= 0))
}

func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
