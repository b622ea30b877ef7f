package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Audio   AudioConfig   `yaml:"audio"`
	VAD     VADConfig     `yaml:"vad"`
	RAG     RAGConfig     `yaml:"rag"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP/WebSocket server configuration
type ServerConfig struct {
	Port                  int    `yaml:"port"`
	BindAddress           string `yaml:"bind_address"`
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`
}

// OpenAIConfig contains Realtime API connection and session parameters
type OpenAIConfig struct {
	APIKey       string  `yaml:"api_key"`
	RealtimeURL  string  `yaml:"realtime_url"`
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	Voice        string  `yaml:"voice"`
	Instructions string  `yaml:"instructions"`
	Greeting     string  `yaml:"greeting"`
}

// AudioConfig contains the browser microphone audio format parameters.
// The telephony leg always carries audio/pcmu and needs no format tuning.
type AudioConfig struct {
	MicSampleRate int `yaml:"mic_sample_rate"` // Hz
	MicBitDepth   int `yaml:"mic_bit_depth"`   // bits per sample
}

// VADConfig contains server-side Voice Activity Detection parameters
// forwarded to the Realtime API session
type VADConfig struct {
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// RAGConfig contains the optional Qdrant retrieval configuration
type RAGConfig struct {
	Enabled        bool   `yaml:"enabled"`
	QdrantURL      string `yaml:"qdrant_url"`
	QdrantAPIKey   string `yaml:"qdrant_api_key"`
	Collection     string `yaml:"collection"`
	TopK           int    `yaml:"top_k"`
	EmbeddingModel string `yaml:"embedding_model"`
	Timeout        int    `yaml:"timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnv overlays secrets and deploy-time settings from the environment.
// Environment values win over the file so keys never have to be written to disk.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		c.RAG.QdrantAPIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.OpenAI.Validate(); err != nil {
		return fmt.Errorf("openai config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.RAG.Validate(); err != nil {
		return fmt.Errorf("rag config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrentSessions)
	}

	return nil
}

// Validate validates OpenAI configuration
func (o *OpenAIConfig) Validate() error {
	if o.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set OPENAI_API_KEY)")
	}

	if o.RealtimeURL == "" {
		return fmt.Errorf("realtime_url cannot be empty")
	}

	if o.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if o.Temperature < 0 || o.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", o.Temperature)
	}

	if o.Voice == "" {
		return fmt.Errorf("voice cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.MicSampleRate != 24000 {
		return fmt.Errorf("mic_sample_rate must be 24000 Hz for audio/pcm16, got %d", a.MicSampleRate)
	}

	if a.MicBitDepth != 16 {
		return fmt.Errorf("mic_bit_depth must be 16 for audio/pcm16, got %d", a.MicBitDepth)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.PrefixPaddingMs < 0 {
		return fmt.Errorf("prefix_padding_ms cannot be negative, got %d", v.PrefixPaddingMs)
	}

	if v.SilenceDurationMs < 0 {
		return fmt.Errorf("silence_duration_ms cannot be negative, got %d", v.SilenceDurationMs)
	}

	return nil
}

// Validate validates RAG configuration
func (r *RAGConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.QdrantURL == "" {
		return fmt.Errorf("qdrant_url cannot be empty when RAG is enabled")
	}

	if r.Collection == "" {
		return fmt.Errorf("collection cannot be empty when RAG is enabled")
	}

	if r.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", r.TopK)
	}

	if r.EmbeddingModel == "" {
		return fmt.Errorf("embedding_model cannot be empty when RAG is enabled")
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// MicBytesPerMs returns how many bytes of microphone audio correspond to one
// millisecond of playback at the configured sample rate and bit depth.
// For 24kHz 16-bit mono this is 48.
func (a *AudioConfig) MicBytesPerMs() int64 {
	return int64(a.MicSampleRate) * int64(a.MicBitDepth) / 8 / 1000
}

// GetTimeoutDuration returns the RAG lookup timeout as a time.Duration
func (r *RAGConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}
