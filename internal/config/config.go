package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Bot         BotConfig         `yaml:"bot"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	APIKey  string `yaml:"api_key"` // empty disables authentication
}

// BotConfig contains meeting bot configuration
type BotConfig struct {
	DefaultName    string `yaml:"default_name"`
	JoinTimeout    int    `yaml:"join_timeout"`     // seconds
	PollInterval   int    `yaml:"poll_interval"`    // seconds, session driving loop tick
	BridgeBasePort int    `yaml:"bridge_base_port"` // first port for platform bridge listeners
}

// RecognitionConfig contains streaming recognition provider configuration
type RecognitionConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	SampleRate     int    `yaml:"sample_rate"`
	SilenceTimeout int    `yaml:"silence_timeout"` // seconds, idle handle eviction
}

// WebhookConfig contains webhook delivery configuration
type WebhookConfig struct {
	TimeoutSeconds int  `yaml:"timeout"` // seconds, per delivery attempt
	RetryCount     int  `yaml:"retry_count"`
	AllowHTTP      bool `yaml:"allow_http"` // debug override, https otherwise required
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file, applies environment
// overrides for secrets, fills defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets secrets come from the environment instead of the file
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DEEPGRAM_API_KEY"); v != "" {
		c.Recognition.APIKey = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Server.APIKey = v
	}
}

// ApplyDefaults fills in defaults for optional fields
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Bot.DefaultName == "" {
		c.Bot.DefaultName = "Transcription Bot"
	}
	if c.Bot.JoinTimeout == 0 {
		c.Bot.JoinTimeout = 60
	}
	if c.Bot.PollInterval == 0 {
		c.Bot.PollInterval = 1
	}
	if c.Bot.BridgeBasePort == 0 {
		c.Bot.BridgeBasePort = 8097
	}
	if c.Recognition.Endpoint == "" {
		c.Recognition.Endpoint = "wss://api.deepgram.com/v1/listen"
	}
	if c.Recognition.Model == "" {
		c.Recognition.Model = "nova-2"
	}
	if c.Recognition.Language == "" {
		c.Recognition.Language = "en"
	}
	if c.Recognition.SampleRate == 0 {
		c.Recognition.SampleRate = 16000
	}
	if c.Recognition.SilenceTimeout == 0 {
		c.Recognition.SilenceTimeout = 30
	}
	if c.Webhook.TimeoutSeconds == 0 {
		c.Webhook.TimeoutSeconds = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Bot.Validate(); err != nil {
		return fmt.Errorf("bot config: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}

	if err := c.Webhook.Validate(); err != nil {
		return fmt.Errorf("webhook config: %w", err)
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

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates bot configuration
func (b *BotConfig) Validate() error {
	if b.DefaultName == "" {
		return fmt.Errorf("default_name cannot be empty")
	}

	if b.JoinTimeout < 1 {
		return fmt.Errorf("join_timeout must be at least 1 second, got %d", b.JoinTimeout)
	}

	if b.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 second, got %d", b.PollInterval)
	}

	if b.BridgeBasePort < 1 || b.BridgeBasePort > 65535 {
		return fmt.Errorf("bridge_base_port must be between 1 and 65535, got %d", b.BridgeBasePort)
	}

	return nil
}

// Validate validates recognition configuration
func (r *RecognitionConfig) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if r.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set DEEPGRAM_API_KEY or recognition.api_key)")
	}

	if r.SampleRate != 8000 && r.SampleRate != 16000 && r.SampleRate != 48000 {
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 48000], got %d", r.SampleRate)
	}

	if r.SilenceTimeout < 1 {
		return fmt.Errorf("silence_timeout must be at least 1 second, got %d", r.SilenceTimeout)
	}

	return nil
}

// Validate validates webhook configuration
func (w *WebhookConfig) Validate() error {
	if w.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", w.TimeoutSeconds)
	}

	if w.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative, got %d", w.RetryCount)
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

// GetJoinTimeoutDuration returns the join timeout as a time.Duration
func (b *BotConfig) GetJoinTimeoutDuration() time.Duration {
	return time.Duration(b.JoinTimeout) * time.Second
}

// GetPollIntervalDuration returns the driving loop tick as a time.Duration
func (b *BotConfig) GetPollIntervalDuration() time.Duration {
	return time.Duration(b.PollInterval) * time.Second
}

// GetSilenceTimeoutDuration returns the idle handle timeout as a time.Duration
func (r *RecognitionConfig) GetSilenceTimeoutDuration() time.Duration {
	return time.Duration(r.SilenceTimeout) * time.Second
}

// GetTimeoutDuration returns the webhook per-attempt timeout as a time.Duration
func (w *WebhookConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}
