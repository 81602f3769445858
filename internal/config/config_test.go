package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a fully populated configuration that passes validation
func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    8000,
		},
		Bot: BotConfig{
			DefaultName:    "Transcription Bot",
			JoinTimeout:    60,
			PollInterval:   1,
			BridgeBasePort: 8097,
		},
		Recognition: RecognitionConfig{
			Endpoint:       "wss://api.deepgram.com/v1/listen",
			APIKey:         "test-key",
			Model:          "nova-2",
			Language:       "en",
			SampleRate:     16000,
			SilenceTimeout: 30,
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 30,
			RetryCount:     3,
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
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "empty recognition api key",
			mutate:      func(c *Config) { c.Recognition.APIKey = "" },
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name:        "unsupported sample rate",
			mutate:      func(c *Config) { c.Recognition.SampleRate = 44100 },
			expectError: true,
			errorMsg:    "sample_rate must be one of",
		},
		{
			name:        "zero silence timeout",
			mutate:      func(c *Config) { c.Recognition.SilenceTimeout = 0 },
			expectError: true,
			errorMsg:    "silence_timeout must be at least 1 second",
		},
		{
			name:        "negative webhook retry count",
			mutate:      func(c *Config) { c.Webhook.RetryCount = -1 },
			expectError: true,
			errorMsg:    "retry_count cannot be negative",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name:        "invalid bot poll interval",
			mutate:      func(c *Config) { c.Bot.PollInterval = 0 },
			expectError: true,
			errorMsg:    "poll_interval must be at least 1 second",
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
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "minimal config with defaults",
			configYAML: `
recognition:
  api_key: test-key
`,
			expectError: false,
		},
		{
			name:        "invalid yaml",
			configYAML:  "server: [not a mapping",
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "validation failure surfaces",
			configYAML: `
recognition:
  api_key: test-key
  sample_rate: 44100
`,
			expectError: true,
			errorMsg:    "sample_rate must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Fatalf("Expected no error but got: %v", err)
				}
				if config == nil {
					t.Fatal("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.Recognition.APIKey = "test-key"
	cfg.ApplyDefaults()

	if cfg.Server.Port != 8000 {
		t.Errorf("Expected default port 8000, got %d", cfg.Server.Port)
	}

	if cfg.Bot.DefaultName != "Transcription Bot" {
		t.Errorf("Expected default bot name, got '%s'", cfg.Bot.DefaultName)
	}

	if cfg.Recognition.Model != "nova-2" {
		t.Errorf("Expected default model nova-2, got '%s'", cfg.Recognition.Model)
	}

	if cfg.Recognition.SilenceTimeout != 30 {
		t.Errorf("Expected default silence timeout 30, got %d", cfg.Recognition.SilenceTimeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaulted config to validate, got: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "env-deepgram-key")
	t.Setenv("API_KEY", "env-api-key")

	var cfg Config
	cfg.Recognition.APIKey = "file-key"
	cfg.applyEnvOverrides()

	if cfg.Recognition.APIKey != "env-deepgram-key" {
		t.Errorf("Expected environment to override recognition api key, got '%s'", cfg.Recognition.APIKey)
	}

	if cfg.Server.APIKey != "env-api-key" {
		t.Errorf("Expected environment to set server api key, got '%s'", cfg.Server.APIKey)
	}
}

func TestDurationHelpers(t *testing.T) {
	bot := BotConfig{JoinTimeout: 60, PollInterval: 2}

	if bot.GetJoinTimeoutDuration() != 60*time.Second {
		t.Errorf("Expected 60 seconds, got %v", bot.GetJoinTimeoutDuration())
	}

	if bot.GetPollIntervalDuration() != 2*time.Second {
		t.Errorf("Expected 2 seconds, got %v", bot.GetPollIntervalDuration())
	}

	recognition := RecognitionConfig{SilenceTimeout: 5}
	if recognition.GetSilenceTimeoutDuration() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", recognition.GetSilenceTimeoutDuration())
	}

	webhook := WebhookConfig{TimeoutSeconds: 30}
	if webhook.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", webhook.GetTimeoutDuration())
	}
}
