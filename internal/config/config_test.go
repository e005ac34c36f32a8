package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/voicesafe/internal/policy"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
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
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:        "empty base url",
			mutate:      func(c *Config) { c.API.BaseURL = "" },
			expectError: true,
			errorMsg:    "api config: base_url cannot be empty",
		},
		{
			name:        "non-http base url",
			mutate:      func(c *Config) { c.API.BaseURL = "ftp://example.com" },
			expectError: true,
			errorMsg:    "api config: base_url must be an http or https URL",
		},
		{
			name:        "sample rate too low",
			mutate:      func(c *Config) { c.Audio.SampleRate = 4000 },
			expectError: true,
			errorMsg:    "audio config: sample_rate must be between 8000 and 48000 Hz",
		},
		{
			name:        "unknown source",
			mutate:      func(c *Config) { c.Audio.Source = "portaudio" },
			expectError: true,
			errorMsg:    "audio config: source must be",
		},
		{
			name:        "file source without file",
			mutate:      func(c *Config) { c.Audio.Source = "file" },
			expectError: true,
			errorMsg:    "audio config: file cannot be empty",
		},
		{
			name:        "zero target duration",
			mutate:      func(c *Config) { c.Recording.TargetDuration = 0 },
			expectError: true,
			errorMsg:    "recording config: target_duration must be positive",
		},
		{
			name:        "minimum longer than target",
			mutate:      func(c *Config) { c.Recording.MinimumAudioDuration = 20 },
			expectError: true,
			errorMsg:    "recording config: minimum_audio_duration",
		},
		{
			name:        "silence threshold above one",
			mutate:      func(c *Config) { c.Policy.SilenceThreshold = 1.5 },
			expectError: true,
			errorMsg:    "policy config: silence_threshold must be between 0 and 1",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "logging config: level must be one of",
		},
		{
			name: "invalid http port when enabled",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Port = 70000
			},
			expectError: true,
			errorMsg:    "http config: http port must be between 1 and 65535",
		},
		{
			name: "invalid http port when disabled",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 70000
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	t.Setenv(EnvAppKey, "")
	t.Setenv(EnvBaseURL, "")

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	yaml := `
api:
  base_url: "http://localhost:8787"
  app_key: "file-key"
audio:
  sample_rate: 48000
  channels: 2
recording:
  target_duration: 5
  continuous: true
policy:
  default_intermission: 15
player:
  user_id: "player-1"
  room_id: "lobby"
logging:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.API.BaseURL != "http://localhost:8787" || config.API.AppKey != "file-key" {
		t.Errorf("Unexpected api section: %+v", config.API)
	}
	if config.Audio.SampleRate != 48000 || config.Audio.Channels != 2 {
		t.Errorf("Unexpected audio section: %+v", config.Audio)
	}
	if !config.Recording.Continuous || config.Recording.TargetDuration != 5 {
		t.Errorf("Unexpected recording section: %+v", config.Recording)
	}
	// Keys absent from the file keep their defaults
	if config.API.Timeout != 30 || config.Recording.PauseTimeout != 10 {
		t.Errorf("Expected defaults for omitted keys, got timeout %d pause %f",
			config.API.Timeout, config.Recording.PauseTimeout)
	}
	if config.Player.Telemetry().RoomID != "lobby" {
		t.Errorf("Expected player telemetry from file, got %+v", config.Player)
	}
}

func TestConfigLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvAppKey, "env-key")
	t.Setenv(EnvBaseURL, "https://staging.example.com")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.API.AppKey != "env-key" {
		t.Errorf("Expected app key from environment, got %q", config.API.AppKey)
	}
	if config.API.BaseURL != "https://staging.example.com" {
		t.Errorf("Expected base URL from environment, got %q", config.API.BaseURL)
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv(EnvAppKey, "")

	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte(EnvAppKey+"=dotenv-key\n"), 0644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	// godotenv never overwrites variables that are already set, even empty
	os.Unsetenv(EnvAppKey)

	LoadDotEnv(envPath, filepath.Join(t.TempDir(), "missing.env"))

	if got := os.Getenv(EnvAppKey); got != "dotenv-key" {
		t.Errorf("Expected app key from .env, got %q", got)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected file read error, got: %v", err)
	}
}

func TestConfigLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("api: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestPolicyParameters(t *testing.T) {
	config := Default()
	config.Recording.TargetDuration = 10
	config.Policy.DefaultIntermission = 30
	config.Policy.SilenceThreshold = 0.05

	p, err := config.PolicyParameters()
	if err != nil {
		t.Fatalf("PolicyParameters failed: %v", err)
	}

	if p.TargetDuration != 10*time.Second || p.Intermission != 30*time.Second {
		t.Errorf("Unexpected durations: %+v", p)
	}
	if p.SamplingRate != 0.25 {
		t.Errorf("Expected sampling rate 0.25, got %f", p.SamplingRate)
	}
	if got := policy.IntermissionFor(p.TargetDuration, p.SamplingRate); got != p.Intermission {
		t.Errorf("Expected rate to reproduce intermission, got %v", got)
	}
	if p.SilenceThreshold != 0.05 {
		t.Errorf("Expected silence threshold 0.05, got %f", p.SilenceThreshold)
	}
}

func TestDurationHelpers(t *testing.T) {
	config := Default()

	if got := config.API.GetTimeoutDuration(); got != 30*time.Second {
		t.Errorf("Expected 30s API timeout, got %v", got)
	}
	if got := config.Recording.GetTickInterval(); got != 50*time.Millisecond {
		t.Errorf("Expected 50ms tick, got %v", got)
	}

	rc := config.RecorderConfig()
	if rc.UploadTimeout != 30*time.Second || rc.ConfigRefreshInterval != 5*time.Minute {
		t.Errorf("Unexpected recorder config: %+v", rc)
	}
}

func TestSanitizedHidesAppKey(t *testing.T) {
	config := Default()
	config.API.AppKey = "secret"

	if got := config.Sanitized().API.AppKey; got != "***" {
		t.Errorf("Expected masked app key, got %q", got)
	}
	if config.API.AppKey != "secret" {
		t.Error("Expected original config to be unchanged")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info to be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("Expected JSON warn record, got %q", out)
	}
}
