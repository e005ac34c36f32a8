package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/voicesafe/internal/moderation"
	"github.com/skypro1111/voicesafe/internal/policy"
	"github.com/skypro1111/voicesafe/internal/recording"
)

// Environment variables that override values from the config file.
const (
	EnvAppKey  = "VOICESAFE_APP_KEY"
	EnvBaseURL = "VOICESAFE_BASE_URL"
)

// Config represents the complete SDK configuration
type Config struct {
	API       APIConfig       `yaml:"api"`
	Audio     AudioConfig     `yaml:"audio"`
	Recording RecordingConfig `yaml:"recording"`
	Policy    PolicyConfig    `yaml:"policy"`
	Player    PlayerConfig    `yaml:"player"`
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// APIConfig contains moderation backend configuration
type APIConfig struct {
	BaseURL       string `yaml:"base_url"`
	AppKey        string `yaml:"app_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
	UserAgent     string `yaml:"user_agent"`
}

// AudioConfig contains capture format and source selection
type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Source     string `yaml:"source"` // tone, file or push
	File       string `yaml:"file"`

	ToneFrequency float64 `yaml:"tone_frequency"`
	ToneAmplitude float32 `yaml:"tone_amplitude"`
}

// RecordingConfig contains the local recording window parameters
type RecordingConfig struct {
	TargetDuration       float64 `yaml:"target_duration"`        // seconds
	PauseTimeout         float64 `yaml:"pause_timeout"`          // seconds
	MinimumAudioDuration float64 `yaml:"minimum_audio_duration"` // seconds
	Continuous           bool    `yaml:"continuous"`
	TickIntervalMs       int     `yaml:"tick_interval_ms"`
	UploadTimeout        int     `yaml:"upload_timeout"` // seconds
}

// PolicyConfig contains the defaults used until remote config arrives
type PolicyConfig struct {
	DefaultIntermission  float64 `yaml:"default_intermission"` // seconds
	SilenceThreshold     float32 `yaml:"silence_threshold"`
	SessionPulseInterval int     `yaml:"session_pulse_interval"` // seconds
	RefreshInterval      int     `yaml:"refresh_interval"`       // seconds, 0 fetches once
}

// PlayerConfig identifies the player in hosts without their own telemetry
type PlayerConfig struct {
	UserID   string `yaml:"user_id"`
	RoomID   string `yaml:"room_id"`
	UserName string `yaml:"user_name"`
	Language string `yaml:"language"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HTTPConfig contains the local status server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:       moderation.DefaultBaseURL,
			Timeout:       30,
			MaxConcurrent: 4,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			Source:        "tone",
			ToneFrequency: 220,
			ToneAmplitude: 0.3,
		},
		Recording: RecordingConfig{
			TargetDuration:       10,
			PauseTimeout:         10,
			MinimumAudioDuration: 1,
			TickIntervalMs:       50,
			UploadTimeout:        30,
		},
		Policy: PolicyConfig{
			DefaultIntermission:  60,
			SilenceThreshold:     0.02,
			SessionPulseInterval: 60,
			RefreshInterval:      300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "127.0.0.1",
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored and existing variables are never overwritten.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAppKey)); v != "" {
		c.API.AppKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		c.API.BaseURL = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if _, err := c.PolicyParameters(); err != nil {
		return err
	}

	return nil
}

// Validate validates API configuration. The app key is checked by the
// commands that talk to the backend.
func (a *APIConfig) Validate() error {
	if a.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if !strings.HasPrefix(a.BaseURL, "http://") && !strings.HasPrefix(a.BaseURL, "https://") {
		return fmt.Errorf("base_url must be an http or https URL, got '%s'", a.BaseURL)
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels < 1 || a.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	switch a.Source {
	case "tone":
		if a.ToneAmplitude < 0 || a.ToneAmplitude > 1 {
			return fmt.Errorf("tone_amplitude must be between 0 and 1, got %f", a.ToneAmplitude)
		}
		if a.ToneFrequency <= 0 {
			return fmt.Errorf("tone_frequency must be positive, got %f", a.ToneFrequency)
		}
	case "file":
		if a.File == "" {
			return fmt.Errorf("file cannot be empty when source is 'file'")
		}
	case "push":
	default:
		return fmt.Errorf("source must be 'tone', 'file' or 'push', got '%s'", a.Source)
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.TargetDuration <= 0 {
		return fmt.Errorf("target_duration must be positive, got %f", r.TargetDuration)
	}

	if r.PauseTimeout <= 0 {
		return fmt.Errorf("pause_timeout must be positive, got %f", r.PauseTimeout)
	}

	if r.MinimumAudioDuration < 0 {
		return fmt.Errorf("minimum_audio_duration cannot be negative, got %f", r.MinimumAudioDuration)
	}

	if r.MinimumAudioDuration > r.TargetDuration {
		return fmt.Errorf("minimum_audio_duration (%f) cannot exceed target_duration (%f)",
			r.MinimumAudioDuration, r.TargetDuration)
	}

	if r.TickIntervalMs < 1 || r.TickIntervalMs > 1000 {
		return fmt.Errorf("tick_interval_ms must be between 1 and 1000, got %d", r.TickIntervalMs)
	}

	if r.UploadTimeout < 1 {
		return fmt.Errorf("upload_timeout must be at least 1 second, got %d", r.UploadTimeout)
	}

	return nil
}

// Validate validates policy defaults
func (p *PolicyConfig) Validate() error {
	if p.DefaultIntermission < 0 {
		return fmt.Errorf("default_intermission cannot be negative, got %f", p.DefaultIntermission)
	}

	if p.SilenceThreshold < 0 || p.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", p.SilenceThreshold)
	}

	if p.SessionPulseInterval < 1 {
		return fmt.Errorf("session_pulse_interval must be at least 1 second, got %d", p.SessionPulseInterval)
	}

	if p.RefreshInterval < 0 {
		return fmt.Errorf("refresh_interval cannot be negative, got %d", p.RefreshInterval)
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

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// PolicyParameters builds the default parameter set the recorder starts
// with.
func (c *Config) PolicyParameters() (policy.Parameters, error) {
	p := policy.Defaults()
	p.TargetDuration = seconds(c.Recording.TargetDuration)
	p.PauseTimeout = seconds(c.Recording.PauseTimeout)
	p.MinimumAudioDuration = seconds(c.Recording.MinimumAudioDuration)
	p.Intermission = seconds(c.Policy.DefaultIntermission)
	p.SamplingRate = policy.RateFor(p.TargetDuration, p.Intermission)
	p.SilenceThreshold = c.Policy.SilenceThreshold
	p.SessionPulseInterval = time.Duration(c.Policy.SessionPulseInterval) * time.Second

	if err := p.Validate(); err != nil {
		return policy.Parameters{}, fmt.Errorf("policy parameters: %w", err)
	}
	return p, nil
}

// ModerationConfig returns the backend client configuration.
func (c *Config) ModerationConfig() moderation.Config {
	return moderation.Config{
		BaseURL:       c.API.BaseURL,
		AppKey:        c.API.AppKey,
		Timeout:       c.API.GetTimeoutDuration(),
		MaxConcurrent: c.API.MaxConcurrent,
		UserAgent:     c.API.UserAgent,
	}
}

// RecorderConfig returns the state machine configuration.
func (c *Config) RecorderConfig() recording.Config {
	return recording.Config{
		SampleRate:            c.Audio.SampleRate,
		Channels:              c.Audio.Channels,
		Continuous:            c.Recording.Continuous,
		UploadTimeout:         time.Duration(c.Recording.UploadTimeout) * time.Second,
		ConfigRefreshInterval: time.Duration(c.Policy.RefreshInterval) * time.Second,
	}
}

// Telemetry returns the configured player identity.
func (p *PlayerConfig) Telemetry() recording.Telemetry {
	return recording.Telemetry{
		UserID:   p.UserID,
		RoomID:   p.RoomID,
		UserName: p.UserName,
		Language: p.Language,
	}
}

// GetTimeoutDuration returns the API timeout as a time.Duration
func (a *APIConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetTickInterval returns the host tick interval as a time.Duration
func (r *RecordingConfig) GetTickInterval() time.Duration {
	return time.Duration(r.TickIntervalMs) * time.Millisecond
}

// Sanitized returns a copy safe to expose on the status server.
func (c *Config) Sanitized() Config {
	out := *c
	if out.API.AppKey != "" {
		out.API.AppKey = "***"
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
