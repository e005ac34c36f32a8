package voicesafe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/skypro1111/voicesafe/internal/audio"
	"github.com/skypro1111/voicesafe/internal/config"
	"github.com/skypro1111/voicesafe/internal/metrics"
	"github.com/skypro1111/voicesafe/internal/moderation"
	"github.com/skypro1111/voicesafe/internal/policy"
	"github.com/skypro1111/voicesafe/internal/presence"
	"github.com/skypro1111/voicesafe/internal/recording"
)

type (
	Config          = config.Config
	Telemetry       = recording.Telemetry
	Permission      = recording.Permission
	PermissionFunc  = recording.PermissionFunc
	TelemetryFunc   = recording.TelemetryFunc
	Source          = audio.Source
	PushSource      = audio.PushSource
	ActionItem      = moderation.ActionItem
	PlayerStatus    = moderation.PlayerStatus
	ModerationEvent = moderation.ModerationEvent
	State           = recording.State
	Snapshot        = recording.Snapshot
	Parameters      = policy.Parameters
	PresenceStats   = presence.Stats
	ClientStats     = moderation.ClientStats
)

const (
	Idle      = recording.Idle
	Recording = recording.Recording
	Paused    = recording.Paused
)

var (
	ErrConfiguration = recording.ErrConfiguration
	ErrDevice        = recording.ErrDevice
	ErrTransport     = moderation.ErrTransport
	ErrConfigFetch   = moderation.ErrConfigFetch
	ErrRejected      = moderation.ErrRejected
)

// Options are the host-provided collaborators. Permission and Telemetry are
// required.
type Options struct {
	Permission Permission
	Telemetry  recording.TelemetryProvider

	// Source overrides the capture source built from the audio config.
	Source Source

	// OnAction receives the enforcement action of a violating verdict.
	OnAction func(action ActionItem, serverTime time.Time)

	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
	Clock      func() time.Time
}

// SDK is one embedded voice-safety instance. Tick, SetFocus and Close are
// meant for the host's main loop goroutine; the query methods are safe from
// any goroutine.
type SDK struct {
	cfg       *config.Config
	client    *moderation.Client
	store     *policy.Store
	recorder  *recording.Machine
	presence  *presence.Tracker
	telemetry recording.TelemetryProvider
	source    Source
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New wires the SDK from cfg. It fails with ErrConfiguration when a required
// collaborator is missing.
func New(cfg *config.Config, opts Options) (*SDK, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrConfiguration)
	}
	if opts.Permission == nil || opts.Telemetry == nil {
		return nil, fmt.Errorf("%w: permission predicate and telemetry provider are required", ErrConfiguration)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	params, err := cfg.PolicyParameters()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	store, err := policy.NewStore(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	modCfg := cfg.ModerationConfig()
	modCfg.HTTPClient = opts.HTTPClient
	client, err := moderation.NewClient(modCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	source := opts.Source
	if source == nil {
		if source, err = NewSource(cfg.Audio, opts.Clock); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	recorder, err := recording.New(cfg.RecorderConfig(), recording.Deps{
		Permission:    opts.Permission,
		Telemetry:     opts.Telemetry,
		Source:        source,
		Uploader:      client,
		Policy:        store,
		ConfigFetcher: client,
		OnAction:      opts.OnAction,
		Logger:        logger,
		Metrics:       opts.Metrics,
		Clock:         opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	tracker, err := presence.NewTracker(presence.Config{
		Client:   client,
		UserID:   func() string { return opts.Telemetry.GetTelemetry().UserID },
		Interval: func() time.Duration { return store.Current().SessionPulseInterval },
		Timeout:  modCfg.Timeout,
		Logger:   logger,
		Metrics:  opts.Metrics,
		Clock:    opts.Clock,
	})
	if err != nil {
		recorder.Close()
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	s := &SDK{
		cfg:       cfg,
		client:    client,
		store:     store,
		recorder:  recorder,
		presence:  tracker,
		telemetry: opts.Telemetry,
		source:    source,
		logger:    logger,
		metrics:   opts.Metrics,
	}

	// The host is assumed focused until told otherwise
	tracker.SetFocus(true)

	logger.Info("Voice safety SDK initialized",
		slog.String("base_url", modCfg.BaseURL),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("channels", cfg.Audio.Channels),
		slog.Duration("target_duration", params.TargetDuration),
		slog.Duration("intermission", params.Intermission),
		slog.Bool("continuous", cfg.Recording.Continuous),
	)
	return s, nil
}

// NewSource builds the capture source named by the audio config. A push
// source must be fed by the host through PushSamples.
func NewSource(cfg config.AudioConfig, clock func() time.Time) (Source, error) {
	switch cfg.Source {
	case "tone", "":
		return audio.NewToneSource(cfg.ToneFrequency, cfg.ToneAmplitude, clock), nil
	case "file":
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read audio file %s: %w", cfg.File, err)
		}
		src, err := audio.NewFileSource(data, clock)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "push":
		return audio.NewPushSource(1, cfg.SampleRate*cfg.Channels), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", cfg.Source)
	}
}

// NewPushSource creates a capture source fed through PushSamples, holding at
// most maxQueue samples between ticks.
func NewPushSource(devices, maxQueue int) *PushSource {
	return audio.NewPushSource(devices, maxQueue)
}

// Tick advances the recorder and presence tracker. Call it once per frame.
func (s *SDK) Tick() {
	s.recorder.Tick()
	s.presence.Tick()
}

// SetFocus reports the host application's focus. Windows that finish
// unfocused are not uploaded, and the player session follows focus.
func (s *SDK) SetFocus(focused bool) {
	s.recorder.SetFocus(focused)
	s.presence.SetFocus(focused)
}

// PushSamples hands interleaved samples from the host's audio callback to a
// push source. It reports false when the SDK captures from another source.
func (s *SDK) PushSamples(chunk []float32) bool {
	push, ok := s.source.(*PushSource)
	if !ok {
		return false
	}
	push.OnSamples(chunk)
	return true
}

// SetContinuous records back to back, ignoring the sampling rate.
func (s *SDK) SetContinuous(on bool) {
	s.recorder.SetContinuous(on)
}

// RefreshConfig fetches the remote policy on the next tick.
func (s *SDK) RefreshConfig() {
	s.recorder.RefreshConfig()
}

// State returns the recorder state as of the last tick.
func (s *SDK) State() State {
	return s.recorder.State()
}

// Snapshot returns the recorder view published by the last tick.
func (s *SDK) Snapshot() Snapshot {
	return s.recorder.Snapshot()
}

// Parameters returns the policy in effect.
func (s *SDK) Parameters() Parameters {
	return s.store.Current()
}

// PresenceStats returns player session call counters.
func (s *SDK) PresenceStats() PresenceStats {
	return s.presence.Stats()
}

// ClientStats returns backend request counters.
func (s *SDK) ClientStats() ClientStats {
	return s.client.Stats()
}

// ReportUser files a report against another player on behalf of the local
// player.
func (s *SDK) ReportUser(ctx context.Context, targetUserID, eventType string) (*ModerationEvent, error) {
	reporter := s.telemetry.GetTelemetry().UserID
	if reporter == "" {
		return nil, errors.New("cannot report without a local user ID")
	}
	event, err := s.client.ReportUser(ctx, reporter, targetUserID, eventType)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Player reported",
		slog.String("target_user_id", targetUserID),
		slog.String("event_type", eventType),
		slog.String("event_id", event.ID),
	)
	return event, nil
}

// PlayerStatus looks up a player's standing. An empty userID means the local
// player.
func (s *SDK) PlayerStatus(ctx context.Context, userID string) (*PlayerStatus, error) {
	if userID == "" {
		userID = s.telemetry.GetTelemetry().UserID
	}
	return s.client.PlayerStatus(ctx, userID)
}

// Close ends the player session, discards any open window and waits for
// outstanding requests.
func (s *SDK) Close() error {
	var errs []error
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: %w", err))
	}
	if err := s.presence.Close(); err != nil {
		errs = append(errs, fmt.Errorf("presence: %w", err))
	}
	if err := s.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("client: %w", err))
	}
	return errors.Join(errs...)
}
