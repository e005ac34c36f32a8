package policy

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/skypro1111/voicesafe/internal/moderation"
)

// Never is the intermission used when sampling is disabled.
const Never time.Duration = math.MaxInt64

// minSamplingRate is the smallest rate that still schedules windows.
const minSamplingRate = 1e-6

// Parameters is one complete set of recording knobs. A set is always
// replaced whole, never field by field.
type Parameters struct {
	TargetDuration        time.Duration `json:"target_duration"`
	SamplingRate          float64       `json:"sampling_rate"`
	Intermission          time.Duration `json:"intermission"`
	SilenceThreshold      float32       `json:"silence_threshold"`
	PauseTimeout          time.Duration `json:"pause_timeout"`
	MinimumAudioDuration  time.Duration `json:"minimum_audio_duration"`
	SessionPulseInterval  time.Duration `json:"session_pulse_interval"`
	SmartSampling         bool          `json:"smart_sampling"`
	PlayerStatsExpiryDays int           `json:"player_stats_expiry_days"`
}

// Defaults returns the built-in parameter set used before the first
// successful fetch.
func Defaults() Parameters {
	target := 10 * time.Second
	intermission := 60 * time.Second
	return Parameters{
		TargetDuration:       target,
		SamplingRate:         RateFor(target, intermission),
		Intermission:         intermission,
		SilenceThreshold:     0.02,
		PauseTimeout:         10 * time.Second,
		MinimumAudioDuration: time.Second,
		SessionPulseInterval: 60 * time.Second,
	}
}

// Validate checks that p can drive the recorder.
func (p Parameters) Validate() error {
	if p.TargetDuration <= 0 {
		return fmt.Errorf("target duration must be positive, got %v", p.TargetDuration)
	}
	if p.Intermission < 0 {
		return fmt.Errorf("intermission cannot be negative, got %v", p.Intermission)
	}
	if p.SilenceThreshold < 0 || p.SilenceThreshold > 1 {
		return fmt.Errorf("silence threshold must be between 0 and 1, got %f", p.SilenceThreshold)
	}
	if p.PauseTimeout <= 0 {
		return fmt.Errorf("pause timeout must be positive, got %v", p.PauseTimeout)
	}
	if p.MinimumAudioDuration < 0 {
		return fmt.Errorf("minimum audio duration cannot be negative, got %v", p.MinimumAudioDuration)
	}
	if p.SessionPulseInterval <= 0 {
		return fmt.Errorf("session pulse interval must be positive, got %v", p.SessionPulseInterval)
	}
	return nil
}

// ClampRate limits a sampling probability to [0,1]. NaN is treated as 0.
func ClampRate(rate float64) float64 {
	if math.IsNaN(rate) || rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}

// IntermissionFor derives the idle gap between windows from a sampling
// probability: target/rate - target, truncated to whole seconds and never
// negative. A rate of zero disables sampling and returns Never.
func IntermissionFor(target time.Duration, samplingRate float64) time.Duration {
	rate := ClampRate(samplingRate)
	if rate <= minSamplingRate {
		return Never
	}
	secs := math.Trunc(target.Seconds()/rate - target.Seconds())
	if secs <= 0 {
		return 0
	}
	if secs >= Never.Seconds() {
		return Never
	}
	return time.Duration(secs) * time.Second
}

// RateFor is the inverse of IntermissionFor: the share of time spent
// recording when windows of target are separated by intermission.
func RateFor(target, intermission time.Duration) float64 {
	if target <= 0 || intermission == Never {
		return 0
	}
	return target.Seconds() / (target + max(intermission, 0)).Seconds()
}

// FromRemote builds a full parameter set from a fetched remote config.
// Fields the backend leaves unset fall back to base.
func FromRemote(base Parameters, remote moderation.RemoteConfig) Parameters {
	p := base
	p.SamplingRate = ClampRate(remote.SamplingRate)
	p.Intermission = IntermissionFor(p.TargetDuration, p.SamplingRate)
	if remote.AudioSilenceThreshold > 0 && remote.AudioSilenceThreshold <= 1 {
		p.SilenceThreshold = float32(remote.AudioSilenceThreshold)
	}
	if remote.SessionPulseIntervalSeconds > 0 {
		p.SessionPulseInterval = time.Duration(remote.SessionPulseIntervalSeconds) * time.Second
	}
	p.SmartSampling = remote.IsSmartSamplingEnabled
	p.PlayerStatsExpiryDays = remote.PlayerStatsExpiryInDays
	return p
}

// Store holds the parameter set in effect. Readers always observe a
// complete set.
type Store struct {
	defaults Parameters
	current  atomic.Pointer[Parameters]
	updated  atomic.Int64
	version  atomic.Uint64
}

// NewStore creates a store serving defaults until the first Apply.
func NewStore(defaults Parameters) (*Store, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default parameters: %w", err)
	}
	s := &Store{defaults: defaults}
	p := defaults
	s.current.Store(&p)
	return s, nil
}

// Current returns a copy of the parameters in effect.
func (s *Store) Current() Parameters {
	return *s.current.Load()
}

// Defaults returns the parameters the store was created with.
func (s *Store) Defaults() Parameters {
	return s.defaults
}

// Apply installs p whole. An invalid set is rejected and the previous set
// stays in effect.
func (s *Store) Apply(p Parameters) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("rejected parameters: %w", err)
	}
	s.current.Store(&p)
	s.updated.Store(time.Now().UnixNano())
	s.version.Add(1)
	return nil
}

// ApplyRemote derives a set from remote on top of the defaults and
// installs it.
func (s *Store) ApplyRemote(remote moderation.RemoteConfig) (Parameters, error) {
	p := FromRemote(s.defaults, remote)
	if err := s.Apply(p); err != nil {
		return s.Current(), err
	}
	return p, nil
}

// Version counts successful Apply calls.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Updated returns when the current set was installed, or the zero time if
// the defaults are still in effect.
func (s *Store) Updated() time.Time {
	n := s.updated.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
