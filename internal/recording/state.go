package recording

import (
	"context"
	"errors"
	"time"

	"github.com/skypro1111/voicesafe/internal/level"
	"github.com/skypro1111/voicesafe/internal/moderation"
	"github.com/skypro1111/voicesafe/internal/policy"
)

var (
	// ErrConfiguration is returned by New when a required collaborator is
	// missing or the capture format is invalid.
	ErrConfiguration = errors.New("recording: invalid configuration")
	// ErrDevice classifies capture device failures. They are logged and
	// keep the machine Idle; they never fail a tick.
	ErrDevice = errors.New("recording: capture device unavailable")
)

// State is the recorder's position in its window lifecycle.
type State int

const (
	Idle State = iota
	Recording
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Discard reasons reported in logs and metrics.
const (
	ReasonSilent   = "silent"
	ReasonNoFocus  = "no_focus"
	ReasonTooShort = "too_short"
	ReasonEncode   = "encode_error"
	ReasonShutdown = "shutdown"
)

// Finalize causes.
const (
	causePauseTimeout   = "pause_timeout"
	causeTargetDuration = "target_duration"
)

// Permission reports whether the player may be recorded right now. It is
// polled once per tick and must be cheap.
type Permission interface {
	CanRecord() bool
}

// PermissionFunc adapts a function to Permission.
type PermissionFunc func() bool

func (f PermissionFunc) CanRecord() bool { return f() }

// Telemetry identifies the player and room an upload belongs to.
type Telemetry struct {
	UserID   string `json:"user_id"`
	RoomID   string `json:"room_id"`
	UserName string `json:"user_name,omitempty"`
	Language string `json:"language,omitempty"`
}

// TelemetryProvider supplies identity at flush time. It is read fresh on
// every upload.
type TelemetryProvider interface {
	GetTelemetry() Telemetry
}

// TelemetryFunc adapts a function to TelemetryProvider.
type TelemetryFunc func() Telemetry

func (f TelemetryFunc) GetTelemetry() Telemetry { return f() }

// Uploader submits an encoded window for moderation.
type Uploader interface {
	Submit(ctx context.Context, wav []byte, meta moderation.Metadata) (*moderation.Verdict, error)
}

// ConfigFetcher retrieves the remote policy.
type ConfigFetcher interface {
	FetchRemoteConfig(ctx context.Context) (*moderation.RemoteConfig, error)
}

// ActionFunc receives the enforcement action of a violating verdict along
// with the server time it is relative to.
type ActionFunc func(action moderation.ActionItem, serverTime time.Time)

// Counters are cumulative totals since construction.
type Counters struct {
	WindowsStarted    uint64 `json:"windows_started"`
	WindowsFlushed    uint64 `json:"windows_flushed"`
	DiscardedSilent   uint64 `json:"discarded_silent"`
	DiscardedNoFocus  uint64 `json:"discarded_no_focus"`
	DiscardedTooShort uint64 `json:"discarded_too_short"`
	DiscardedOther    uint64 `json:"discarded_other"`
	Pauses            uint64 `json:"pauses"`
	UploadsSucceeded  uint64 `json:"uploads_succeeded"`
	UploadsFailed     uint64 `json:"uploads_failed"`
	ActionsForwarded  uint64 `json:"actions_forwarded"`
	SamplesDropped    uint64 `json:"samples_dropped"`
	ConfigFetches     uint64 `json:"config_fetches"`
	ConfigFailures    uint64 `json:"config_failures"`
}

// Snapshot is a consistent view of the machine published after every tick.
type Snapshot struct {
	State           State             `json:"-"`
	StateName       string            `json:"state"`
	WindowID        string            `json:"window_id,omitempty"`
	ActiveElapsed   time.Duration     `json:"active_elapsed"`
	PauseElapsed    time.Duration     `json:"pause_elapsed"`
	SinceWindowEnd  time.Duration     `json:"since_window_end"`
	BufferedSamples int               `json:"buffered_samples"`
	BufferCapacity  int               `json:"buffer_capacity"`
	Focused         bool              `json:"focused"`
	Continuous      bool              `json:"continuous"`
	UploadsInFlight int               `json:"uploads_in_flight"`
	FetchInFlight   bool              `json:"fetch_in_flight"`
	LastConfigError string            `json:"last_config_error,omitempty"`
	Counters        Counters          `json:"counters"`
	Level           level.Stats       `json:"level"`
	Policy          policy.Parameters `json:"policy"`
	Ticks           uint64            `json:"ticks"`
}
