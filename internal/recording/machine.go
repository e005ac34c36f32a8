package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voicesafe/internal/audio"
	"github.com/skypro1111/voicesafe/internal/level"
	"github.com/skypro1111/voicesafe/internal/metrics"
	"github.com/skypro1111/voicesafe/internal/policy"
)

// Config contains the capture format and scheduling knobs that are not
// remotely tunable.
type Config struct {
	SampleRate int
	Channels   int

	// Continuous starts a new window as soon as the previous one ends,
	// ignoring the intermission.
	Continuous bool

	UploadTimeout time.Duration

	// ConfigRefreshInterval is how often the remote policy is refetched.
	// Zero fetches once, on the first tick.
	ConfigRefreshInterval time.Duration
}

// Deps are the collaborators of a Machine. Permission, Telemetry, Source
// and Uploader are required.
type Deps struct {
	Permission Permission
	Telemetry  TelemetryProvider
	Source     audio.Source
	Uploader   Uploader

	Policy        *policy.Store
	ConfigFetcher ConfigFetcher
	OnAction      ActionFunc
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Clock         func() time.Time
}

// session is the active capture window.
type session struct {
	id            string
	startedAt     time.Time
	activeElapsed time.Duration
	pauseElapsed  time.Duration
	buffer        *audio.Buffer
	attached      bool
}

// Machine is the recording duty-cycle controller. Tick, SetFocus callbacks
// and Close belong to the host's tick goroutine; Snapshot, State, SetFocus,
// SetContinuous and RefreshConfig may be called from any goroutine.
type Machine struct {
	cfg Config

	permission Permission
	telemetry  TelemetryProvider
	source     audio.Source
	uploader   Uploader
	fetcher    ConfigFetcher
	onAction   ActionFunc
	policy     *policy.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	encoder audio.Encoder
	meter   *level.Meter

	// Owned by the tick goroutine
	state           State
	session         *session
	lastTick        time.Time
	sinceWindowEnd  time.Duration
	sinceFetch      time.Duration
	fetchedOnce     bool
	fetchInFlight   bool
	uploadsInFlight int
	lastConfigError string
	deviceLogged    bool
	counters        Counters
	ticks           uint64

	// Shared with other goroutines
	focused          atomic.Bool
	continuous       atomic.Bool
	refreshRequested atomic.Bool
	ticking          atomic.Bool
	closed           atomic.Bool
	snapshot         atomic.Pointer[Snapshot]

	// Async completions
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	uploads chan uploadResult
	configs chan configResult
}

// New validates deps and creates an Idle machine.
func New(cfg Config, deps Deps) (*Machine, error) {
	switch {
	case deps.Permission == nil:
		return nil, fmt.Errorf("%w: permission predicate is required", ErrConfiguration)
	case deps.Telemetry == nil:
		return nil, fmt.Errorf("%w: telemetry provider is required", ErrConfiguration)
	case deps.Source == nil:
		return nil, fmt.Errorf("%w: capture source is required", ErrConfiguration)
	case deps.Uploader == nil:
		return nil, fmt.Errorf("%w: uploader is required", ErrConfiguration)
	}

	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("%w: invalid capture format %d Hz, %d channels",
			ErrConfiguration, cfg.SampleRate, cfg.Channels)
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}

	store := deps.Policy
	if store == nil {
		var err error
		if store, err = policy.NewStore(policy.Defaults()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	meter, err := level.NewMeter(store.Current().SilenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		cfg:        cfg,
		permission: deps.Permission,
		telemetry:  deps.Telemetry,
		source:     deps.Source,
		uploader:   deps.Uploader,
		fetcher:    deps.ConfigFetcher,
		onAction:   deps.OnAction,
		policy:     store,
		logger:     logger.With(slog.String("component", "recorder")),
		metrics:    deps.Metrics,
		now:        now,
		meter:      meter,
		lastTick:   now(),
		ctx:        ctx,
		cancel:     cancel,
		uploads:    make(chan uploadResult, 16),
		configs:    make(chan configResult, 1),
	}
	m.focused.Store(true)
	m.continuous.Store(cfg.Continuous)

	if deps.Source.DeviceCount() <= 0 {
		m.logDevice(fmt.Errorf("%w: no microphone found", ErrDevice))
	}

	m.publish()
	return m, nil
}

// Tick advances timers by the time elapsed since the previous tick, applies
// finished uploads and config fetches, and evaluates the transition rules.
// It never blocks and never panics.
func (m *Machine) Tick() {
	if m.closed.Load() || !m.ticking.CompareAndSwap(false, true) {
		return
	}
	defer m.ticking.Store(false)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Recovered panic during tick", slog.Any("panic", r))
		}
		m.publish()
	}()

	now := m.now()
	dt := now.Sub(m.lastTick)
	if dt < 0 {
		dt = 0
	}
	m.lastTick = now
	m.ticks++

	m.drainCompletions()
	m.scheduleConfigFetch(dt)

	switch m.state {
	case Recording:
		m.session.activeElapsed += dt
		m.capture()
	case Paused:
		m.session.pauseElapsed += dt
	case Idle:
		m.sinceWindowEnd = addSaturating(m.sinceWindowEnd, dt)
	}

	m.step(m.policy.Current())
}

// step evaluates the transition rules in priority order. A pause or resume
// does not end the tick: the pause budget and target duration are checked on
// every tick with an open window, so toggling permission each frame cannot
// keep a window open.
func (m *Machine) step(p policy.Parameters) {
	canRecord := m.canRecord()

	switch {
	case m.state == Idle:
		if canRecord && (m.continuous.Load() || m.sinceWindowEnd > p.Intermission) {
			m.startWindow(p)
		}
		return
	case m.state == Recording && !canRecord:
		m.pause()
	case m.state == Paused && canRecord:
		m.resume()
	}

	s := m.session
	switch {
	case s.pauseElapsed >= p.PauseTimeout:
		m.finalize(p, causePauseTimeout)
	case s.activeElapsed >= p.TargetDuration:
		m.finalize(p, causeTargetDuration)
	}
}

func (m *Machine) startWindow(p policy.Parameters) {
	if m.source.DeviceCount() <= 0 {
		m.logDevice(fmt.Errorf("%w: no microphone found", ErrDevice))
		return
	}
	if err := m.source.Start(m.cfg.SampleRate, m.cfg.Channels); err != nil {
		m.logDevice(fmt.Errorf("%w: %w", ErrDevice, err))
		return
	}
	m.deviceLogged = false

	m.session = &session{
		id:        uuid.NewString(),
		startedAt: m.now(),
		buffer:    audio.NewBuffer(audio.CapacityFor(m.cfg.SampleRate, m.cfg.Channels, p.TargetDuration)),
		attached:  true,
	}
	m.state = Recording
	m.counters.WindowsStarted++
	m.metrics.RecordWindowStarted()
	m.metrics.SetRecorderState(int(Recording))

	m.logger.Debug("Recording window started",
		slog.String("window_id", m.session.id),
		slog.Int("capacity_samples", m.session.buffer.Cap()),
		slog.Duration("since_last_window", m.sinceWindowEnd),
	)
}

// capture moves samples read from the source into the window buffer.
func (m *Machine) capture() {
	chunk := m.source.Read()
	if len(chunk) == 0 {
		return
	}
	if m.session.buffer.Append(chunk) == 0 {
		m.counters.SamplesDropped += uint64(len(chunk))
		m.metrics.RecordSamplesDropped(len(chunk))
	}
}

func (m *Machine) pause() {
	m.capture()
	m.detach()
	m.state = Paused
	m.counters.Pauses++
	m.metrics.RecordPause()
	m.metrics.SetRecorderState(int(Paused))

	m.logger.Debug("Recording paused",
		slog.String("window_id", m.session.id),
		slog.Duration("active_elapsed", m.session.activeElapsed),
		slog.Duration("pause_elapsed", m.session.pauseElapsed),
	)
}

func (m *Machine) resume() {
	if err := m.source.Start(m.cfg.SampleRate, m.cfg.Channels); err != nil {
		// Stay paused; the pause budget keeps running and ends the window.
		m.logDevice(fmt.Errorf("%w: %w", ErrDevice, err))
		return
	}
	m.session.attached = true
	m.state = Recording
	m.metrics.SetRecorderState(int(Recording))

	m.logger.Debug("Recording resumed",
		slog.String("window_id", m.session.id),
		slog.Duration("pause_elapsed", m.session.pauseElapsed),
	)
}

func (m *Machine) detach() {
	if !m.session.attached {
		return
	}
	m.session.attached = false
	if err := m.source.Stop(); err != nil {
		m.logger.Warn("Failed to stop capture source", slog.String("error", err.Error()))
	}
}

// finalize ends the current window and either hands it to the uploader or
// discards it. The machine is Idle afterwards in every case.
func (m *Machine) finalize(p policy.Parameters, cause string) {
	s := m.session
	if m.state == Recording {
		m.capture()
	}
	m.detach()

	m.session = nil
	m.state = Idle
	m.sinceWindowEnd = 0
	m.metrics.SetRecorderState(int(Idle))

	log := m.logger.With(
		slog.String("window_id", s.id),
		slog.String("cause", cause),
		slog.Duration("active_elapsed", s.activeElapsed),
		slog.Duration("pause_elapsed", s.pauseElapsed),
	)

	if cause == causePauseTimeout && s.activeElapsed < p.MinimumAudioDuration {
		m.discard(log, ReasonTooShort, s)
		return
	}

	samples := s.buffer.Drain()
	wav, silent, err := m.encoder.EncodeWAV(samples, len(samples), m.cfg.Channels, m.cfg.SampleRate, p.SilenceThreshold)
	if err != nil {
		log.Error("Failed to encode window", slog.String("error", err.Error()))
		m.discard(log, ReasonEncode, s)
		return
	}

	if m.meter.Threshold() != p.SilenceThreshold {
		if err := m.meter.UpdateThreshold(p.SilenceThreshold); err != nil {
			log.Warn("Failed to update level meter threshold", slog.String("error", err.Error()))
		}
	}
	reading := m.meter.Measure(samples)
	log = log.With(slog.Float64("peak", float64(reading.Peak)), slog.Float64("rms", float64(reading.RMS)))

	if silent {
		m.discard(log, ReasonSilent, s)
		return
	}
	if !m.focused.Load() {
		m.discard(log, ReasonNoFocus, s)
		return
	}

	tel := m.getTelemetry()
	m.counters.WindowsFlushed++
	m.metrics.RecordWindowFlushed(s.activeElapsed.Seconds(), reading.Peak)
	log.Info("Flushing recording window",
		slog.Int("samples", len(samples)),
		slog.Int("wav_bytes", len(wav)),
	)

	frames := len(samples) / m.cfg.Channels
	m.dispatchUpload(wav, s.id, tel, float64(frames)/float64(m.cfg.SampleRate))
}

func (m *Machine) discard(log *slog.Logger, reason string, s *session) {
	switch reason {
	case ReasonSilent:
		m.counters.DiscardedSilent++
	case ReasonNoFocus:
		m.counters.DiscardedNoFocus++
	case ReasonTooShort:
		m.counters.DiscardedTooShort++
	default:
		m.counters.DiscardedOther++
	}
	m.metrics.RecordWindowDiscarded(reason, s.activeElapsed.Seconds())
	log.Info("Discarding recording window", slog.String("reason", reason))
}

// canRecord polls the host predicate. A panicking predicate counts as a
// denial.
func (m *Machine) canRecord() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Permission predicate panicked", slog.Any("panic", r))
			ok = false
		}
	}()
	return m.permission.CanRecord()
}

func (m *Machine) getTelemetry() (tel Telemetry) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Telemetry provider panicked", slog.Any("panic", r))
			tel = Telemetry{}
		}
	}()
	return m.telemetry.GetTelemetry()
}

// logDevice reports a device problem once until capture succeeds again.
func (m *Machine) logDevice(err error) {
	if m.deviceLogged {
		m.logger.Debug("Capture device still unavailable", slog.String("error", err.Error()))
		return
	}
	m.deviceLogged = true
	m.logger.Error("Capture device unavailable, staying idle", slog.String("error", err.Error()))
}

// SetFocus records whether the host application has focus. Windows that
// finish without focus are discarded.
func (m *Machine) SetFocus(focused bool) {
	m.focused.Store(focused)
}

// SetContinuous toggles the intermission override.
func (m *Machine) SetContinuous(on bool) {
	m.continuous.Store(on)
}

// RefreshConfig requests a remote policy fetch on the next tick.
func (m *Machine) RefreshConfig() {
	m.refreshRequested.Store(true)
}

// State returns the state as of the last tick.
func (m *Machine) State() State {
	return m.snapshot.Load().State
}

// Snapshot returns the view published by the last tick.
func (m *Machine) Snapshot() Snapshot {
	return *m.snapshot.Load()
}

// Policy returns the parameter store the machine reads.
func (m *Machine) Policy() *policy.Store {
	return m.policy
}

func (m *Machine) publish() {
	snap := &Snapshot{
		State:           m.state,
		StateName:       m.state.String(),
		SinceWindowEnd:  m.sinceWindowEnd,
		Focused:         m.focused.Load(),
		Continuous:      m.continuous.Load(),
		UploadsInFlight: m.uploadsInFlight,
		FetchInFlight:   m.fetchInFlight,
		LastConfigError: m.lastConfigError,
		Counters:        m.counters,
		Level:           m.meter.GetStats(),
		Policy:          m.policy.Current(),
		Ticks:           m.ticks,
	}
	if s := m.session; s != nil {
		snap.WindowID = s.id
		snap.ActiveElapsed = s.activeElapsed
		snap.PauseElapsed = s.pauseElapsed
		snap.BufferedSamples = s.buffer.Len()
		snap.BufferCapacity = s.buffer.Cap()
	}
	m.snapshot.Store(snap)
}

// Close discards any open window, cancels in-flight uploads and fetches,
// and waits for their goroutines. It must not run concurrently with Tick.
func (m *Machine) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	if m.session != nil {
		s := m.session
		m.detach()
		m.session = nil
		m.state = Idle
		m.discard(m.logger.With(slog.String("window_id", s.id)), ReasonShutdown, s)
	}

	m.cancel()
	m.wg.Wait()
	m.publish()

	m.logger.Info("Recorder stopped",
		slog.Uint64("windows_started", m.counters.WindowsStarted),
		slog.Uint64("windows_flushed", m.counters.WindowsFlushed),
		slog.Uint64("uploads_failed", m.counters.UploadsFailed),
	)
	return nil
}

func addSaturating(d, dt time.Duration) time.Duration {
	if d > policy.Never-dt {
		return policy.Never
	}
	return d + dt
}
