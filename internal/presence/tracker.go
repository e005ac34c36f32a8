package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/voicesafe/internal/metrics"
)

const (
	opStart = "start"
	opEnd   = "end"
	opPulse = "pulse"
)

// SessionClient reports player sessions to the backend.
type SessionClient interface {
	StartSession(ctx context.Context, userID string) error
	EndSession(ctx context.Context, userID string) error
	Pulse(ctx context.Context, userID string) error
}

// Config wires a Tracker to the host.
type Config struct {
	Client SessionClient

	// UserID is read each time a call is made.
	UserID func() string

	// Interval returns the current pulse interval.
	Interval func() time.Duration

	// Timeout bounds a single call. Defaults to 10s.
	Timeout time.Duration

	// CloseTimeout bounds how long Close waits for queued calls before
	// aborting them. Defaults to 5s.
	CloseTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Stats are cumulative call counters.
type Stats struct {
	Active   bool   `json:"active"`
	Starts   uint64 `json:"starts"`
	Ends     uint64 `json:"ends"`
	Pulses   uint64 `json:"pulses"`
	Failures uint64 `json:"failures"`
}

// Tracker keeps a player session open on the backend while the host has
// focus. Gaining focus starts a session, losing it ends the session, and a
// pulse is sent every interval in between. Calls run in order on a single
// background worker and never block the caller.
type Tracker struct {
	client   SessionClient
	userID   func() string
	interval func() time.Duration
	timeout  time.Duration
	grace    time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu        sync.Mutex
	active    bool
	started   bool
	lastTick  time.Time
	sincePing time.Duration
	closed    bool

	starts   atomic.Uint64
	ends     atomic.Uint64
	pulses   atomic.Uint64
	failures atomic.Uint64

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	op     string
	userID string
}

const queueSize = 16

// NewTracker creates an inactive tracker.
func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Client == nil {
		return nil, errors.New("presence: session client is required")
	}
	if cfg.UserID == nil {
		return nil, errors.New("presence: user ID provider is required")
	}
	if cfg.Interval == nil {
		return nil, errors.New("presence: pulse interval provider is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		client:   cfg.Client,
		userID:   cfg.UserID,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		grace:    cfg.CloseTimeout,
		logger:   cfg.Logger.With(slog.String("component", "presence")),
		metrics:  cfg.Metrics,
		now:      cfg.Clock,
		lastTick: cfg.Clock(),
		jobs:     make(chan job, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	t.wg.Add(1)
	go t.worker()
	return t, nil
}

// SetFocus starts or ends the session on a focus change. Repeating the
// current focus state is a no-op.
func (t *Tracker) SetFocus(focused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || focused == t.active {
		return
	}
	t.active = focused
	t.sincePing = 0
	if focused {
		t.started = t.call(opStart)
	} else if t.started {
		t.started = false
		t.call(opEnd)
	}
}

// Tick sends a pulse when one is due. A session that could not be started
// for lack of a user ID is retried.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	dt := now.Sub(t.lastTick)
	t.lastTick = now
	if t.closed || !t.active {
		return
	}
	if !t.started {
		t.started = t.call(opStart)
		return
	}
	if dt <= 0 {
		return
	}

	t.sincePing += dt
	interval := t.interval()
	if interval <= 0 || t.sincePing < interval {
		return
	}
	t.sincePing = 0
	t.call(opPulse)
}

// call queues op for the worker and reports whether it was queued. Caller
// holds mu.
func (t *Tracker) call(op string) bool {
	userID := t.userID()
	if userID == "" {
		t.logger.Debug("Skipping session call without user ID", slog.String("op", op))
		return false
	}

	select {
	case t.jobs <- job{op: op, userID: userID}:
		return true
	default:
		t.failures.Add(1)
		t.metrics.RecordPresenceCall(op, false)
		t.logger.Warn("Session call queue full, dropping call", slog.String("op", op))
		return false
	}
}

func (t *Tracker) worker() {
	defer t.wg.Done()
	for j := range t.jobs {
		t.execute(j)
	}
}

func (t *Tracker) execute(j job) {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	var err error
	switch j.op {
	case opStart:
		err = t.client.StartSession(ctx, j.userID)
	case opEnd:
		err = t.client.EndSession(ctx, j.userID)
	case opPulse:
		err = t.client.Pulse(ctx, j.userID)
	}

	t.metrics.RecordPresenceCall(j.op, err == nil)
	if err != nil {
		t.failures.Add(1)
		t.logger.Warn("Player session call failed",
			slog.String("op", j.op),
			slog.String("user_id", j.userID),
			slog.String("error", err.Error()),
		)
		return
	}

	switch j.op {
	case opStart:
		t.starts.Add(1)
	case opEnd:
		t.ends.Add(1)
	case opPulse:
		t.pulses.Add(1)
	}
	t.logger.Debug("Player session call completed", slog.String("op", j.op), slog.String("user_id", j.userID))
}

// Stats returns the call counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()

	return Stats{
		Active:   active,
		Starts:   t.starts.Load(),
		Ends:     t.ends.Load(),
		Pulses:   t.pulses.Load(),
		Failures: t.failures.Load(),
	}
}

// Close ends an open session and waits up to the close timeout for queued
// calls to finish. Calls still pending after that are cancelled.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if t.active && t.started {
		t.call(opEnd)
	}
	t.active = false
	t.started = false
	t.closed = true
	close(t.jobs)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(t.grace):
		t.logger.Warn("Session calls still pending at close, aborting them",
			slog.Duration("waited", t.grace),
		)
		t.cancel()
		<-done
	}
	t.cancel()
	return nil
}
