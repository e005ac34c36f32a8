package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/voicesafe/internal/metrics"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *fakeClient) record(op, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, op+":"+userID)
	return c.err
}

func (c *fakeClient) StartSession(ctx context.Context, userID string) error {
	return c.record("start", userID)
}

func (c *fakeClient) EndSession(ctx context.Context, userID string) error {
	return c.record("end", userID)
}

func (c *fakeClient) Pulse(ctx context.Context, userID string) error {
	return c.record("pulse", userID)
}

func (c *fakeClient) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestTracker(t *testing.T, client *fakeClient, userID string) (*Tracker, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Unix(1700000000, 0)}
	tr, err := NewTracker(Config{
		Client:   client,
		UserID:   func() string { return userID },
		Interval: func() time.Duration { return 30 * time.Second },
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}
	return tr, clock
}

func TestNewTrackerValidation(t *testing.T) {
	if _, err := NewTracker(Config{}); err == nil {
		t.Error("Expected error without client")
	}
	if _, err := NewTracker(Config{Client: &fakeClient{}}); err == nil {
		t.Error("Expected error without user ID provider")
	}
	if _, err := NewTracker(Config{Client: &fakeClient{}, UserID: func() string { return "" }}); err == nil {
		t.Error("Expected error without interval provider")
	}
}

func TestFocusLifecycle(t *testing.T) {
	client := &fakeClient{}
	tr, clock := newTestTracker(t, client, "player-1")

	tr.SetFocus(true)
	tr.SetFocus(true)

	for i := 0; i < 65; i++ {
		clock.Advance(time.Second)
		tr.Tick()
	}

	tr.SetFocus(false)

	// Ticks while unfocused send nothing
	for i := 0; i < 60; i++ {
		clock.Advance(time.Second)
		tr.Tick()
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := client.snapshot()
	expected := []string{"start:player-1", "pulse:player-1", "pulse:player-1", "end:player-1"}
	if len(got) != len(expected) {
		t.Fatalf("Expected calls %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Call %d: expected %q, got %q", i, expected[i], got[i])
		}
	}

	stats := tr.Stats()
	if stats.Starts != 1 || stats.Pulses != 2 || stats.Ends != 1 || stats.Active {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestCloseEndsActiveSession(t *testing.T) {
	client := &fakeClient{}
	tr, _ := newTestTracker(t, client, "player-1")

	tr.SetFocus(true)
	tr.Close()
	tr.Close()

	got := client.snapshot()
	if len(got) != 2 || got[0] != "start:player-1" || got[1] != "end:player-1" {
		t.Errorf("Expected start then end, got %v", got)
	}

	tr.SetFocus(true)
	if len(client.snapshot()) != 2 {
		t.Error("Expected focus changes after Close to be ignored")
	}
}

func TestMissingUserIDSkipsCalls(t *testing.T) {
	client := &fakeClient{}
	tr, _ := newTestTracker(t, client, "")

	tr.SetFocus(true)
	tr.Close()

	if got := client.snapshot(); len(got) != 0 {
		t.Errorf("Expected no calls without user ID, got %v", got)
	}
}

func TestFailuresCounted(t *testing.T) {
	client := &fakeClient{err: errors.New("503")}
	tr, _ := newTestTracker(t, client, "player-1")

	tr.SetFocus(true)
	tr.SetFocus(false)
	tr.Close()

	stats := tr.Stats()
	if stats.Failures != 2 || stats.Starts != 0 {
		t.Errorf("Expected 2 failures, got %+v", stats)
	}
}

func TestStartRetriedWhenUserIDAppears(t *testing.T) {
	client := &fakeClient{}
	clock := &testClock{t: time.Unix(1700000000, 0)}

	var mu sync.Mutex
	userID := ""
	tr, err := NewTracker(Config{
		Client: client,
		UserID: func() string {
			mu.Lock()
			defer mu.Unlock()
			return userID
		},
		Interval: func() time.Duration { return time.Minute },
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	tr.SetFocus(true)
	clock.Advance(time.Second)
	tr.Tick()

	mu.Lock()
	userID = "player-9"
	mu.Unlock()

	clock.Advance(time.Second)
	tr.Tick()
	tr.Close()

	got := client.snapshot()
	if len(got) != 2 || got[0] != "start:player-9" || got[1] != "end:player-9" {
		t.Errorf("Expected late start then end, got %v", got)
	}
}

// hangingClient blocks every call until its context is done.
type hangingClient struct {
	mu   sync.Mutex
	errs []error
}

func (c *hangingClient) wait(ctx context.Context) error {
	<-ctx.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, ctx.Err())
	return ctx.Err()
}

func (c *hangingClient) StartSession(ctx context.Context, userID string) error { return c.wait(ctx) }
func (c *hangingClient) EndSession(ctx context.Context, userID string) error   { return c.wait(ctx) }
func (c *hangingClient) Pulse(ctx context.Context, userID string) error        { return c.wait(ctx) }

func TestCloseAbortsHangingCalls(t *testing.T) {
	client := &hangingClient{}
	tr, err := NewTracker(Config{
		Client:       client,
		UserID:       func() string { return "player-1" },
		Interval:     func() time.Duration { return 30 * time.Second },
		Timeout:      time.Minute,
		CloseTimeout: 50 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	tr.SetFocus(true)

	start := time.Now()
	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if took := time.Since(start); took > 5*time.Second {
		t.Errorf("Close blocked for %v despite a 50ms close timeout", took)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.errs) != 2 {
		t.Fatalf("Expected start and end to be aborted, got %d calls", len(client.errs))
	}
	for _, e := range client.errs {
		if !errors.Is(e, context.Canceled) {
			t.Errorf("Expected cancelled call, got %v", e)
		}
	}
	if got := tr.Stats().Failures; got != 2 {
		t.Errorf("Expected 2 failures, got %d", got)
	}
}
