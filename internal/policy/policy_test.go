package policy

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/voicesafe/internal/moderation"
)

func TestIntermissionFor(t *testing.T) {
	target := 10 * time.Second

	tests := []struct {
		name     string
		rate     float64
		expected time.Duration
	}{
		{"half the time", 0.5, 10 * time.Second},
		{"always", 1, 0},
		{"quarter", 0.25, 30 * time.Second},
		{"truncated to whole seconds", 0.3, 23 * time.Second},
		{"above one clamps", 1.7, 0},
		{"zero disables", 0, Never},
		{"negative clamps to zero", -0.5, Never},
		{"below minimum", 1e-7, Never},
		{"NaN disables", math.NaN(), Never},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IntermissionFor(target, tt.rate); got != tt.expected {
				t.Errorf("Expected intermission %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestIntermissionTinyRateDoesNotOverflow(t *testing.T) {
	got := IntermissionFor(10*time.Second, 2e-6)
	if got <= 0 {
		t.Errorf("Expected a huge positive intermission, got %v", got)
	}
}

func TestRateForInverse(t *testing.T) {
	target := 10 * time.Second
	if got := RateFor(target, 10*time.Second); got != 0.5 {
		t.Errorf("Expected rate 0.5, got %f", got)
	}
	if got := RateFor(target, Never); got != 0 {
		t.Errorf("Expected rate 0 for Never, got %f", got)
	}
	if got := IntermissionFor(target, RateFor(target, 30*time.Second)); got != 30*time.Second {
		t.Errorf("Expected round trip to 30s, got %v", got)
	}
}

func TestDefaults(t *testing.T) {
	p := Defaults()
	if err := p.Validate(); err != nil {
		t.Fatalf("Defaults are invalid: %v", err)
	}
	if p.TargetDuration != 10*time.Second {
		t.Errorf("Expected 10s target, got %v", p.TargetDuration)
	}
	if p.SilenceThreshold != 0.02 {
		t.Errorf("Expected silence threshold 0.02, got %f", p.SilenceThreshold)
	}
	if p.PauseTimeout != 10*time.Second || p.MinimumAudioDuration != time.Second {
		t.Errorf("Unexpected pause budget defaults: %+v", p)
	}
}

func TestFromRemote(t *testing.T) {
	base := Defaults()

	p := FromRemote(base, moderation.RemoteConfig{
		SamplingRate:                0.5,
		IsSmartSamplingEnabled:      true,
		AudioSilenceThreshold:       0.05,
		PlayerStatsExpiryInDays:     14,
		SessionPulseIntervalSeconds: 30,
	})

	if p.Intermission != 10*time.Second {
		t.Errorf("Expected intermission 10s, got %v", p.Intermission)
	}
	if p.SilenceThreshold != 0.05 {
		t.Errorf("Expected threshold 0.05, got %f", p.SilenceThreshold)
	}
	if p.SessionPulseInterval != 30*time.Second {
		t.Errorf("Expected pulse interval 30s, got %v", p.SessionPulseInterval)
	}
	if !p.SmartSampling || p.PlayerStatsExpiryDays != 14 {
		t.Errorf("Expected smart sampling fields carried through: %+v", p)
	}
	if p.TargetDuration != base.TargetDuration || p.PauseTimeout != base.PauseTimeout {
		t.Error("Expected local-only fields to come from base")
	}
}

func TestFromRemoteFallsBackToBase(t *testing.T) {
	base := Defaults()

	p := FromRemote(base, moderation.RemoteConfig{SamplingRate: 1})

	if p.SilenceThreshold != base.SilenceThreshold {
		t.Errorf("Expected default threshold, got %f", p.SilenceThreshold)
	}
	if p.SessionPulseInterval != base.SessionPulseInterval {
		t.Errorf("Expected default pulse interval, got %v", p.SessionPulseInterval)
	}
	if p.Intermission != 0 {
		t.Errorf("Expected zero intermission at rate 1, got %v", p.Intermission)
	}
}

func TestStoreApply(t *testing.T) {
	store, err := NewStore(Defaults())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if !store.Updated().IsZero() || store.Version() != 0 {
		t.Error("Expected fresh store to report no updates")
	}

	applied, err := store.ApplyRemote(moderation.RemoteConfig{SamplingRate: 0.5})
	if err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}
	if store.Current() != applied {
		t.Error("Expected current parameters to equal applied set")
	}
	if store.Version() != 1 {
		t.Errorf("Expected version 1, got %d", store.Version())
	}

	bad := applied
	bad.PauseTimeout = 0
	if err := store.Apply(bad); err == nil {
		t.Error("Expected invalid set to be rejected")
	}
	if store.Current() != applied {
		t.Error("Expected rejected set to leave previous parameters in effect")
	}
}

func TestStoreRejectsInvalidDefaults(t *testing.T) {
	p := Defaults()
	p.TargetDuration = 0
	if _, err := NewStore(p); err == nil {
		t.Error("Expected error for invalid defaults")
	}
}

func TestStoreConcurrentReadersSeeWholeSets(t *testing.T) {
	store, _ := NewStore(Defaults())

	a := Defaults()
	a.SamplingRate, a.Intermission = 0.5, 10*time.Second
	b := Defaults()
	b.SamplingRate, b.Intermission = 0.25, 30*time.Second

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				store.Apply(a)
			} else {
				store.Apply(b)
			}
		}
	}()

	defaults := Defaults()
	for i := 0; i < 10000; i++ {
		p := store.Current()
		switch p.SamplingRate {
		case a.SamplingRate:
			if p.Intermission != a.Intermission {
				t.Fatalf("Torn read: %+v", p)
			}
		case b.SamplingRate:
			if p.Intermission != b.Intermission {
				t.Fatalf("Torn read: %+v", p)
			}
		case defaults.SamplingRate:
		default:
			t.Fatalf("Unexpected sampling rate %f", p.SamplingRate)
		}
	}

	close(stop)
	wg.Wait()
}
