package level

import (
	"math"
	"testing"
)

func TestNewMeterValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold float32
		expectErr bool
	}{
		{"valid threshold", 0.02, false},
		{"zero threshold", 0, false},
		{"upper bound", 1, false},
		{"threshold too low", -0.1, true},
		{"threshold too high", 1.1, true},
		{"NaN threshold", float32(math.NaN()), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMeter(tt.threshold)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestPeakAndRMS(t *testing.T) {
	samples := []float32{0.5, -0.5, 0.5, -0.5}

	if got := Peak(samples); got != 0.5 {
		t.Errorf("Expected peak 0.5, got %f", got)
	}

	if got := RMS(samples); math.Abs(float64(got)-0.5) > 1e-6 {
		t.Errorf("Expected RMS 0.5, got %f", got)
	}

	if got := Peak([]float32{0.1, -0.9, 0.3}); got != 0.9 {
		t.Errorf("Expected negative peak magnitude 0.9, got %f", got)
	}

	if RMS(nil) != 0 || Peak(nil) != 0 {
		t.Error("Expected zero level for empty input")
	}
}

func TestMeasureSilence(t *testing.T) {
	meter, err := NewMeter(0.02)
	if err != nil {
		t.Fatalf("Failed to create meter: %v", err)
	}

	tests := []struct {
		name     string
		samples  []float32
		expected bool
	}{
		{"quiet window", []float32{0.01, -0.01, 0.015}, true},
		{"loud window", []float32{0.01, 0.3, 0.0}, false},
		{"exactly at threshold", []float32{0.02, -0.02}, true},
		{"empty window", []float32{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := meter.Measure(tt.samples)
			if r.Silent != tt.expected {
				t.Errorf("Expected silent=%v, got %v (peak %f)", tt.expected, r.Silent, r.Peak)
			}
			if r.Samples != len(tt.samples) {
				t.Errorf("Expected %d samples, got %d", len(tt.samples), r.Samples)
			}
		})
	}
}

func TestMeterStats(t *testing.T) {
	meter, _ := NewMeter(0.1)

	meter.Measure([]float32{0.5})
	meter.Measure([]float32{0.05})
	meter.Measure([]float32{0.01})
	meter.Measure([]float32{0.9})

	stats := meter.GetStats()
	if stats.TotalWindows != 4 {
		t.Errorf("Expected 4 windows, got %d", stats.TotalWindows)
	}
	if stats.SilentWindows != 2 {
		t.Errorf("Expected 2 silent windows, got %d", stats.SilentWindows)
	}
	if stats.SilentPercentage != 50 {
		t.Errorf("Expected 50%% silent, got %f", stats.SilentPercentage)
	}
	if stats.LastReading.Peak != 0.9 {
		t.Errorf("Expected last peak 0.9, got %f", stats.LastReading.Peak)
	}

	meter.Reset()
	if meter.GetStats().TotalWindows != 0 {
		t.Error("Expected statistics to reset")
	}
}

func TestUpdateThreshold(t *testing.T) {
	meter, _ := NewMeter(0.5)

	if err := meter.UpdateThreshold(0.05); err != nil {
		t.Fatalf("Failed to update threshold: %v", err)
	}
	if meter.Threshold() != 0.05 {
		t.Errorf("Expected threshold 0.05, got %f", meter.Threshold())
	}
	if meter.Measure([]float32{0.1}).Silent {
		t.Error("Expected 0.1 to be audible with the lowered threshold")
	}

	if err := meter.UpdateThreshold(2); err == nil {
		t.Error("Expected error for invalid threshold")
	}
	if meter.Threshold() != 0.05 {
		t.Error("Expected invalid update to leave threshold unchanged")
	}
}
