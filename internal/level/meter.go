package level

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Meter measures the level of finished recording windows and keeps running
// statistics of how many of them fell under the silence threshold.
type Meter struct {
	threshold float32

	// Statistics
	totalWindows  uint64
	silentWindows uint64
	peakSum       float64
	lastReading   Reading

	mu sync.RWMutex
}

// Reading is the level of one window of interleaved samples.
type Reading struct {
	Peak      float32   `json:"peak"`
	RMS       float32   `json:"rms"`
	Silent    bool      `json:"silent"`
	Samples   int       `json:"samples"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats represents meter statistics
type Stats struct {
	TotalWindows     uint64  `json:"total_windows"`
	SilentWindows    uint64  `json:"silent_windows"`
	SilentPercentage float64 `json:"silent_percentage"`
	AveragePeak      float64 `json:"average_peak"`
	Threshold        float32 `json:"threshold"`
	LastReading      Reading `json:"last_reading"`
}

// NewMeter creates a meter using threshold as the peak silence cutoff.
func NewMeter(threshold float32) (*Meter, error) {
	if err := checkThreshold(threshold); err != nil {
		return nil, err
	}
	return &Meter{threshold: threshold}, nil
}

func checkThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 || math.IsNaN(float64(threshold)) {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	return nil
}

// Measure computes the level of samples and records it. A window is silent
// when no sample magnitude exceeds the threshold, matching the encoder.
func (m *Meter) Measure(samples []float32) Reading {
	peak := Peak(samples)

	m.mu.Lock()
	defer m.mu.Unlock()

	r := Reading{
		Peak:      peak,
		RMS:       RMS(samples),
		Silent:    !(peak > m.threshold),
		Samples:   len(samples),
		Timestamp: time.Now(),
	}

	m.totalWindows++
	if r.Silent {
		m.silentWindows++
	}
	m.peakSum += float64(peak)
	m.lastReading = r

	return r
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// RMS returns the root mean square of samples, or 0 for an empty slice.
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return float32(math.Sqrt(energy / float64(len(samples))))
}

// GetStats returns current meter statistics
func (m *Meter) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalWindows:  m.totalWindows,
		SilentWindows: m.silentWindows,
		Threshold:     m.threshold,
		LastReading:   m.lastReading,
	}
	if m.totalWindows > 0 {
		stats.SilentPercentage = float64(m.silentWindows) / float64(m.totalWindows) * 100
		stats.AveragePeak = m.peakSum / float64(m.totalWindows)
	}
	return stats
}

// UpdateThreshold updates the silence threshold
func (m *Meter) UpdateThreshold(threshold float32) error {
	if err := checkThreshold(threshold); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threshold = threshold
	return nil
}

// Threshold returns the current silence threshold
func (m *Meter) Threshold() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threshold
}

// Reset clears statistics
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalWindows = 0
	m.silentWindows = 0
	m.peakSum = 0
	m.lastReading = Reading{}
}
