package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/go-audio/wav"
)

func sineWindow(sampleRate int, seconds, frequency float64, amplitude float32) []float32 {
	n := int(float64(sampleRate) * seconds)
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = amplitude * float32(math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	sampleRate := 16000
	samples := sineWindow(sampleRate, 0.1, 440, 0.5)

	wavData, silent, err := EncodeWAV(samples, len(samples), 1, sampleRate, 0.02)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if silent {
		t.Error("Expected a 0.5 amplitude tone to be non-silent")
	}

	expectedSize := WAVHeaderSize + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestEncodeWAVHeaderLayout(t *testing.T) {
	samples := []float32{0, 0.25, -0.25, 0.5, -0.5, 1}
	wavData, _, err := EncodeWAV(samples, len(samples), 2, 22050, 0.02)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	le := binary.LittleEndian
	checks := []struct {
		name     string
		got      uint32
		expected uint32
	}{
		{"chunk size", le.Uint32(wavData[4:8]), uint32(36 + len(samples)*2)},
		{"fmt size", le.Uint32(wavData[16:20]), 16},
		{"audio format", uint32(le.Uint16(wavData[20:22])), 1},
		{"channels", uint32(le.Uint16(wavData[22:24])), 2},
		{"sample rate", le.Uint32(wavData[24:28]), 22050},
		{"byte rate", le.Uint32(wavData[28:32]), 22050 * 2 * 2},
		{"block align", uint32(le.Uint16(wavData[32:34])), 4},
		{"bits per sample", uint32(le.Uint16(wavData[34:36])), 16},
		{"data size", le.Uint32(wavData[40:44]), uint32(len(samples) * 2)},
	}
	for _, c := range checks {
		if c.got != c.expected {
			t.Errorf("%s: expected %d, got %d", c.name, c.expected, c.got)
		}
	}

	if string(wavData[0:4]) != "RIFF" || string(wavData[8:16]) != "WAVEfmt " || string(wavData[36:40]) != "data" {
		t.Errorf("Unexpected chunk identifiers in header: %q", wavData[:44])
	}
}

func TestEncodeWAVTruncates(t *testing.T) {
	tests := []struct {
		sample   float32
		expected int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{0.5, 16383},   // 16383.5 truncates down
		{-0.5, -16383}, // truncation is toward zero
		{0.00002, 0},   // 0.65534 truncates to zero
	}

	for _, tt := range tests {
		wavData, _, err := EncodeWAV([]float32{tt.sample}, 1, 1, 8000, 0.02)
		if err != nil {
			t.Fatalf("EncodeWAV failed: %v", err)
		}
		got := int16(binary.LittleEndian.Uint16(wavData[WAVHeaderSize:]))
		if got != tt.expected {
			t.Errorf("Sample %v: expected %d, got %d", tt.sample, tt.expected, got)
		}
	}
}

func TestEncodeWAVOutOfRangeWraps(t *testing.T) {
	// 2.0 * 32767 = 65534, which wraps to -2 in 16 bits.
	wavData, _, err := EncodeWAV([]float32{2}, 1, 1, 8000, 0.02)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	got := int16(binary.LittleEndian.Uint16(wavData[WAVHeaderSize:]))
	if got != -2 {
		t.Errorf("Expected out-of-range sample to wrap to -2, got %d", got)
	}
}

func TestEncodeWAVSilenceDetection(t *testing.T) {
	const threshold = float32(0.02)

	tests := []struct {
		name     string
		samples  []float32
		expected bool
	}{
		{"all below threshold", []float32{0.01, -0.019, 0.0, 0.015}, true},
		{"one sample above threshold", []float32{0.01, 0.0, 0.021, 0.0}, false},
		{"negative sample above threshold", []float32{0.0, -0.5, 0.0}, false},
		{"sample exactly at threshold", []float32{0.0, threshold, -threshold}, true},
		{"empty window", []float32{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, silent, err := EncodeWAV(tt.samples, len(tt.samples), 1, 16000, threshold)
			if err != nil {
				t.Fatalf("EncodeWAV failed: %v", err)
			}
			if silent != tt.expected {
				t.Errorf("Expected silent=%v, got %v", tt.expected, silent)
			}
		})
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	wavData, silent, err := EncodeWAV([]float32{}, 0, 1, 16000, 0.02)
	if err != nil {
		t.Fatalf("Expected header-only WAV for empty input, got error: %v", err)
	}
	if len(wavData) != WAVHeaderSize {
		t.Errorf("Expected %d bytes, got %d", WAVHeaderSize, len(wavData))
	}
	if !silent {
		t.Error("Expected empty window to be silent")
	}
	if binary.LittleEndian.Uint32(wavData[40:44]) != 0 {
		t.Error("Expected zero data size")
	}
}

func TestEncodeWAVInvalidArguments(t *testing.T) {
	if _, _, err := EncodeWAV(nil, 0, 1, 16000, 0.02); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for nil samples, got %v", err)
	}

	samples := []float32{0.1, 0.2, 0.3}
	if _, _, err := EncodeWAV(samples, 4, 1, 16000, 0.02); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for sample count past the end, got %v", err)
	}

	if _, _, err := EncodeWAV(samples, 3, 0, 16000, 0.02); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero channels, got %v", err)
	}

	if _, _, err := EncodeWAV(samples, 3, 1, 0, 0.02); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero sample rate, got %v", err)
	}
}

func TestEncodeWAVSampleCountPrefix(t *testing.T) {
	samples := []float32{0.5, 0.5, 0.9, 0.9}
	wavData, silent, err := EncodeWAV(samples, 2, 1, 8000, 0.6)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(wavData) != WAVHeaderSize+4 {
		t.Errorf("Expected only 2 samples encoded, got %d data bytes", len(wavData)-WAVHeaderSize)
	}
	if !silent {
		t.Error("Expected samples beyond sampleCount to be ignored by silence detection")
	}
}

func TestEncoderReuseDoesNotAlias(t *testing.T) {
	var enc Encoder

	first, _, err := enc.EncodeWAV([]float32{0.5, -0.5}, 2, 1, 8000, 0.02)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	snapshot := append([]byte(nil), first...)

	if _, _, err := enc.EncodeWAV([]float32{0.9, 0.9, 0.9}, 3, 1, 8000, 0.02); err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if !bytes.Equal(first, snapshot) {
		t.Error("Expected earlier result to be unaffected by encoder reuse")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	samples := make([]float32, 4096)
	for i := range samples {
		samples[i] = rng.Float32()*2 - 1
	}

	wavData, _, err := EncodeWAV(samples, len(samples), 1, 16000, 0.02)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, header, err := DecodeFloat(wavData)
	if err != nil {
		t.Fatalf("DecodeFloat failed: %v", err)
	}

	if header.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", header.SampleRate)
	}

	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}

	tolerance := 1.0/32767 + 1e-6
	for i := range samples {
		if diff := math.Abs(float64(decoded[i] - samples[i])); diff > tolerance {
			t.Fatalf("Sample %d: |%v - %v| = %v exceeds quantization error", i, decoded[i], samples[i], diff)
		}
	}
}

func TestEncodeWAVReadableByIndependentDecoder(t *testing.T) {
	samples := sineWindow(16000, 0.25, 300, 0.8)
	wavData, _, err := EncodeWAV(samples, len(samples), 1, 16000, 0.02)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(wavData))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer failed: %v", err)
	}

	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("Unexpected format: %d Hz, %d channels, %d bits", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	if len(buf.Data) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(buf.Data))
	}

	for i, v := range buf.Data {
		if expected := int(toPCM16(samples[i])); v != expected {
			t.Fatalf("Sample %d: expected %d, got %d", i, expected, v)
		}
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	if err := ValidateWAV(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}

func TestDecodeWAVTruncated(t *testing.T) {
	wavData, _, err := EncodeWAV([]float32{0.1, 0.2, 0.3, 0.4}, 4, 1, 8000, 0.02)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if _, _, err := DecodeWAV(wavData[:len(wavData)-2]); err == nil {
		t.Error("Expected error for truncated data chunk")
	}
}

func TestGetWAVDurationStereo(t *testing.T) {
	// 1 second of stereo audio at 8kHz
	samples := make([]float32, 8000*2)
	wavData, _, err := EncodeWAV(samples, len(samples), 2, 8000, 0.02)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	duration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}

	if math.Abs(duration-1.0) > 0.001 {
		t.Errorf("Expected duration 1.000, got %.3f", duration)
	}
}
