package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument is returned when the encoder is handed no sample source
// or an impossible format.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	// WAVHeaderSize is the size of the canonical PCM WAV header.
	WAVHeaderSize = 44

	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8

	// pcmScale maps a normalized float sample onto the int16 range.
	pcmScale = 32767
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func newWAVHeader(channels, sampleRate, dataSize int) WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bytesPerSample),
		BlockAlign:    uint16(channels * bytesPerSample),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// Encoder converts float PCM windows into 16-bit WAV byte streams. The zero
// value is ready to use. An Encoder keeps a scratch buffer between calls and
// must not be shared between goroutines; returned slices never alias it.
type Encoder struct {
	scratch bytes.Buffer
}

// EncodeWAV encodes the first sampleCount interleaved float samples into a
// canonical 16-bit PCM WAV file and reports whether the window is silent,
// i.e. no sample's magnitude exceeds silenceThreshold.
//
// Samples are scaled by 32767 and truncated toward zero. Values outside
// [-1, 1] wrap around instead of clipping.
func (e *Encoder) EncodeWAV(samples []float32, sampleCount, channels, sampleRate int, silenceThreshold float32) ([]byte, bool, error) {
	if samples == nil {
		return nil, false, fmt.Errorf("%w: nil sample source", ErrInvalidArgument)
	}
	if sampleCount < 0 || sampleCount > len(samples) {
		return nil, false, fmt.Errorf("%w: sample count %d out of range [0, %d]", ErrInvalidArgument, sampleCount, len(samples))
	}
	if channels <= 0 {
		return nil, false, fmt.Errorf("%w: channel count must be positive, got %d", ErrInvalidArgument, channels)
	}
	if sampleRate <= 0 {
		return nil, false, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidArgument, sampleRate)
	}

	dataSize := sampleCount * bytesPerSample
	e.scratch.Reset()
	e.scratch.Grow(WAVHeaderSize + dataSize)

	header := newWAVHeader(channels, sampleRate, dataSize)
	if err := binary.Write(&e.scratch, binary.LittleEndian, header); err != nil {
		return nil, false, fmt.Errorf("failed to write WAV header: %w", err)
	}

	silent := true
	var pair [bytesPerSample]byte
	for _, sample := range samples[:sampleCount] {
		if silent && abs32(sample) > silenceThreshold {
			silent = false
		}
		binary.LittleEndian.PutUint16(pair[:], uint16(toPCM16(sample)))
		e.scratch.Write(pair[:])
	}

	out := make([]byte, e.scratch.Len())
	copy(out, e.scratch.Bytes())
	return out, silent, nil
}

// EncodeWAV is a convenience wrapper around a throwaway Encoder.
func EncodeWAV(samples []float32, sampleCount, channels, sampleRate int, silenceThreshold float32) ([]byte, bool, error) {
	var e Encoder
	return e.EncodeWAV(samples, sampleCount, channels, sampleRate, silenceThreshold)
}

// toPCM16 truncates through int32 so that out-of-range input wraps the same
// way on every platform.
func toPCM16(sample float32) int16 {
	scaled := float64(sample * pcmScale)
	if math.IsNaN(scaled) {
		return 0
	}
	if scaled >= math.MaxInt32 || scaled <= math.MinInt32 {
		return int16(int64(scaled))
	}
	return int16(int32(scaled))
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// DecodeWAV decodes 16-bit PCM WAV data back to interleaved samples.
func DecodeWAV(data []byte) ([]int16, *WAVHeader, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, nil, err
	}

	if header.AudioFormat != 1 {
		return nil, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != bitsPerSample {
		return nil, nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	if header.NumChannels == 0 {
		return nil, nil, fmt.Errorf("invalid channel count: 0")
	}

	numSamples := int(header.Subchunk2Size) / bytesPerSample
	if available := (len(data) - WAVHeaderSize) / bytesPerSample; numSamples > available {
		return nil, nil, fmt.Errorf("WAV data truncated: header declares %d samples, %d present", numSamples, available)
	}

	samples := make([]int16, numSamples)
	payload := data[WAVHeaderSize:]
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*bytesPerSample:]))
	}

	return samples, header, nil
}

// DecodeFloat decodes WAV data and rescales the samples to normalized floats.
func DecodeFloat(data []byte) ([]float32, *WAVHeader, error) {
	pcm, header, err := DecodeWAV(data)
	if err != nil {
		return nil, nil, err
	}
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / pcmScale
	}
	return out, header, nil
}

func readHeader(data []byte) (*WAVHeader, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	return &header, nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if header.BitsPerSample == 0 || header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid format: %d bits, %d channels", header.BitsPerSample, header.NumChannels)
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8)
	frames := numSamples / uint32(header.NumChannels)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(frames) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}
