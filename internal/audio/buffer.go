package audio

import "time"

// Buffer is a fixed-capacity accumulator for interleaved float samples.
// Appends that would overflow the remaining capacity are dropped whole, so a
// partially filled window never wraps around or carries a torn chunk.
//
// Buffer has no locking: its owner serializes access.
type Buffer struct {
	samples []float32
	cursor  int
	dropped int
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Capacity int `json:"capacity_samples"`
	Written  int `json:"written_samples"`
	Dropped  int `json:"dropped_samples"`
}

// CapacityFor returns the number of interleaved samples needed to hold d of
// audio at the given format.
func CapacityFor(sampleRate, channels int, d time.Duration) int {
	if sampleRate <= 0 || channels <= 0 || d <= 0 {
		return 0
	}
	return int(int64(sampleRate) * int64(channels) * int64(d) / int64(time.Second))
}

// NewBuffer allocates a buffer holding up to capacity samples.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{samples: make([]float32, capacity)}
}

// Append copies chunk into the buffer and returns how many samples were
// accepted: len(chunk) or 0. A nil buffer accepts nothing.
func (b *Buffer) Append(chunk []float32) int {
	if b == nil || len(chunk) == 0 {
		return 0
	}
	if len(chunk) > len(b.samples)-b.cursor {
		b.dropped += len(chunk)
		return 0
	}
	copy(b.samples[b.cursor:], chunk)
	b.cursor += len(chunk)
	return len(chunk)
}

// Drain returns a copy of the written prefix. The zeroed tail of a partially
// filled buffer is never included.
func (b *Buffer) Drain() []float32 {
	if b == nil {
		return nil
	}
	out := make([]float32, b.cursor)
	copy(out, b.samples[:b.cursor])
	return out
}

// Reset rewinds the write cursor.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.cursor = 0
	b.dropped = 0
}

// Len returns the write cursor.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return b.cursor
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	if b == nil {
		return 0
	}
	return len(b.samples)
}

// Remaining returns how many more samples fit.
func (b *Buffer) Remaining() int {
	return b.Cap() - b.Len()
}

// Full reports whether no further samples can be accepted.
func (b *Buffer) Full() bool {
	return b.Remaining() == 0
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	if b == nil {
		return BufferStats{}
	}
	return BufferStats{
		Capacity: len(b.samples),
		Written:  b.cursor,
		Dropped:  b.dropped,
	}
}
