package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrNotStarted is returned by Stop on a source that is not capturing.
var ErrNotStarted = errors.New("source not started")

// Source is a microphone capture device. Start attaches the device, Stop
// detaches it, and Read returns the interleaved samples captured since the
// previous Read. Read on a stopped source returns nil.
type Source interface {
	DeviceCount() int
	Start(sampleRate, channels int) error
	Stop() error
	Read() []float32
}

// PushSource adapts callback-style capture (the engine's audio thread calls
// OnSamples) to the pull-style Source interface. It is safe for concurrent
// use by one producer and one consumer.
type PushSource struct {
	devices  int
	maxQueue int

	mu      sync.Mutex
	started bool
	queue   []float32
	dropped uint64
}

// NewPushSource creates a push adapter reporting the given number of devices.
// At most maxQueue samples are held between reads; older samples are kept and
// the overflow is dropped.
func NewPushSource(devices, maxQueue int) *PushSource {
	return &PushSource{devices: devices, maxQueue: maxQueue}
}

func (p *PushSource) DeviceCount() int {
	return p.devices
}

func (p *PushSource) Start(sampleRate, channels int) error {
	if p.devices <= 0 {
		return fmt.Errorf("no capture device available")
	}
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid capture format: %d Hz, %d channels", sampleRate, channels)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	p.queue = p.queue[:0]
	return nil
}

func (p *PushSource) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotStarted
	}
	p.started = false
	return nil
}

// OnSamples queues a captured chunk. Chunks delivered while stopped are
// ignored.
func (p *PushSource) OnSamples(chunk []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	room := len(chunk)
	if p.maxQueue > 0 {
		room = min(room, p.maxQueue-len(p.queue))
	}
	if room < len(chunk) {
		p.dropped += uint64(len(chunk) - max(room, 0))
	}
	if room > 0 {
		p.queue = append(p.queue, chunk[:room]...)
	}
}

func (p *PushSource) Read() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	out := make([]float32, len(p.queue))
	copy(out, p.queue)
	p.queue = p.queue[:0]
	return out
}

// Dropped returns how many pushed samples were discarded because the queue
// was full.
func (p *PushSource) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// pacer turns wall-clock time into a frame count so generated sources deliver
// audio at real-time rate.
type pacer struct {
	now        func() time.Time
	sampleRate int
	channels   int
	last       time.Time
	carry      time.Duration
}

func (p *pacer) start(sampleRate, channels int) {
	p.sampleRate = sampleRate
	p.channels = channels
	p.last = p.now()
	p.carry = 0
}

// frames returns the number of whole frames elapsed since the previous call.
func (p *pacer) frames() int {
	now := p.now()
	elapsed := now.Sub(p.last) + p.carry
	p.last = now
	if elapsed <= 0 {
		p.carry = 0
		return 0
	}
	n := int(int64(elapsed) * int64(p.sampleRate) / int64(time.Second))
	p.carry = elapsed - time.Duration(int64(n)*int64(time.Second)/int64(p.sampleRate))
	return n
}

// ToneSource generates a sine tone at real-time rate. An amplitude of zero
// produces digital silence.
type ToneSource struct {
	Frequency float64
	Amplitude float32

	mu      sync.Mutex
	pacer   pacer
	started bool
	phase   float64
}

// NewToneSource creates a tone generator using now as its clock.
func NewToneSource(frequency float64, amplitude float32, now func() time.Time) *ToneSource {
	if now == nil {
		now = time.Now
	}
	return &ToneSource{Frequency: frequency, Amplitude: amplitude, pacer: pacer{now: now}}
}

func (t *ToneSource) DeviceCount() int {
	return 1
}

func (t *ToneSource) Start(sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid capture format: %d Hz, %d channels", sampleRate, channels)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pacer.start(sampleRate, channels)
	t.started = true
	return nil
}

func (t *ToneSource) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return ErrNotStarted
	}
	t.started = false
	return nil
}

// SetAmplitude changes the tone level for subsequent reads.
func (t *ToneSource) SetAmplitude(amplitude float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Amplitude = amplitude
}

func (t *ToneSource) Read() []float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	frames := t.pacer.frames()
	if frames == 0 {
		return nil
	}
	channels := t.pacer.channels
	step := 2 * math.Pi * t.Frequency / float64(t.pacer.sampleRate)
	out := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		v := t.Amplitude * float32(math.Sin(t.phase))
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
	}
	return out
}

// FileSource replays decoded WAV audio at real-time rate, looping at the end.
// The file's own sample rate is ignored; frames are delivered at the rate
// requested by Start and channels are mixed down or duplicated as needed.
type FileSource struct {
	mu       sync.Mutex
	frames   [][]float32
	pacer    pacer
	started  bool
	position int
}

// NewFileSource decodes WAV data for playback.
func NewFileSource(data []byte, now func() time.Time) (*FileSource, error) {
	samples, header, err := DecodeFloat(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV source: %w", err)
	}
	channels := int(header.NumChannels)
	if len(samples) < channels {
		return nil, fmt.Errorf("WAV source contains no audio frames")
	}
	frames := make([][]float32, len(samples)/channels)
	for i := range frames {
		frames[i] = samples[i*channels : (i+1)*channels]
	}
	if now == nil {
		now = time.Now
	}
	return &FileSource{frames: frames, pacer: pacer{now: now}}, nil
}

func (f *FileSource) DeviceCount() int {
	return 1
}

func (f *FileSource) Start(sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid capture format: %d Hz, %d channels", sampleRate, channels)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pacer.start(sampleRate, channels)
	f.started = true
	return nil
}

func (f *FileSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return ErrNotStarted
	}
	f.started = false
	return nil
}

func (f *FileSource) Read() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil
	}
	n := f.pacer.frames()
	if n == 0 {
		return nil
	}
	channels := f.pacer.channels
	out := make([]float32, 0, n*channels)
	for i := 0; i < n; i++ {
		out = appendFrame(out, f.frames[f.position], channels)
		f.position = (f.position + 1) % len(f.frames)
	}
	return out
}

func appendFrame(out []float32, frame []float32, channels int) []float32 {
	if len(frame) == channels {
		return append(out, frame...)
	}
	var sum float32
	for _, v := range frame {
		sum += v
	}
	mono := sum / float32(len(frame))
	for c := 0; c < channels; c++ {
		out = append(out, mono)
	}
	return out
}
