// Package audio handles microphone capture buffering and format conversion.
// It implements the fixed-capacity sample accumulator for a recording window,
// float PCM to 16-bit WAV encoding with peak-based silence detection, and the
// capture source abstraction the recorder pulls samples from.
package audio
