// Package audio defines the frame, capture and playback abstractions shared by
// the recorder, the playback sequencer and the platform adapters.
//
// Three interfaces make up the package surface:
//
//   - [Capture] acquires an input device and yields a [Stream] of frames.
//   - [Player] turns an encoded WAV clip into a playable [Handle].
//   - [Handle] is one clip's transport: seek, play, pause and a completion hook.
//
// Concrete adapters live in sub-packages (audio/malgo for capture, audio/beep
// for playback); audio/mock provides test doubles.
package audio

import (
	"fmt"
	"time"
)

// AudioFrame is one block of captured audio as delivered by a [Stream].
// Data holds interleaved little-endian int16 PCM.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for dictation).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of int16 samples per channel held in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return len(f.Data) / 2
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// BytesFor returns the number of PCM bytes covering d in this format.
func (f Format) BytesFor(d time.Duration) int {
	ch := max(f.Channels, 1)
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * ch * 2
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
