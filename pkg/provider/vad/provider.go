// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine classifies each captured frame as speech or silence and surfaces
// that as a stateful, per-stream session. Deciding where an utterance begins and
// ends (silence timers, pause gating) is left to the caller; the engine only
// answers "is this frame loud enough to be speech".
//
// VAD is synchronous: ProcessFrame returns immediately, so it can run inline in
// the capture loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

// ErrInvalidConfig is returned by Engine.NewSession for out-of-range settings.
var ErrInvalidConfig = errors.New("vad: invalid config")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// Channels is the interleaved channel count of the frames.
	Channels int

	// SpeechThreshold is the level strictly above which a frame counts as
	// speech. For the energy engine this is a normalised RMS in [0, 1].
	SpeechThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// Reset clears detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single frame of little-endian int16 PCM and
	// returns the classification. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error wrapping ErrInvalidConfig if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
