package audio

import "time"

// Handle controls playback of one encoded clip.
//
// Play is asynchronous: it starts output and returns. When output reaches the
// end of the clip the registered finished callback, if any, is invoked exactly
// once on an implementation goroutine. Pause never triggers the callback.
// Implementations must be safe for concurrent use and must never invoke the
// callback while holding a lock the caller might need.
type Handle interface {
	// SeekToStart rewinds the clip to its first sample.
	SeekToStart()

	// Play starts or resumes output.
	Play() error

	// Pause halts output, keeping the position.
	Pause()

	// OnFinished registers fn as the completion callback, replacing any
	// previous one.
	OnFinished(fn func())

	// ClearOnFinished detaches the completion callback.
	ClearOnFinished()

	// Duration returns the clip length.
	Duration() time.Duration
}

// Player loads encoded clips into playable handles.
type Player interface {
	// Load decodes a WAV clip and returns a paused handle positioned at the
	// start.
	Load(wav []byte) (Handle, error)
}
