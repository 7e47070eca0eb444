package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned (possibly wrapped) by [Capture.Open] when
// the input device cannot be acquired: permission denied, no device present,
// or the device is held by another process.
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// Stream is an acquired input device delivering frames in capture order.
//
// The Frames channel is closed after Close returns or when the device fails.
// Close releases the device deterministically and is idempotent.
type Stream interface {
	// Frames returns the receive side of the frame channel. The same channel
	// is returned on every call.
	Frames() <-chan AudioFrame

	// Format reports the format frames are delivered in.
	Format() Format

	// Close stops capture and releases the device.
	Close() error
}

// Capture acquires microphone input.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	// Open acquires the device and starts delivering frames in the requested
	// format. frameSamples is the number of samples per channel in each frame.
	// ctx governs the acquisition only; the stream lives until Close.
	Open(ctx context.Context, format Format, frameSamples int) (Stream, error)
}
