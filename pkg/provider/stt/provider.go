// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns one complete utterance, encoded as a WAV clip, into text.
// Calls are independent: callers may issue many concurrently and they may
// complete in any order. Providers never retry on their own; a failed call
// returns an error and the caller decides what happens to the utterance.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrEmptyAudio is returned when the request carries no audio.
	ErrEmptyAudio = errors.New("stt: empty audio")

	// ErrUnauthorized is returned (wrapped) when the service rejects the
	// credential. It lets callers tell configuration problems apart from
	// transport failures.
	ErrUnauthorized = errors.New("stt: credential rejected")
)

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe sends the request's audio to the backend and returns the
	// recognised text. ctx bounds the whole call including network I/O.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// ProviderFunc adapts a plain function to [Provider].
type ProviderFunc func(ctx context.Context, req Request) (Transcript, error)

// Transcribe implements [Provider].
func (f ProviderFunc) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	return f(ctx, req)
}
