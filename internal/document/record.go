package document

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/speechblobs/pkg/audio"
)

// Status is the transcription state of a record.
type Status int

const (
	// StatusPending means the transcription has been submitted and not yet
	// resolved.
	StatusPending Status = iota

	// StatusResolved means Text holds the transcription.
	StatusResolved

	// StatusFailed means the transcription failed; Reason says why.
	StatusFailed
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatusPending
	case "resolved":
		*s = StatusResolved
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("document: unknown status %q", text)
	}
	return nil
}

// Transcription is the outcome attached to a record.
type Transcription struct {
	Status Status
	Text   string
	Reason string
}

// Resolved returns a successful transcription.
func Resolved(text string) Transcription {
	return Transcription{Status: StatusResolved, Text: text}
}

// Failed returns a failed transcription.
func Failed(reason string) Transcription {
	return Transcription{Status: StatusFailed, Reason: reason}
}

// Record is one utterance in the document: its encoded audio, a playable
// handle and the transcription, which starts pending and is resolved exactly
// once.
type Record struct {
	// ID uniquely identifies the record for its whole life.
	ID string

	// WAV is the encoded utterance. It is never modified.
	WAV []byte

	// Audio plays the utterance.
	Audio audio.Handle

	// Duration is the utterance length.
	Duration time.Duration

	// CreatedAt is when the utterance closed.
	CreatedAt time.Time

	mu   sync.Mutex
	tr   Transcription
	done chan struct{}
}

// NewRecord returns a pending record with a fresh random ID.
func NewRecord(wav []byte, handle audio.Handle, duration time.Duration) *Record {
	return &Record{
		ID:        uuid.NewString(),
		WAV:       wav,
		Audio:     handle,
		Duration:  duration,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Transcription returns the current transcription state.
func (r *Record) Transcription() Transcription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tr
}

// Wait blocks until the record is resolved or failed, or ctx ends.
func (r *Record) Wait(ctx context.Context) (Transcription, error) {
	select {
	case <-r.done:
		return r.Transcription(), nil
	case <-ctx.Done():
		return Transcription{}, ctx.Err()
	}
}

// settle records the outcome. Only the first call has an effect.
func (r *Record) settle(tr Transcription) bool {
	if tr.Status == StatusPending {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tr.Status != StatusPending {
		return false
	}
	r.tr = tr
	close(r.done)
	return true
}
