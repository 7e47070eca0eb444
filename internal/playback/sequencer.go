// Package playback plays document segments back in order.
//
// The sequencer plays one segment at a time. When a segment finishes it
// looks at the document cursor again: if the cursor still points at the
// segment that just ended, it advances and plays the next one; if anything
// moved the cursor in the meantime, playback ends there.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/speechblobs/internal/document"
	"github.com/MrWong99/speechblobs/internal/observe"
	"github.com/MrWong99/speechblobs/pkg/audio"
)

// ErrOutOfRange is returned by [Sequencer.Play] for an index past the end.
// Playback is stopped and nothing else changes.
var ErrOutOfRange = errors.New("playback: index out of range")

// ErrNoAudio is returned when the addressed segment has no playable audio,
// for example because the output device rejected it.
var ErrNoAudio = errors.New("playback: segment has no audio")

// Option is a functional option for [New].
type Option func(*Sequencer)

// WithOnPlayingChange registers a callback for transitions of the playing
// flag. It is called outside the sequencer's lock.
func WithOnPlayingChange(fn func(playing bool)) Option {
	return func(s *Sequencer) { s.onPlaying = fn }
}

// WithMetrics counts playback starts into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// Sequencer drives ordered playback over a [document.Store].
type Sequencer struct {
	store     *document.Store
	onPlaying func(bool)
	metrics   *observe.Metrics

	mu      sync.Mutex
	playing bool
	gen     uint64
	current audio.Handle
	id      string
}

// New returns a stopped sequencer.
func New(store *document.Store, opts ...Option) *Sequencer {
	s := &Sequencer{store: store, metrics: observe.DefaultMetrics()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Playing reports whether a segment is playing.
func (s *Sequencer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Current returns the ID of the segment playing now.
func (s *Sequencer) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.playing
}

// Play stops whatever is playing and starts the segment at index, moving the
// cursor there. An index past the end only stops playback.
func (s *Sequencer) Play(index int) error {
	s.mu.Lock()
	was := s.playing
	err := s.playLocked(index)
	now := s.playing
	s.mu.Unlock()

	s.emit(was, now)
	return err
}

// Stop ends playback and detaches every segment's completion callback. It is
// idempotent.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	was := s.playing
	s.stopLocked()
	s.mu.Unlock()

	s.emit(was, false)
}

// playLocked implements Play. Callers hold s.mu.
func (s *Sequencer) playLocked(index int) error {
	s.stopLocked()

	snap := s.store.Snapshot()
	if index < 0 || index >= snap.Len() {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, index, snap.Len())
	}
	rec := snap.Records[index]
	if rec.Audio == nil {
		return fmt.Errorf("%w: %s", ErrNoAudio, rec.ID)
	}

	s.playing = true
	s.gen++
	gen := s.gen
	s.current = rec.Audio
	s.id = rec.ID
	s.store.SetCursor(document.At(index))

	rec.Audio.SeekToStart()
	rec.Audio.OnFinished(func() { s.finished(gen, index) })
	if err := rec.Audio.Play(); err != nil {
		slog.Warn("playback: start failed", "record", rec.ID, "index", index, "err", err)
		s.stopLocked()
		return fmt.Errorf("playback: play segment %d: %w", index, err)
	}

	s.metrics.PlaybackStarts.Add(context.Background(), 1)
	slog.Debug("playback: segment started", "record", rec.ID, "index", index)
	return nil
}

// stopLocked clears the playing flag, detaches every completion callback and
// pauses every handle. Callers hold s.mu.
func (s *Sequencer) stopLocked() {
	s.playing = false
	s.gen++
	if s.current != nil {
		s.current.ClearOnFinished()
		s.current.Pause()
		s.current = nil
	}
	s.id = ""
	for _, rec := range s.store.Snapshot().Records {
		if rec.Audio == nil {
			continue
		}
		rec.Audio.ClearOnFinished()
		rec.Audio.Pause()
	}
}

// finished runs when the segment started at index reaches its end.
func (s *Sequencer) finished(gen uint64, index int) {
	s.mu.Lock()
	if !s.playing || gen != s.gen {
		s.mu.Unlock()
		return
	}
	was := s.playing

	advance := false
	s.store.UpdateCursor(func(snap document.Snapshot) document.Cursor {
		if snap.Cursor.Is(index) {
			advance = true
			return document.At(index + 1)
		}
		return snap.Cursor
	})

	if advance {
		if err := s.playLocked(index + 1); err != nil && !errors.Is(err, ErrOutOfRange) {
			slog.Warn("playback: advance failed", "index", index+1, "err", err)
		}
	} else {
		slog.Debug("playback: cursor moved during playback, not advancing", "index", index)
		s.stopLocked()
	}
	now := s.playing
	s.mu.Unlock()

	s.emit(was, now)
}

func (s *Sequencer) emit(was, now bool) {
	if was == now || s.onPlaying == nil {
		return
	}
	s.onPlaying(now)
}
