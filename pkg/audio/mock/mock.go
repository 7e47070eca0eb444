// Package mock provides in-memory mock implementations of the [audio.Capture],
// [audio.Stream], [audio.Player] and [audio.Handle] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(audio.Format{SampleRate: 16000, Channels: 1})
//	capture := &mock.Capture{OpenResult: stream}
//	stream.Push(audio.AudioFrame{Data: pcm})
//	stream.Close()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/speechblobs/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream] fed by [Stream.Push].
type Stream struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	format audio.Format
	closed bool

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns an open stream with a generously buffered frame channel.
func NewStream(format audio.Format) *Stream {
	return &Stream{frames: make(chan audio.AudioFrame, 256), format: format}
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Push delivers a frame. Frames pushed after Close are dropped.
func (s *Stream) Push(frame audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- frame
}

// Close implements [audio.Stream]. Closes the frame channel on the first call.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return s.CloseError
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Capture.Open] invocation.
type OpenCall struct {
	Format       audio.Format
	FrameSamples int
}

// Capture is a mock implementation of [audio.Capture].
type Capture struct {
	mu sync.Mutex

	// OpenResult is returned by Open. When nil and OpenError is nil, a fresh
	// [Stream] in the requested format is created and remembered in Streams.
	OpenResult audio.Stream

	// OpenError is returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	// Streams holds the streams created by Open when OpenResult is nil.
	Streams []*Stream
}

// Open implements [audio.Capture].
func (c *Capture) Open(_ context.Context, format audio.Format, frameSamples int) (audio.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenCalls = append(c.OpenCalls, OpenCall{Format: format, FrameSamples: frameSamples})
	if c.OpenError != nil {
		return nil, c.OpenError
	}
	if c.OpenResult != nil {
		return c.OpenResult, nil
	}
	s := NewStream(format)
	c.Streams = append(c.Streams, s)
	return s, nil
}

// LastStream returns the most recent stream created by Open, or nil.
func (c *Capture) LastStream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Streams) == 0 {
		return nil
	}
	return c.Streams[len(c.Streams)-1]
}

// ─── Handle ───────────────────────────────────────────────────────────────────

// Handle is a mock implementation of [audio.Handle]. Tests drive completion
// with [Handle.Finish].
type Handle struct {
	mu       sync.Mutex
	finished func()
	playing  bool

	// PlayError is returned by Play.
	PlayError error

	// Length is returned by Duration.
	Length time.Duration

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// CallCountPause records how many times Pause was called.
	CallCountPause int

	// CallCountSeek records how many times SeekToStart was called.
	CallCountSeek int
}

// SeekToStart implements [audio.Handle].
func (h *Handle) SeekToStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountSeek++
}

// Play implements [audio.Handle].
func (h *Handle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountPlay++
	if h.PlayError != nil {
		return h.PlayError
	}
	h.playing = true
	return nil
}

// Pause implements [audio.Handle].
func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountPause++
	h.playing = false
}

// OnFinished implements [audio.Handle].
func (h *Handle) OnFinished(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = fn
}

// ClearOnFinished implements [audio.Handle].
func (h *Handle) ClearOnFinished() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = nil
}

// Duration implements [audio.Handle].
func (h *Handle) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Length
}

// Playing reports whether the handle is between Play and Pause/Finish.
func (h *Handle) Playing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

// HasCallback reports whether a completion callback is attached.
func (h *Handle) HasCallback() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished != nil
}

// Finish simulates the clip reaching its end: playback stops and the attached
// callback, if any, runs synchronously on the caller's goroutine.
func (h *Handle) Finish() {
	h.mu.Lock()
	h.playing = false
	fn := h.finished
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// LoadError is returned by Load.
	LoadError error

	// Loaded holds each WAV passed to Load, in call order.
	Loaded [][]byte

	// Handles holds the handles returned by Load, in call order.
	Handles []*Handle
}

// Load implements [audio.Player]. Returns a fresh [Handle] per call.
func (p *Player) Load(wav []byte) (audio.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Loaded = append(p.Loaded, wav)
	if p.LoadError != nil {
		return nil, p.LoadError
	}
	h := &Handle{}
	p.Handles = append(p.Handles, h)
	return h, nil
}

// Compile-time interface assertions.
var (
	_ audio.Capture = (*Capture)(nil)
	_ audio.Stream  = (*Stream)(nil)
	_ audio.Handle  = (*Handle)(nil)
	_ audio.Player  = (*Player)(nil)
)
