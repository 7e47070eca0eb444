package audio

import (
	"fmt"
	"sync"
	"time"
)

// TimedPlayer is a [Player] without an output device. Its handles track the
// playback position against the wall clock and fire the finished callback
// when the clip's duration has elapsed. It serves headless deployments where
// audio is played by a remote client and only the sequencing runs locally.
type TimedPlayer struct{}

// NewTimedPlayer returns a TimedPlayer.
func NewTimedPlayer() *TimedPlayer { return &TimedPlayer{} }

// Load implements [Player].
func (TimedPlayer) Load(wav []byte) (Handle, error) {
	pcm, format, err := DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("audio: timed player: %w", err)
	}
	frame := AudioFrame{Data: pcm, SampleRate: format.SampleRate, Channels: format.Channels}
	return &timedHandle{length: frame.Duration()}, nil
}

type timedHandle struct {
	length time.Duration

	mu       sync.Mutex
	pos      time.Duration
	started  time.Time
	timer    *time.Timer
	finished func()
	gen      int
}

func (h *timedHandle) SeekToStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = 0
	if h.timer != nil {
		h.started = time.Now()
		h.arm()
	}
}

func (h *timedHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		return nil
	}
	if h.pos >= h.length {
		h.pos = 0
	}
	h.started = time.Now()
	h.arm()
	return nil
}

// arm (re)starts the completion timer for the remaining duration. Callers
// hold h.mu.
func (h *timedHandle) arm() {
	if h.timer != nil {
		h.timer.Stop()
	}
	h.gen++
	gen := h.gen
	h.timer = time.AfterFunc(h.length-h.pos, func() { h.done(gen) })
}

func (h *timedHandle) done(gen int) {
	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	h.pos = h.length
	fn := h.finished
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *timedHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer == nil {
		return
	}
	h.timer.Stop()
	h.timer = nil
	h.gen++
	h.pos = min(h.pos+time.Since(h.started), h.length)
}

func (h *timedHandle) OnFinished(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = fn
}

func (h *timedHandle) ClearOnFinished() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = nil
}

func (h *timedHandle) Duration() time.Duration { return h.length }
