// Package beep provides an [audio.Player] that plays clips on the local
// output device through github.com/faiface/beep. The speaker is initialised
// once per process; every loaded clip is decoded into memory so that seeking
// back to the start is free.
package beep

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"github.com/MrWong99/speechblobs/pkg/audio"
)

// resampleQuality is passed to beep.Resample when a clip's rate differs from
// the speaker's.
const resampleQuality = 4

var (
	initOnce sync.Once
	initErr  error
	initRate beep.SampleRate
)

// Player implements [audio.Player] on the process-wide speaker.
type Player struct {
	rate beep.SampleRate
}

// New initialises the speaker at sampleRate with the given buffer duration and
// returns a Player. Subsequent calls reuse the first initialisation.
func New(sampleRate int, buffer time.Duration) (*Player, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("beep: invalid sample rate %d", sampleRate)
	}
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}
	initOnce.Do(func() {
		initRate = beep.SampleRate(sampleRate)
		initErr = speaker.Init(initRate, initRate.N(buffer))
	})
	if initErr != nil {
		return nil, fmt.Errorf("beep: init speaker: %w", initErr)
	}
	return &Player{rate: initRate}, nil
}

// Load implements [audio.Player].
func (p *Player) Load(data []byte) (audio.Handle, error) {
	stream, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("beep: decode wav: %w", err)
	}
	defer stream.Close()

	buf := beep.NewBuffer(format)
	buf.Append(stream)

	return &handle{
		rate:   p.rate,
		format: format,
		seeker: buf.Streamer(0, buf.Len()),
		length: format.SampleRate.D(buf.Len()),
	}, nil
}

type handle struct {
	rate   beep.SampleRate
	format beep.Format
	seeker beep.StreamSeeker
	length time.Duration

	mu       sync.Mutex
	cur      *voice
	finished func()
	gen      int
}

func (h *handle) SeekToStart() {
	speaker.Lock()
	defer speaker.Unlock()
	_ = h.seeker.Seek(0)
}

// Play starts a new voice from the current position. Pause leaves the
// position where it was, so this also resumes.
func (h *handle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur != nil {
		return nil
	}

	var s beep.Streamer = h.seeker
	if h.format.SampleRate != h.rate {
		s = beep.Resample(resampleQuality, h.format.SampleRate, h.rate, s)
	}
	h.gen++
	gen := h.gen
	// end runs with the speaker locked; hand off before calling out.
	h.cur = newVoice(s, func() { go h.done(gen) })
	speaker.Play(h.cur)
	return nil
}

func (h *handle) done(gen int) {
	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.cur = nil
	fn := h.finished
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Pause detaches the voice so the mixer drops it on its next pass.
func (h *handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == nil {
		return
	}
	speaker.Lock()
	h.cur.detach()
	speaker.Unlock()
	h.cur = nil
	h.gen++
}

func (h *handle) OnFinished(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = fn
}

func (h *handle) ClearOnFinished() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = nil
}

func (h *handle) Duration() time.Duration { return h.length }

// voice feeds one playback of a clip into the speaker mixer. A detached
// voice reports itself drained without touching the clip, which removes it
// from the mixer and leaves the clip's position intact.
type voice struct {
	s        beep.Streamer
	end      func()
	detached bool
	ended    bool
}

func newVoice(s beep.Streamer, end func()) *voice {
	return &voice{s: s, end: end}
}

// detach must be called with the speaker locked.
func (v *voice) detach() { v.detached = true }

func (v *voice) Stream(samples [][2]float64) (int, bool) {
	if v.detached || v.ended {
		return 0, false
	}
	n, ok := v.s.Stream(samples)
	if !ok {
		v.ended = true
		if v.end != nil {
			v.end()
		}
	}
	return n, ok
}

func (v *voice) Err() error { return v.s.Err() }

var _ audio.Player = (*Player)(nil)
