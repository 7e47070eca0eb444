// Package recorder turns a live capture stream into discrete utterances.
//
// Each frame is classified as speech or silence by a [vad.Engine]. A loud
// frame opens an utterance; the utterance closes once the input has stayed
// at or below the threshold for longer than the configured silence duration,
// measured from the first quiet frame. Everything captured from the opening
// frame up to (not including) the closing frame is emitted as one
// [Utterance].
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/speechblobs/pkg/audio"
	"github.com/MrWong99/speechblobs/pkg/provider/vad"
)

// ErrCaptureAcquisition is returned (wrapped) by [Recorder.Start] when the
// capture device cannot be acquired. The recorder is left in [StateError]
// and does not retry on its own.
var ErrCaptureAcquisition = errors.New("recorder: audio capture unavailable")

// Defaults applied by [New] to zero-valued Config fields.
const (
	DefaultVolumeThreshold = 0.01
	DefaultSilenceDuration = 1500 * time.Millisecond
	DefaultSampleRate      = 16000
	DefaultFrameSamples    = 512
)

// Config holds the segmentation parameters.
type Config struct {
	// VolumeThreshold is the RMS level a frame must exceed to count as
	// speech.
	VolumeThreshold float64

	// SilenceDuration is how long the input must stay quiet before an open
	// utterance closes.
	SilenceDuration time.Duration

	// Format is the format utterances are buffered and emitted in.
	Format audio.Format

	// FrameSamples is the requested capture block size per channel.
	FrameSamples int
}

func (c Config) withDefaults() Config {
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = DefaultVolumeThreshold
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = DefaultSilenceDuration
	}
	if c.Format.SampleRate <= 0 {
		c.Format.SampleRate = DefaultSampleRate
	}
	if c.Format.Channels <= 0 {
		c.Format.Channels = 1
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = DefaultFrameSamples
	}
	return c
}

// Utterance is one closed span of speech.
type Utterance struct {
	// PCM is little-endian int16 audio in Format.
	PCM    []byte
	Format audio.Format

	// Start and End are capture timestamps of the first frame and of the
	// end of the last frame.
	Start time.Duration
	End   time.Duration

	// Frames is the number of capture frames in the utterance.
	Frames int
}

// Duration returns the length of the audio.
func (u Utterance) Duration() time.Duration {
	return audio.AudioFrame{Data: u.PCM, SampleRate: u.Format.SampleRate, Channels: u.Format.Channels}.Duration()
}

// Status is a point-in-time view of the recorder.
type Status struct {
	State          State              `json:"state"`
	UserPaused     bool               `json:"user_paused"`
	PlaybackActive bool               `json:"playback_active"`
	Level          audio.VolumeSample `json:"level"`
	Err            string             `json:"error,omitempty"`
}

// Option is a functional option for [New].
type Option func(*Recorder)

// WithClock replaces time.Now for silence timing.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithOnUtterance sets the callback receiving closed utterances. It runs on
// the capture goroutine; frames queue up while it executes.
func WithOnUtterance(fn func(Utterance)) Option {
	return func(r *Recorder) { r.onUtterance = fn }
}

// WithOnStateChange sets the callback invoked after each state transition.
func WithOnStateChange(fn func(from, to State)) Option {
	return func(r *Recorder) { r.onState = fn }
}

// Recorder owns the capture device while active and runs the segmentation
// state machine. All methods are safe for concurrent use.
type Recorder struct {
	cfg     Config
	capture audio.Capture
	engine  vad.Engine

	now         func() time.Time
	onUtterance func(Utterance)
	onState     func(from, to State)

	// opMu serialises Start and Stop.
	opMu sync.Mutex
	wg   sync.WaitGroup

	mu             sync.Mutex
	state          State
	epoch          uint64
	userPaused     bool
	playbackActive bool
	stream         audio.Stream
	session        vad.SessionHandle
	normalizer     *audio.Normalizer
	level          audio.VolumeSample
	lastErr        error

	buf          []byte
	frames       int
	start, end   time.Duration
	silenceSet   bool
	silenceStart time.Time
}

// New returns an idle recorder.
func New(capture audio.Capture, engine vad.Engine, cfg Config, opts ...Option) *Recorder {
	r := &Recorder{
		cfg:     cfg.withDefaults(),
		capture: capture,
		engine:  engine,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Recorder) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Reconfigure replaces threshold and silence duration. Both apply to the
// next frame: while capture is active the VAD session is rebuilt with the
// new threshold. The open utterance, if any, is kept.
func (r *Recorder) Reconfigure(threshold float64, silence time.Duration) {
	r.mu.Lock()
	prev := r.cfg.VolumeThreshold
	r.cfg.VolumeThreshold = threshold
	r.cfg.SilenceDuration = silence
	r.cfg = r.cfg.withDefaults()
	cfg := r.cfg

	var stale vad.SessionHandle
	if r.session != nil && cfg.VolumeThreshold != prev {
		sess, err := r.engine.NewSession(vad.Config{
			SampleRate:      cfg.Format.SampleRate,
			Channels:        cfg.Format.Channels,
			SpeechThreshold: cfg.VolumeThreshold,
		})
		if err != nil {
			r.cfg.VolumeThreshold = prev
			r.mu.Unlock()
			slog.Warn("recorder: keeping previous threshold", "threshold", prev, "err", err)
			return
		}
		stale, r.session = r.session, sess
	}
	r.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns the current state, gate inputs and input level.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		State:          r.state,
		UserPaused:     r.userPaused,
		PlaybackActive: r.playbackActive,
		Level:          r.level,
	}
	if r.state == StateError && r.lastErr != nil {
		st.Err = r.lastErr.Error()
	}
	return st
}

// Start acquires the capture device and arms the recorder. It is a no-op
// when capture is already active. From [StateError] it acts as a manual
// retry. On failure the recorder enters [StateError] and the returned error
// wraps [ErrCaptureAcquisition].
func (r *Recorder) Start(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.state.Active() {
		r.mu.Unlock()
		return nil
	}
	cfg := r.cfg
	r.mu.Unlock()

	sess, err := r.engine.NewSession(vad.Config{
		SampleRate:      cfg.Format.SampleRate,
		Channels:        cfg.Format.Channels,
		SpeechThreshold: cfg.VolumeThreshold,
	})
	if err != nil {
		r.fail(fmt.Errorf("recorder: create vad session: %w", err))
		return fmt.Errorf("recorder: create vad session: %w", err)
	}

	stream, err := r.capture.Open(ctx, cfg.Format, cfg.FrameSamples)
	if err != nil {
		_ = sess.Close()
		err = fmt.Errorf("%w: %w", ErrCaptureAcquisition, err)
		r.fail(err)
		return err
	}

	r.mu.Lock()
	from := r.state
	r.epoch++
	epoch := r.epoch
	r.stream = stream
	r.session = sess
	r.normalizer = &audio.Normalizer{Target: cfg.Format}
	r.lastErr = nil
	r.resetUtterance()
	r.state = r.restingState()
	to := r.state
	r.mu.Unlock()

	slog.Info("recorder started",
		"format", cfg.Format.String(),
		"threshold", cfg.VolumeThreshold,
		"silence", cfg.SilenceDuration,
	)
	r.emitState(from, to)

	r.wg.Add(1)
	go r.loop(epoch, stream)
	return nil
}

// Stop releases the capture device and discards any open utterance. It is
// safe to call in any state.
func (r *Recorder) Stop() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	from := r.state
	r.epoch++
	stream, sess := r.stream, r.session
	r.stream, r.session = nil, nil
	if r.frames > 0 {
		slog.Debug("recorder: discarding open utterance", "frames", r.frames)
	}
	r.resetUtterance()
	r.state = StateIdle
	r.mu.Unlock()

	release(stream, sess)
	if from != StateIdle {
		slog.Info("recorder stopped")
	}
	r.emitState(from, StateIdle)
}

// Close stops the recorder and waits for the capture goroutine to exit.
func (r *Recorder) Close(ctx context.Context) error {
	r.Stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("recorder: close: %w", ctx.Err())
	}
}

// Pause suppresses new utterances. An utterance already open keeps
// recording until silence closes it.
func (r *Recorder) Pause() { r.setGate(func() { r.userPaused = true }) }

// Resume lifts a user pause.
func (r *Recorder) Resume() { r.setGate(func() { r.userPaused = false }) }

// UserPaused reports whether the user pause is set.
func (r *Recorder) UserPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userPaused
}

// SetPlaybackActive gates the recorder while segments are being played back.
func (r *Recorder) SetPlaybackActive(active bool) {
	r.setGate(func() { r.playbackActive = active })
}

func (r *Recorder) setGate(mutate func()) {
	r.mu.Lock()
	mutate()
	from := r.state
	switch r.state {
	case StateArmed, StatePaused:
		r.state = r.restingState()
	}
	to := r.state
	r.mu.Unlock()
	r.emitState(from, to)
}

// restingState is Armed or Paused depending on the gate. Callers hold r.mu.
func (r *Recorder) restingState() State {
	if r.userPaused || r.playbackActive {
		return StatePaused
	}
	return StateArmed
}

// Process feeds one frame through the state machine as if it had arrived
// from the capture stream. Frames are ignored unless capture is active.
func (r *Recorder) Process(frame audio.AudioFrame) {
	r.mu.Lock()
	epoch := r.epoch
	r.mu.Unlock()
	r.process(epoch, frame)
}

func (r *Recorder) loop(epoch uint64, stream audio.Stream) {
	defer r.wg.Done()
	for frame := range stream.Frames() {
		r.process(epoch, frame)
	}
	r.streamEnded(epoch)
}

func (r *Recorder) process(epoch uint64, frame audio.AudioFrame) {
	r.mu.Lock()
	if epoch != r.epoch || !r.state.Active() {
		r.mu.Unlock()
		return
	}
	frame = r.normalizer.Normalize(frame)
	if len(frame.Data) == 0 {
		r.mu.Unlock()
		return
	}

	ev, err := r.session.ProcessFrame(frame.Data)
	if err != nil {
		r.mu.Unlock()
		slog.Warn("recorder: vad rejected frame", "err", err)
		return
	}
	r.level = audio.Sample(frame)

	from := r.state
	var closed *Utterance
	switch r.state {
	case StateArmed:
		if ev.IsSpeech() {
			r.resetUtterance()
			r.appendFrame(frame)
			r.state = StateRecording
		}
	case StateRecording:
		now := r.now()
		switch {
		case ev.IsSpeech():
			r.silenceSet = false
			r.appendFrame(frame)
		case !r.silenceSet:
			r.silenceSet = true
			r.silenceStart = now
			r.appendFrame(frame)
		case now.Sub(r.silenceStart) > r.cfg.SilenceDuration:
			u := r.takeUtterance()
			closed = &u
			r.state = r.restingState()
		default:
			r.appendFrame(frame)
		}
	}
	to := r.state
	r.mu.Unlock()

	if closed != nil {
		slog.Debug("recorder: utterance closed", "frames", closed.Frames, "duration", closed.Duration())
		if r.onUtterance != nil {
			r.onUtterance(*closed)
		}
	}
	r.emitState(from, to)
}

// streamEnded handles a capture stream closing while the recorder still
// expected frames from it.
func (r *Recorder) streamEnded(epoch uint64) {
	r.mu.Lock()
	if epoch != r.epoch {
		r.mu.Unlock()
		return
	}
	r.epoch++
	from := r.state
	stream, sess := r.stream, r.session
	r.stream, r.session = nil, nil
	r.resetUtterance()
	r.lastErr = fmt.Errorf("%w: capture stream ended", ErrCaptureAcquisition)
	r.state = StateError
	r.mu.Unlock()

	slog.Error("recorder: capture stream ended unexpectedly")
	release(stream, sess)
	r.emitState(from, StateError)
}

func (r *Recorder) fail(err error) {
	r.mu.Lock()
	from := r.state
	r.lastErr = err
	r.state = StateError
	r.mu.Unlock()
	slog.Error("recorder: start failed", "err", err)
	r.emitState(from, StateError)
}

// appendFrame adds frame to the open utterance. Callers hold r.mu.
func (r *Recorder) appendFrame(frame audio.AudioFrame) {
	if r.frames == 0 {
		r.start = frame.Timestamp
	}
	r.buf = append(r.buf, frame.Data...)
	r.frames++
	r.end = frame.Timestamp + frame.Duration()
}

// takeUtterance returns the open utterance and clears the buffer. Callers
// hold r.mu.
func (r *Recorder) takeUtterance() Utterance {
	u := Utterance{
		PCM:    r.buf,
		Format: r.cfg.Format,
		Start:  r.start,
		End:    r.end,
		Frames: r.frames,
	}
	r.resetUtterance()
	return u
}

// resetUtterance drops buffered audio and the silence timer. Callers hold
// r.mu.
func (r *Recorder) resetUtterance() {
	r.buf = nil
	r.frames = 0
	r.start, r.end = 0, 0
	r.silenceSet = false
	r.silenceStart = time.Time{}
}

func (r *Recorder) emitState(from, to State) {
	if from == to || r.onState == nil {
		return
	}
	r.onState(from, to)
}

func release(stream audio.Stream, sess vad.SessionHandle) {
	if stream != nil {
		if err := stream.Close(); err != nil {
			slog.Warn("recorder: close capture stream", "err", err)
		}
	}
	if sess != nil {
		_ = sess.Close()
	}
}
