// Package malgo provides an [audio.Capture] backed by miniaudio through the
// github.com/gen2brain/malgo bindings. It needs cgo and a working audio
// backend (ALSA/PulseAudio, CoreAudio or WASAPI) at runtime.
package malgo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/speechblobs/pkg/audio"
)

// frameBuffer is the number of frames buffered between the device callback
// and the consumer before frames are dropped.
const frameBuffer = 64

// Option is a functional option for Capture.
type Option func(*Capture)

// WithDevice selects the input device whose name contains name
// (case-insensitive). Empty selects the system default.
func WithDevice(name string) Option {
	return func(c *Capture) {
		c.device = name
	}
}

// Capture implements [audio.Capture] with miniaudio.
type Capture struct {
	device string
}

// New returns a miniaudio capture adapter.
func New(opts ...Option) *Capture {
	c := &Capture{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open implements [audio.Capture]. Any failure to initialise the context or
// device is reported wrapped in [audio.ErrDeviceUnavailable].
func (c *Capture) Open(ctx context.Context, format audio.Format, frameSamples int) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("malgo: open: %w", err)
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: malgo: init context: %w", audio.ErrDeviceUnavailable, err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	if frameSamples > 0 {
		cfg.PeriodSizeInFrames = uint32(frameSamples)
	}
	if c.device != "" {
		id, err := findDevice(mctx, c.device)
		if err != nil {
			freeContext(mctx)
			return nil, err
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	s := &stream{
		ctx:    mctx,
		format: format,
		frames: make(chan audio.AudioFrame, frameBuffer),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			s.deliver(input, frameCount)
		},
		Stop: func() {
			slog.Debug("malgo: capture device stopped")
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("%w: malgo: init device: %w", audio.ErrDeviceUnavailable, err)
	}
	s.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return nil, fmt.Errorf("%w: malgo: start device: %w", audio.ErrDeviceUnavailable, err)
	}

	slog.Info("malgo: capture started", "format", format.String(), "device", c.device)
	return s, nil
}

func findDevice(mctx *malgo.AllocatedContext, name string) (*malgo.DeviceID, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("%w: malgo: list devices: %w", audio.ErrDeviceUnavailable, err)
	}
	want := strings.ToLower(name)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), want) {
			return &infos[i].ID, nil
		}
	}
	return nil, fmt.Errorf("%w: malgo: no capture device matching %q", audio.ErrDeviceUnavailable, name)
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

type stream struct {
	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	format audio.Format
	frames chan audio.AudioFrame

	mu      sync.Mutex
	closed  bool
	elapsed time.Duration
	dropped int
}

// deliver runs on the miniaudio callback thread; it must not block.
func (s *stream) deliver(input []byte, frameCount uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	data := make([]byte, len(input))
	copy(data, input)
	frame := audio.AudioFrame{
		Data:       data,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  s.elapsed,
	}
	if s.format.SampleRate > 0 {
		s.elapsed += time.Duration(frameCount) * time.Second / time.Duration(s.format.SampleRate)
	}
	select {
	case s.frames <- frame:
	default:
		s.dropped++
		if s.dropped == 1 || s.dropped%100 == 0 {
			slog.Warn("malgo: consumer too slow, dropping frames", "dropped", s.dropped)
		}
	}
}

func (s *stream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *stream) Format() audio.Format { return s.format }

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.dev != nil {
		err = s.dev.Stop()
		s.dev.Uninit()
	}
	freeContext(s.ctx)

	s.mu.Lock()
	close(s.frames)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("malgo: stop device: %w", err)
	}
	return nil
}

var _ audio.Capture = (*Capture)(nil)
