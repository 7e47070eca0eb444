// Package energy provides a [vad.Engine] that classifies frames by their RMS
// loudness. A frame is speech when its RMS is strictly greater than the
// configured threshold and silence otherwise.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/speechblobs/pkg/audio"
	"github.com/MrWong99/speechblobs/pkg/provider/vad"
)

// DefaultThreshold is the RMS level used when Config.SpeechThreshold is zero.
const DefaultThreshold = 0.01

var errSessionClosed = errors.New("energy: session closed")

// Engine implements [vad.Engine]. The zero value is ready to use.
type Engine struct{}

// New returns an energy engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold >= 1 {
		return nil, fmt.Errorf("%w: speech threshold %v outside [0, 1)", vad.ErrInvalidConfig, cfg.SpeechThreshold)
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultThreshold
	}
	return &session{threshold: cfg.SpeechThreshold}, nil
}

type session struct {
	threshold float64

	mu     sync.Mutex
	closed bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return vad.VADEvent{}, errSessionClosed
	}
	if len(frame)%2 != 0 {
		return vad.VADEvent{}, fmt.Errorf("energy: odd frame length %d", len(frame))
	}
	level := audio.RMS16(frame)
	if level > s.threshold {
		return vad.VADEvent{Type: vad.VADSpeech, Level: level}, nil
	}
	return vad.VADEvent{Type: vad.VADSilence, Level: level}, nil
}

// Reset is a no-op: classification is per frame.
func (s *session) Reset() {}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.Engine = (*Engine)(nil)
