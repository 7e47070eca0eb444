// Package mock provides scripted VAD doubles for recorder tests.
//
// A [Session] replays a fixed list of classifications, one per frame, and
// then repeats EventResult. [Levels] builds such a script from raw loudness
// values so tests can reason in levels instead of event structs.
package mock

import (
	"sync"

	"github.com/MrWong99/speechblobs/pkg/provider/vad"
)

// Engine hands out Session, or a silent session when Session is nil.
type Engine struct {
	Session vad.SessionHandle
	Err     error

	mu      sync.Mutex
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Session == nil {
		return &Session{}, nil
	}
	return e.Session, nil
}

// Configs returns the config of every NewSession call so far.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session replays Script and then EventResult. When Err is set every frame
// fails with it.
type Session struct {
	Script      []vad.VADEvent
	EventResult vad.VADEvent
	Err         error

	mu     sync.Mutex
	frames int
	resets int
	closes int
}

var _ vad.SessionHandle = (*Session)(nil)

// Levels scripts one event per level, classified as speech when strictly
// above threshold.
func Levels(threshold float64, levels ...float64) *Session {
	s := &Session{Script: make([]vad.VADEvent, len(levels))}
	for i, l := range levels {
		ev := vad.VADEvent{Type: vad.VADSilence, Level: l}
		if l > threshold {
			ev.Type = vad.VADSpeech
		}
		s.Script[i] = ev
	}
	return s
}

func (s *Session) ProcessFrame([]byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.Err != nil {
		return vad.VADEvent{}, s.Err
	}
	if len(s.Script) == 0 {
		return s.EventResult, nil
	}
	ev := s.Script[0]
	s.Script = s.Script[1:]
	return ev, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

// Frames reports how many frames were classified.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Resets reports how many times Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}
