package mock

import (
	"errors"
	"testing"

	"github.com/MrWong99/speechblobs/pkg/provider/vad"
)

func TestLevels_StrictThreshold(t *testing.T) {
	s := Levels(0.1, 0.05, 0.1, 0.11)
	s.EventResult = vad.VADEvent{Type: vad.VADSilence}

	want := []vad.VADEventType{vad.VADSilence, vad.VADSilence, vad.VADSpeech, vad.VADSilence}
	for i, w := range want {
		ev, err := s.ProcessFrame(nil)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if ev.Type != w {
			t.Errorf("frame %d = %v, want %v", i, ev.Type, w)
		}
	}
	if s.Frames() != len(want) {
		t.Errorf("Frames() = %d, want %d", s.Frames(), len(want))
	}
}

func TestEngine_RecordsConfigs(t *testing.T) {
	sess := &Session{}
	e := &Engine{Session: sess}
	h, err := e.NewSession(vad.Config{SampleRate: 16000, Channels: 1, SpeechThreshold: 0.02})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h.Reset()
	_ = h.Close()

	if got := e.Configs(); len(got) != 1 || got[0].SpeechThreshold != 0.02 {
		t.Errorf("Configs() = %+v", got)
	}
	if sess.Resets() != 1 || !sess.Closed() {
		t.Errorf("resets=%d closed=%v", sess.Resets(), sess.Closed())
	}

	e.Err = vad.ErrInvalidConfig
	if _, err := e.NewSession(vad.Config{}); !errors.Is(err, vad.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}
