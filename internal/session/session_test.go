package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/speechblobs/internal/credential"
	"github.com/MrWong99/speechblobs/internal/document"
	"github.com/MrWong99/speechblobs/internal/notify"
	"github.com/MrWong99/speechblobs/internal/playback"
	"github.com/MrWong99/speechblobs/internal/recorder"
	"github.com/MrWong99/speechblobs/internal/session"
	"github.com/MrWong99/speechblobs/internal/transcribe"
	"github.com/MrWong99/speechblobs/pkg/audio"
	audiomock "github.com/MrWong99/speechblobs/pkg/audio/mock"
	"github.com/MrWong99/speechblobs/pkg/provider/stt"
	sttmock "github.com/MrWong99/speechblobs/pkg/provider/stt/mock"
	"github.com/MrWong99/speechblobs/pkg/provider/vad/energy"
)

const tick = 10 * time.Millisecond

var format = audio.Format{SampleRate: 16000, Channels: 1}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []document.Snapshot
	ids   []string
	err   error
}

func (a *fakeArchive) Save(_ context.Context, id string, snap document.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.ids = append(a.ids, id)
	a.saved = append(a.saved, snap)
	return nil
}

type fixture struct {
	s        *session.Session
	capture  *audiomock.Capture
	player   *audiomock.Player
	provider *sttmock.Provider
	creds    *credential.Store
	clock    *clock
	archive  *fakeArchive
}

func newFixture(t *testing.T, key string) *fixture {
	t.Helper()
	f := &fixture{
		capture:  &audiomock.Capture{},
		player:   &audiomock.Player{},
		provider: &sttmock.Provider{Result: stt.Transcript{Text: "hello"}},
		creds:    credential.NewStore(key),
		clock:    &clock{now: time.Unix(1_700_000_000, 0)},
		archive:  &fakeArchive{},
	}
	f.s = session.New(session.Deps{
		Capture:     f.capture,
		VAD:         energy.New(),
		Player:      f.player,
		STT:         f.provider,
		Credentials: f.creds,
		Recorder: recorder.Config{
			VolumeThreshold: 0.01,
			SilenceDuration: 25 * time.Millisecond,
			Format:          format,
			FrameSamples:    160,
		},
		RecorderOptions: []recorder.Option{recorder.WithClock(f.clock.Now)},
		Notifications:   notify.NewCenter(-1),
		Archive:         f.archive,
		DocumentID:      "test-doc",
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.s.Close(ctx)
	})
	return f
}

func frame(amplitude float32) audio.AudioFrame {
	samples := make([]float32, 160)
	for i := range samples {
		samples[i] = amplitude
	}
	return audio.AudioFrame{Data: audio.FloatToPCM16(samples), SampleRate: format.SampleRate, Channels: format.Channels}
}

// speak feeds one loud frame followed by enough silence to close the
// utterance.
func (f *fixture) speak() {
	for _, a := range []float32{0.02, 0, 0, 0, 0} {
		f.s.Recorder().Process(frame(a))
		f.clock.Advance(tick)
	}
}

func (f *fixture) notification(t *testing.T) string {
	t.Helper()
	n, ok := f.s.Notifications().Current()
	if !ok {
		return ""
	}
	return n.Message
}

// waitNotification polls until msg is visible.
func (f *fixture) waitNotification(t *testing.T, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.notification(t) == msg {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("notification = %q, want %q", f.notification(t), msg)
}

func waitResolved(t *testing.T, rec *document.Record) document.Transcription {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := rec.Wait(ctx)
	if err != nil {
		t.Fatalf("waiting for transcription: %v", err)
	}
	return tr
}

func TestSession_UtteranceBecomesTranscribedSegment(t *testing.T) {
	f := newFixture(t, "sk-key")
	if err := f.s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if got := f.notification(t); got != notify.MsgWaiting {
		t.Errorf("notification = %q, want %q", got, notify.MsgWaiting)
	}

	f.speak()

	if n := f.s.Store().Len(); n != 1 {
		t.Fatalf("document has %d segments, want 1", n)
	}
	rec, _ := f.s.Store().At(0)
	if len(f.player.Loaded) != 1 {
		t.Fatalf("player loaded %d clips, want 1", len(f.player.Loaded))
	}
	if _, _, err := audio.DecodeWAV(rec.WAV); err != nil {
		t.Errorf("record WAV does not decode: %v", err)
	}
	if rec.Audio != f.player.Handles[0] {
		t.Error("record audio is not the loaded handle")
	}

	if tr := waitResolved(t, rec); tr.Text != "hello" {
		t.Errorf("transcription = %+v, want hello", tr)
	}
	if got := f.provider.Calls[0].Req.Credential; got != "sk-key" {
		t.Errorf("request credential = %q", got)
	}
	if got := f.s.Text(); got != "hello" {
		t.Errorf("Text() = %q", got)
	}
}

func TestSession_InsertsAtCursor(t *testing.T) {
	f := newFixture(t, "sk-key")
	_ = f.s.StartRecording(context.Background())

	f.speak()
	f.speak()
	f.s.SetCursor(document.At(1))
	f.speak()

	view := f.s.Document()
	if len(view.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(view.Segments))
	}
	third := f.player.Handles[2]
	rec, _ := f.s.Store().At(1)
	if rec.Audio != third {
		t.Error("third utterance not inserted at the cursor")
	}
	if i, ok := view.Cursor.Index(); !ok || i != 2 {
		t.Errorf("cursor = %v, want 2", view.Cursor)
	}
}

func TestSession_MissingCredentialRefusesToRecord(t *testing.T) {
	f := newFixture(t, "")

	err := f.s.StartRecording(context.Background())
	if !errors.Is(err, transcribe.ErrMissingCredential) {
		t.Fatalf("StartRecording = %v, want ErrMissingCredential", err)
	}
	if len(f.capture.OpenCalls) != 0 {
		t.Error("capture opened without a credential")
	}
	if got := f.s.Recorder().State(); got != recorder.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if got := f.notification(t); got != notify.MsgMissingCredential {
		t.Errorf("notification = %q", got)
	}
	if f.s.Status().Credential {
		t.Error("Status reports a credential")
	}

	f.creds.Set("sk-key")
	if err := f.s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording after setting key: %v", err)
	}
}

func TestSession_CaptureFailure(t *testing.T) {
	f := newFixture(t, "sk-key")
	f.capture.OpenError = audio.ErrDeviceUnavailable

	err := f.s.StartRecording(context.Background())
	if !errors.Is(err, recorder.ErrCaptureAcquisition) {
		t.Fatalf("StartRecording = %v, want ErrCaptureAcquisition", err)
	}
	if got := f.notification(t); got != notify.MsgMicrophoneError {
		t.Errorf("notification = %q, want %q", got, notify.MsgMicrophoneError)
	}
	if got := f.s.Status().Recorder.State; got != recorder.StateError {
		t.Errorf("state = %v, want error", got)
	}
}

func TestSession_TranscriptionFailureNotifies(t *testing.T) {
	f := newFixture(t, "sk-key")
	f.provider.Err = errors.New("503")
	_ = f.s.StartRecording(context.Background())

	f.speak()
	rec, _ := f.s.Store().At(0)
	if tr := waitResolved(t, rec); tr.Status != document.StatusFailed {
		t.Fatalf("status = %v, want failed", tr.Status)
	}
	f.waitNotification(t, notify.MsgTranscriptionError)
}

func TestSession_PlaybackGatesRecorder(t *testing.T) {
	f := newFixture(t, "sk-key")
	_ = f.s.StartRecording(context.Background())
	f.speak()
	f.speak()

	if err := f.s.Play(0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := f.s.Recorder().State(); got != recorder.StatePaused {
		t.Fatalf("recorder state while playing = %v, want paused", got)
	}

	// Loud input during playback does not open an utterance.
	f.speak()
	if n := f.s.Store().Len(); n != 2 {
		t.Errorf("segments = %d, want 2", n)
	}

	// Playing through to the end re-arms the recorder.
	f.player.Handles[0].Finish()
	f.player.Handles[1].Finish()
	if f.s.Playing() {
		t.Fatal("still playing")
	}
	if got := f.s.Recorder().State(); got != recorder.StateArmed {
		t.Errorf("recorder state after playback = %v, want armed", got)
	}
}

func TestSession_ResumeStopsPlayback(t *testing.T) {
	f := newFixture(t, "sk-key")
	_ = f.s.StartRecording(context.Background())
	f.speak()
	f.s.Pause()

	_ = f.s.Play(0)
	f.s.Resume()

	if f.s.Playing() {
		t.Error("playback continued after Resume")
	}
	if got := f.s.Recorder().State(); got != recorder.StateArmed {
		t.Errorf("state = %v, want armed", got)
	}
}

func TestSession_RemoveStopsPlayback(t *testing.T) {
	f := newFixture(t, "sk-key")
	_ = f.s.StartRecording(context.Background())
	f.speak()
	f.speak()

	_ = f.s.Play(0)
	if _, ok := f.s.Remove(1); !ok {
		t.Fatal("Remove failed")
	}
	if f.s.Playing() {
		t.Error("playing after Remove")
	}
	if n := f.s.Store().Len(); n != 1 {
		t.Errorf("segments = %d, want 1", n)
	}
	if _, ok := f.s.Remove(5); ok {
		t.Error("Remove out of range succeeded")
	}
}

func TestSession_Toggle(t *testing.T) {
	f := newFixture(t, "sk-key")
	ctx := context.Background()

	steps := []recorder.State{recorder.StateArmed, recorder.StatePaused, recorder.StateArmed}
	for i, want := range steps {
		if err := f.s.Toggle(ctx); err != nil {
			t.Fatalf("Toggle %d: %v", i, err)
		}
		if got := f.s.Recorder().State(); got != want {
			t.Errorf("after toggle %d: state = %v, want %v", i, got, want)
		}
	}

	f.s.StopRecording()
	if got := f.s.Recorder().State(); got != recorder.StateIdle {
		t.Errorf("state after StopRecording = %v, want idle", got)
	}
}

func TestSession_Events(t *testing.T) {
	f := newFixture(t, "sk-key")

	var (
		mu    sync.Mutex
		kinds = map[session.EventKind]int{}
	)
	unsubscribe := f.s.Subscribe(func(ev session.Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds[ev.Kind]++
	})

	_ = f.s.StartRecording(context.Background())
	f.speak()
	rec, _ := f.s.Store().At(0)
	waitResolved(t, rec)
	_ = f.s.Play(0)
	f.s.StopPlayback()
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	for _, k := range []session.EventKind{
		session.EventRecorder, session.EventDocument, session.EventPlayback, session.EventNotification,
	} {
		if kinds[k] == 0 {
			t.Errorf("no %s events", k)
		}
	}
}

func TestSession_Save(t *testing.T) {
	f := newFixture(t, "sk-key")
	_ = f.s.StartRecording(context.Background())
	f.speak()

	if err := f.s.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(f.archive.saved) != 1 || f.archive.ids[0] != "test-doc" || f.archive.saved[0].Len() != 1 {
		t.Errorf("archive = %v %v", f.archive.ids, f.archive.saved)
	}

	f.archive.err = errors.New("disk full")
	if err := f.s.Save(context.Background()); err == nil {
		t.Error("Save with failing archive: expected error")
	}

	bare := session.New(session.Deps{
		Capture:     &audiomock.Capture{},
		VAD:         energy.New(),
		Player:      &audiomock.Player{},
		STT:         &sttmock.Provider{},
		Credentials: credential.Static("k"),
	})
	if err := bare.Save(context.Background()); !errors.Is(err, session.ErrNoArchive) {
		t.Errorf("Save without archive = %v, want ErrNoArchive", err)
	}
}

func TestSession_UnplayableUtteranceIsKept(t *testing.T) {
	f := newFixture(t, "sk-key")
	f.player.LoadError = errors.New("output device gone")
	if err := f.s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	f.speak()

	if n := f.s.Store().Len(); n != 1 {
		t.Fatalf("document has %d segments, want 1", n)
	}
	rec, _ := f.s.Store().At(0)
	if rec.Audio != nil {
		t.Error("unplayable record should carry no audio handle")
	}
	if got := f.notification(t); got != notify.MsgPlaybackError {
		t.Errorf("notification = %q, want %q", got, notify.MsgPlaybackError)
	}
	if tr := waitResolved(t, rec); tr.Text != "hello" {
		t.Errorf("transcription = %+v, want hello", tr)
	}
	if err := f.s.Play(0); !errors.Is(err, playback.ErrNoAudio) {
		t.Errorf("Play = %v, want ErrNoAudio", err)
	}

	// The next utterance goes through the normal status messages again.
	f.player.LoadError = nil
	f.speak()
	if got := f.notification(t); got != notify.MsgWaiting {
		t.Errorf("notification = %q, want %q", got, notify.MsgWaiting)
	}
	if n := f.s.Store().Len(); n != 2 {
		t.Errorf("document has %d segments, want 2", n)
	}
}
