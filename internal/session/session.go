// Package session is the control surface of one dictation document. It owns
// the recorder, the document store, the transcription pipeline and the
// playback sequencer, and wires them together:
//
//   - every utterance the recorder closes becomes a record inserted at the
//     cursor and submitted for transcription;
//   - playback gates the recorder, and resuming recording stops playback;
//   - state changes surface as transient notifications and as [Event]s for
//     subscribers such as the web UI.
//
// All exported methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/speechblobs/internal/credential"
	"github.com/MrWong99/speechblobs/internal/document"
	"github.com/MrWong99/speechblobs/internal/notify"
	"github.com/MrWong99/speechblobs/internal/observe"
	"github.com/MrWong99/speechblobs/internal/playback"
	"github.com/MrWong99/speechblobs/internal/recorder"
	"github.com/MrWong99/speechblobs/internal/transcribe"
	"github.com/MrWong99/speechblobs/pkg/audio"
	"github.com/MrWong99/speechblobs/pkg/provider/stt"
	"github.com/MrWong99/speechblobs/pkg/provider/vad"
)

// ErrNoArchive is returned by [Session.Save] when no archive is configured.
var ErrNoArchive = errors.New("session: no archive configured")

// Archive persists document snapshots.
type Archive interface {
	Save(ctx context.Context, documentID string, snap document.Snapshot) error
}

// Deps holds everything a session is built from.
type Deps struct {
	Capture     audio.Capture
	VAD         vad.Engine
	Player      audio.Player
	STT         stt.Provider
	Credentials credential.Source

	Recorder      recorder.Config
	Transcription transcribe.Config

	// RecorderOptions are applied before the session's own callbacks.
	RecorderOptions []recorder.Option

	// Notifications defaults to a center with the default TTL.
	Notifications *notify.Center

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Archive is optional.
	Archive    Archive
	DocumentID string
}

// Session is one dictation document and the machinery around it.
type Session struct {
	rec      *recorder.Recorder
	store    *document.Store
	pipeline *transcribe.Pipeline
	seq      *playback.Sequencer
	player   audio.Player
	creds    credential.Source
	notices  *notify.Center
	metrics  *observe.Metrics
	archive  Archive
	docID    string

	mu      sync.Mutex
	subs    map[int]func(Event)
	nextSub int
	// unplayable is set when the last utterance could not be loaded for
	// playback. The recorder's next state change shows the error instead
	// of the usual status message.
	unplayable bool
}

// New builds a session. The recorder starts idle.
func New(deps Deps) *Session {
	s := &Session{
		store:   document.New(),
		player:  deps.Player,
		creds:   deps.Credentials,
		notices: deps.Notifications,
		metrics: deps.Metrics,
		archive: deps.Archive,
		docID:   deps.DocumentID,
	}
	if s.notices == nil {
		s.notices = notify.NewCenter(0)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.docID == "" {
		s.docID = "default"
	}

	recOpts := slices.Concat(deps.RecorderOptions, []recorder.Option{
		recorder.WithOnUtterance(s.handleUtterance),
		recorder.WithOnStateChange(s.handleRecorderState),
	})
	s.rec = recorder.New(deps.Capture, deps.VAD, deps.Recorder, recOpts...)
	s.pipeline = transcribe.New(deps.STT, s.store, deps.Credentials, deps.Transcription,
		transcribe.WithNotifier(s.notices),
		transcribe.WithMetrics(s.metrics),
	)
	s.seq = playback.New(s.store,
		playback.WithMetrics(s.metrics),
		playback.WithOnPlayingChange(s.handlePlaying),
	)

	// Store listeners may run while the sequencer holds its lock, so this
	// one only renders the snapshot.
	s.store.Subscribe(func(snap document.Snapshot) {
		v := ViewOf(snap)
		s.publish(Event{Kind: EventDocument, Document: &v})
	})
	s.notices.OnChange(func(n *notify.Notification) {
		s.publish(Event{Kind: EventNotification, Notification: n})
	})
	return s
}

// Store exposes the document.
func (s *Session) Store() *document.Store { return s.store }

// Recorder exposes the recorder.
func (s *Session) Recorder() *recorder.Recorder { return s.rec }

// Notifications exposes the notification center.
func (s *Session) Notifications() *notify.Center { return s.notices }

// ─── Recording ───────────────────────────────────────────────────────────────

// StartRecording acquires the microphone and arms the recorder. It refuses
// to start without a credential. A capture failure is returned wrapping
// [recorder.ErrCaptureAcquisition] and leaves the recorder in its error
// state until the next call.
func (s *Session) StartRecording(ctx context.Context) error {
	if _, err := credential.Require(s.creds); err != nil {
		s.notices.Error(notify.MsgMissingCredential)
		return transcribe.ErrMissingCredential
	}
	// Recording and playback are exclusive.
	s.seq.Stop()
	return s.rec.Start(ctx)
}

// Toggle starts recording when the recorder is idle or failed, and flips the
// pause otherwise.
func (s *Session) Toggle(ctx context.Context) error {
	switch s.rec.State() {
	case recorder.StateIdle, recorder.StateError:
		return s.StartRecording(ctx)
	}
	if s.rec.UserPaused() {
		s.Resume()
	} else {
		s.Pause()
	}
	return nil
}

// Pause suppresses new utterances. An open utterance still completes.
func (s *Session) Pause() { s.rec.Pause() }

// Resume lifts the pause and stops any playback.
func (s *Session) Resume() {
	s.seq.Stop()
	s.rec.Resume()
}

// StopRecording releases the microphone and discards any open utterance.
// Transcriptions already submitted keep running.
func (s *Session) StopRecording() { s.rec.Stop() }

// ─── Document ────────────────────────────────────────────────────────────────

// Document returns the current document view.
func (s *Session) Document() DocumentView { return ViewOf(s.store.Snapshot()) }

// Text returns the resolved transcriptions joined in document order.
func (s *Session) Text() string { return s.store.Text() }

// Record returns the record with the given ID.
func (s *Session) Record(id string) (*document.Record, bool) {
	rec, _, ok := s.store.Find(id)
	return rec, ok
}

// Move relocates a segment with splice semantics.
func (s *Session) Move(from, to int) bool {
	ok := s.store.Move(from, to)
	if ok {
		s.metrics.RecordDocumentEdit(context.Background(), "move")
	}
	return ok
}

// Remove stops playback and deletes the segment at index.
func (s *Session) Remove(index int) (*document.Record, bool) {
	s.seq.Stop()
	rec, ok := s.store.Remove(index)
	if ok {
		s.metrics.RecordDocumentEdit(context.Background(), "remove")
		slog.Info("segment removed", "record", rec.ID, "index", index)
	}
	return rec, ok
}

// SetCursor moves the insertion cursor and returns its clamped value.
func (s *Session) SetCursor(c document.Cursor) document.Cursor {
	return s.store.SetCursor(c)
}

// Save writes the current document to the archive.
func (s *Session) Save(ctx context.Context) error {
	if s.archive == nil {
		return ErrNoArchive
	}
	snap := s.store.Snapshot()
	if err := s.archive.Save(ctx, s.docID, snap); err != nil {
		return fmt.Errorf("session: save document %q: %w", s.docID, err)
	}
	slog.Info("document archived", "document", s.docID, "segments", snap.Len(), "version", snap.Version)
	return nil
}

// ─── Playback ────────────────────────────────────────────────────────────────

// Play plays the segment at index and the ones after it. An index past the
// end only stops playback and returns [playback.ErrOutOfRange].
func (s *Session) Play(index int) error { return s.seq.Play(index) }

// StopPlayback stops playback. Any action that takes focus away from the
// document calls it.
func (s *Session) StopPlayback() { s.seq.Stop() }

// Playing reports whether playback is active.
func (s *Session) Playing() bool { return s.seq.Playing() }

// ─── Status & events ─────────────────────────────────────────────────────────

// Status returns a point-in-time view of the session.
func (s *Session) Status() Status {
	snap := s.store.Snapshot()
	id, playing := s.seq.Current()
	st := Status{
		Recorder:  s.rec.Status(),
		Playing:   playing,
		PlayingID: id,
		Cursor:    snap.Cursor,
		Segments:  snap.Len(),
		Pending:   s.pipeline.Pending(),
	}
	_, err := credential.Require(s.creds)
	st.Credential = err == nil
	if n, ok := s.notices.Current(); ok {
		st.Notification = &n
	}
	return st
}

// Subscribe registers fn for every [Event]. fn runs on the goroutine that
// caused the change and must not block. The returned function unsubscribes.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(Event))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Session) publish(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Close stops recording and playback, waits for in-flight transcriptions
// and, when an archive is configured, saves the document one last time.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if err := s.rec.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.seq.Stop()
	if err := s.pipeline.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.archive != nil && s.store.Len() > 0 {
		if err := s.Save(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ─── Wiring ──────────────────────────────────────────────────────────────────

func (s *Session) handleUtterance(u recorder.Utterance) {
	wav, err := audio.EncodeWAV(u.PCM, u.Format)
	if err != nil {
		slog.Error("session: encode utterance", "err", err)
		return
	}
	// The segment is kept and transcribed even if it cannot be played.
	handle, err := s.player.Load(wav)
	if err != nil {
		slog.Error("session: load utterance for playback", "err", err)
		handle = nil
		s.mu.Lock()
		s.unplayable = true
		s.mu.Unlock()
		s.notices.Error(notify.MsgPlaybackError)
	}

	rec := document.NewRecord(wav, handle, u.Duration())
	index := s.store.InsertAtCursor(rec)
	s.metrics.RecordUtterance(context.Background(), u.Duration().Seconds())
	s.metrics.RecordDocumentEdit(context.Background(), "insert")
	slog.Info("utterance recorded", "record", rec.ID, "index", index, "duration", u.Duration())

	if err := s.pipeline.Submit(rec); err != nil {
		slog.Warn("session: transcription not submitted", "record", rec.ID, "err", err)
	}
}

func (s *Session) handleRecorderState(from, to recorder.State) {
	s.metrics.RecordRecorderTransition(context.Background(), to.String())
	s.mu.Lock()
	unplayable := s.unplayable
	s.unplayable = false
	s.mu.Unlock()

	switch {
	case to == recorder.StateError:
		s.notices.Error(notify.MsgMicrophoneError)
	case unplayable && from == recorder.StateRecording:
		// Keep the playback error raised for the utterance that just closed.
	case to == recorder.StateRecording:
		s.notices.Info(notify.MsgRecording)
	case to == recorder.StateArmed:
		s.notices.Info(notify.MsgWaiting)
	case to == recorder.StateIdle, to == recorder.StatePaused:
		if from == recorder.StateRecording || from == recorder.StateArmed {
			s.notices.Dismiss()
		}
	}
	st := s.rec.Status()
	s.publish(Event{Kind: EventRecorder, Recorder: &st})
}

func (s *Session) handlePlaying(playing bool) {
	s.rec.SetPlaybackActive(playing)
	s.publish(Event{Kind: EventPlayback, Playing: &playing})
}
