package transcribe_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/speechblobs/internal/credential"
	"github.com/MrWong99/speechblobs/internal/document"
	"github.com/MrWong99/speechblobs/internal/notify"
	"github.com/MrWong99/speechblobs/internal/transcribe"
	sttmock "github.com/MrWong99/speechblobs/pkg/provider/stt/mock"
)

const testKey = "sk-test"

// recordingNotifier collects notification messages.
type recordingNotifier struct {
	mu     sync.Mutex
	errors []string
}

func (n *recordingNotifier) Info(string) {}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) Errors() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errors...)
}

type fixture struct {
	store    *document.Store
	provider *sttmock.Provider
	notifier *recordingNotifier
	pipeline *transcribe.Pipeline
	results  chan transcribe.Result
}

func newFixture(t *testing.T, creds credential.Source, cfg transcribe.Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    document.New(),
		provider: &sttmock.Provider{Hold: true},
		notifier: &recordingNotifier{},
		results:  make(chan transcribe.Result, 16),
	}
	f.pipeline = transcribe.New(f.provider, f.store, creds, cfg,
		transcribe.WithNotifier(f.notifier),
		transcribe.WithOnResult(func(r transcribe.Result) { f.results <- r }),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.pipeline.Close(ctx)
	})
	return f
}

// add appends a record whose WAV payload is its label.
func (f *fixture) add(label string) *document.Record {
	rec := document.NewRecord([]byte(label), nil, time.Second)
	f.store.Append(rec)
	return rec
}

func (f *fixture) result(t *testing.T) transcribe.Result {
	t.Helper()
	select {
	case r := <-f.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return transcribe.Result{}
	}
}

// callFor returns the held call carrying label as audio.
func callFor(t *testing.T, calls []*sttmock.Call, label string) *sttmock.Call {
	t.Helper()
	for _, c := range calls {
		if string(c.Req.Audio) == label {
			return c
		}
	}
	t.Fatalf("no call for %q", label)
	return nil
}

func TestPipeline_OutOfOrderCompletion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, credential.Static(testKey), transcribe.Config{})
	a, b := f.add("A"), f.add("B")
	for _, rec := range []*document.Record{a, b} {
		if err := f.pipeline.Submit(rec); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	calls := f.provider.WaitCalls(t, 2)

	callFor(t, calls, "B").Succeed("  second  ")
	if r := f.result(t); r.RecordID != b.ID || !r.Applied {
		t.Fatalf("first result = %+v, want applied result for B", r)
	}
	if got := a.Transcription().Status; got != document.StatusPending {
		t.Errorf("A status after B resolved = %v, want pending", got)
	}

	callFor(t, calls, "A").Succeed("first")
	f.result(t)

	if got := a.Transcription(); got.Status != document.StatusResolved || got.Text != "first" {
		t.Errorf("A = %+v, want resolved %q", got, "first")
	}
	if got := b.Transcription(); got.Status != document.StatusResolved || got.Text != "second" {
		t.Errorf("B = %+v, want resolved %q", got, "second")
	}
	if got := f.store.Text(); got != "first second" {
		t.Errorf("Text() = %q, want %q", got, "first second")
	}
	if f.pipeline.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", f.pipeline.Pending())
	}
}

func TestPipeline_RoutesByIDAfterMove(t *testing.T) {
	t.Parallel()

	f := newFixture(t, credential.Static(testKey), transcribe.Config{})
	a, b := f.add("A"), f.add("B")
	if err := f.pipeline.Submit(a); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	calls := f.provider.WaitCalls(t, 1)

	f.store.Move(0, 1) // [B, A]
	calls[0].Succeed("alpha")
	f.result(t)

	rec, _ := f.store.At(1)
	if rec != a {
		t.Fatalf("record at 1 is %s, want A", rec.ID)
	}
	if got := a.Transcription().Text; got != "alpha" {
		t.Errorf("A text = %q, want alpha", got)
	}
	if got := b.Transcription().Status; got != document.StatusPending {
		t.Errorf("B status = %v, want pending", got)
	}
}

func TestPipeline_FailureMarksRecordAndNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, credential.Static(testKey), transcribe.Config{})
	a, b := f.add("A"), f.add("B")
	_ = f.pipeline.Submit(a)
	_ = f.pipeline.Submit(b)
	calls := f.provider.WaitCalls(t, 2)

	boom := errors.New("connection reset")
	callFor(t, calls, "A").Fail(boom)
	r := f.result(t)
	if !errors.Is(r.Err, transcribe.ErrTranscription) || !errors.Is(r.Err, boom) {
		t.Errorf("Result.Err = %v, want ErrTranscription wrapping cause", r.Err)
	}
	got := a.Transcription()
	if got.Status != document.StatusFailed {
		t.Fatalf("A status = %v, want failed", got.Status)
	}
	if got.Reason == "" {
		t.Error("failed record has empty reason")
	}
	if msgs := f.notifier.Errors(); len(msgs) != 1 || msgs[0] != notify.MsgTranscriptionError {
		t.Errorf("notifications = %v, want [%q]", msgs, notify.MsgTranscriptionError)
	}

	// The other segment is unaffected.
	callFor(t, calls, "B").Succeed("fine")
	f.result(t)
	if got := b.Transcription(); got.Status != document.StatusResolved {
		t.Errorf("B = %+v, want resolved", got)
	}
	if n := f.provider.CallCount(); n != 2 {
		t.Errorf("provider called %d times, want 2 (no retry)", n)
	}
}

func TestPipeline_PromptsWithPrecedingText(t *testing.T) {
	t.Parallel()

	f := newFixture(t, credential.Static(testKey), transcribe.Config{})
	a, b, c := f.add("A"), f.add("B"), f.add("C")

	_ = f.pipeline.Submit(a)
	calls := f.provider.WaitCalls(t, 1)
	if got := calls[0].Req.Prompt; got != "" {
		t.Errorf("first record prompt = %q, want empty", got)
	}
	calls[0].Succeed("hello there")
	f.result(t)

	// C skips the still pending B and picks up A.
	_ = f.pipeline.Submit(b)
	_ = f.pipeline.Submit(c)
	calls = f.provider.WaitCalls(t, 3)
	for _, label := range []string{"B", "C"} {
		if got := callFor(t, calls[1:], label).Req.Prompt; got != "hello there" {
			t.Errorf("%s prompt = %q, want %q", label, got, "hello there")
		}
	}
}

func TestPipeline_PromptIsTrimmedAtWordBoundary(t *testing.T) {
	t.Parallel()

	f := newFixture(t, credential.Static(testKey), transcribe.Config{})
	a, b := f.add("A"), f.add("B")
	_ = f.pipeline.Submit(a)
	f.provider.WaitCalls(t, 1)[0].Succeed(strings.Repeat("word ", 200) + "end")
	f.result(t)

	_ = f.pipeline.Submit(b)
	prompt := f.provider.WaitCalls(t, 2)[1].Req.Prompt
	if len(prompt) > 600 || len(prompt) < 500 {
		t.Errorf("prompt length = %d, want the tail of at most 600 bytes", len(prompt))
	}
	if !strings.HasPrefix(prompt, "word ") || !strings.HasSuffix(prompt, " end") {
		t.Errorf("prompt = %q, want whole words ending in the latest text", prompt)
	}
}

func TestPipeline_RemovedRecordIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, credential.Static(testKey), transcribe.Config{})
	a := f.add("A")
	_ = f.pipeline.Submit(a)
	calls := f.provider.WaitCalls(t, 1)

	if _, ok := f.store.Remove(0); !ok {
		t.Fatal("Remove failed")
	}
	calls[0].Fail(errors.New("late failure"))
	r := f.result(t)

	if r.Applied {
		t.Error("result applied to a removed record")
	}
	if f.store.Len() != 0 {
		t.Errorf("store length = %d, want 0", f.store.Len())
	}
	if msgs := f.notifier.Errors(); len(msgs) != 0 {
		t.Errorf("notifications = %v, want none for a removed record", msgs)
	}
}

func TestPipeline_MissingCredential(t *testing.T) {
	t.Parallel()

	creds := credential.NewStore("")
	f := newFixture(t, creds, transcribe.Config{})
	a := f.add("A")

	err := f.pipeline.Submit(a)
	if !errors.Is(err, transcribe.ErrMissingCredential) {
		t.Fatalf("Submit error = %v, want ErrMissingCredential", err)
	}
	if !errors.Is(err, credential.ErrMissing) {
		t.Errorf("Submit error = %v, want it to match credential.ErrMissing", err)
	}
	if n := f.provider.CallCount(); n != 0 {
		t.Errorf("provider called %d times, want 0", n)
	}
	if got := a.Transcription().Status; got != document.StatusFailed {
		t.Errorf("status = %v, want failed", got)
	}
	if msgs := f.notifier.Errors(); len(msgs) != 1 || msgs[0] != notify.MsgMissingCredential {
		t.Errorf("notifications = %v, want [%q]", msgs, notify.MsgMissingCredential)
	}

	// Setting the key applies to the next submission without a restart.
	creds.Set(testKey)
	b := f.add("B")
	if err := f.pipeline.Submit(b); err != nil {
		t.Fatalf("Submit after Set: %v", err)
	}
	calls := f.provider.WaitCalls(t, 1)
	if got := calls[0].Req.Credential; got != testKey {
		t.Errorf("request credential = %q, want %q", got, testKey)
	}
	calls[0].Succeed("ok")
	f.result(t)
}

func TestPipeline_MaxInFlight(t *testing.T) {
	t.Parallel()

	f := newFixture(t, credential.Static(testKey), transcribe.Config{MaxInFlight: 1})
	a, b := f.add("A"), f.add("B")
	_ = f.pipeline.Submit(a)
	_ = f.pipeline.Submit(b)

	first := f.provider.WaitCalls(t, 1)[0]
	time.Sleep(50 * time.Millisecond)
	if n := f.provider.CallCount(); n != 1 {
		t.Fatalf("provider called %d times with one slot, want 1", n)
	}
	if got := f.pipeline.Pending(); got != 2 {
		t.Errorf("Pending = %d, want 2", got)
	}

	first.Succeed("one")
	f.result(t)
	second := f.provider.WaitCalls(t, 2)[1]
	second.Succeed("two")
	f.result(t)
}

func TestPipeline_Timeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, credential.Static(testKey), transcribe.Config{Timeout: 20 * time.Millisecond})
	a := f.add("A")
	_ = f.pipeline.Submit(a)

	r := f.result(t)
	if !errors.Is(r.Err, context.DeadlineExceeded) {
		t.Errorf("Result.Err = %v, want deadline exceeded", r.Err)
	}
	if got := a.Transcription().Status; got != document.StatusFailed {
		t.Errorf("status = %v, want failed", got)
	}
}

func TestPipeline_CloseRejectsSubmissions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, credential.Static(testKey), transcribe.Config{})
	a := f.add("A")
	_ = f.pipeline.Submit(a)
	call := f.provider.WaitCalls(t, 1)[0]

	closed := make(chan error, 1)
	go func() { closed <- f.pipeline.Close(context.Background()) }()

	// Close waits for the in-flight call.
	select {
	case <-closed:
		t.Fatal("Close returned with a call in flight")
	case <-time.After(50 * time.Millisecond):
	}
	call.Succeed("done")
	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := a.Transcription().Text; got != "done" {
		t.Errorf("text = %q, want done", got)
	}

	if err := f.pipeline.Submit(f.add("B")); !errors.Is(err, transcribe.ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
}

func TestPipeline_CloseDeadlineCancelsCalls(t *testing.T) {
	t.Parallel()

	f := newFixture(t, credential.Static(testKey), transcribe.Config{})
	a := f.add("A")
	_ = f.pipeline.Submit(a)
	f.provider.WaitCalls(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.pipeline.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close = %v, want deadline exceeded", err)
	}
	if got := a.Transcription().Status; got != document.StatusFailed {
		t.Errorf("status = %v, want failed", got)
	}
}
