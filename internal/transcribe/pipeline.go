// Package transcribe submits closed utterances to a speech-to-text provider
// and routes each result back to its record.
//
// Submissions run concurrently and may complete in any order. Results are
// matched to records by ID, so a record that moved in the meantime still
// receives its own text and a record that was removed is simply skipped.
// Nothing is retried: a failed call marks the record failed and raises a
// transient notification.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/speechblobs/internal/credential"
	"github.com/MrWong99/speechblobs/internal/document"
	"github.com/MrWong99/speechblobs/internal/notify"
	"github.com/MrWong99/speechblobs/internal/observe"
	"github.com/MrWong99/speechblobs/pkg/provider/stt"
)

var (
	// ErrTranscription wraps every provider failure reported through
	// [Result.Err].
	ErrTranscription = errors.New("transcribe: transcription failed")

	// ErrMissingCredential is returned by [Pipeline.Submit] when no
	// credential is configured. It matches [credential.ErrMissing].
	ErrMissingCredential = fmt.Errorf("transcribe: %w", credential.ErrMissing)

	// ErrClosed is returned by [Pipeline.Submit] after Close.
	ErrClosed = errors.New("transcribe: pipeline closed")
)

// Defaults applied by [New] to zero-valued Config fields.
const (
	DefaultMaxInFlight = 4
	DefaultTimeout     = 60 * time.Second
)

// maxPromptBytes caps the preceding text sent as a recognition prompt.
// Whisper only looks at the last ~224 tokens of it anyway.
const maxPromptBytes = 600

// Config tunes the pipeline.
type Config struct {
	// MaxInFlight bounds concurrent provider calls. Further submissions
	// queue until a slot frees up.
	MaxInFlight int

	// Timeout bounds each provider call.
	Timeout time.Duration

	// Language is passed to the provider as a hint.
	Language string

	// ProviderName labels metrics and logs.
	ProviderName string
}

func (c Config) withDefaults() Config {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ProviderName == "" {
		c.ProviderName = "stt"
	}
	return c
}

// Result describes one finished submission.
type Result struct {
	// RecordID identifies the record the result belongs to.
	RecordID string

	// Transcription is the outcome that was resolved into the record.
	Transcription document.Transcription

	// Applied is false when the record had left the document.
	Applied bool

	// Latency is the provider round trip.
	Latency time.Duration

	// Err is non-nil on failure and wraps [ErrTranscription].
	Err error
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithNotifier routes failure notifications to n.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithMetrics records latency and error counts into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithOnResult registers a callback that runs after each submission is
// resolved. It runs on the submission's goroutine.
func WithOnResult(fn func(Result)) Option {
	return func(p *Pipeline) { p.onResult = fn }
}

// Pipeline fans utterances out to an [stt.Provider]. It is safe for
// concurrent use.
type Pipeline struct {
	provider stt.Provider
	store    *document.Store
	creds    credential.Source
	cfg      Config

	notifier notify.Notifier
	metrics  *observe.Metrics
	onResult func(Result)

	sem    *semaphore.Weighted
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending int
}

// New returns a running pipeline that resolves results into store.
func New(provider stt.Provider, store *document.Store, creds credential.Source, cfg Config, opts ...Option) *Pipeline {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		provider: provider,
		store:    store,
		creds:    creds,
		cfg:      cfg,
		notifier: notify.Discard,
		metrics:  observe.DefaultMetrics(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		group:    &errgroup.Group{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Pending returns the number of submissions not yet resolved.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Submit starts transcribing rec in the background and returns immediately.
// The credential is read now, so a key changed afterwards applies to the
// next submission. Without a credential the record is marked failed and
// [ErrMissingCredential] is returned.
func (p *Pipeline) Submit(rec *document.Record) error {
	key, err := credential.Require(p.creds)
	if err != nil {
		p.store.Resolve(rec.ID, document.Failed(ErrMissingCredential.Error()))
		p.notifier.Error(notify.MsgMissingCredential)
		return ErrMissingCredential
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.pending++
	p.metrics.TranscriptionsInFlight.Add(p.ctx, 1)

	// The group is unbounded; the semaphore limits provider calls.
	p.group.Go(func() error {
		defer p.finish()
		p.run(rec, key)
		return nil
	})
	return nil
}

func (p *Pipeline) finish() {
	p.mu.Lock()
	p.pending--
	p.mu.Unlock()
	p.metrics.TranscriptionsInFlight.Add(context.Background(), -1)
}

func (p *Pipeline) run(rec *document.Record, key string) {
	ctx, span, log := observe.StartRecordSpan(p.ctx, "transcribe.segment", rec.ID,
		observe.AttrProvider.String(p.cfg.ProviderName),
		observe.AttrAudioBytes.Int(len(rec.WAV)),
	)
	defer span.End()
	log = log.With("provider", p.cfg.ProviderName)

	var (
		tr      stt.Transcript
		err     error
		latency time.Duration
	)
	if err = p.sem.Acquire(ctx, 1); err == nil {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		start := time.Now()
		tr, err = p.provider.Transcribe(callCtx, stt.Request{
			Audio:      rec.WAV,
			Credential: key,
			Language:   p.cfg.Language,
			Prompt:     precedingText(p.store.Snapshot(), rec.ID),
		})
		latency = time.Since(start)
		cancel()
		p.sem.Release(1)
		p.metrics.STTDuration.Record(ctx, latency.Seconds())
	}

	res := Result{RecordID: rec.ID, Latency: latency}
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrTranscription, err)
		res.Transcription = document.Failed(err.Error())
		p.metrics.RecordProviderRequest(ctx, p.cfg.ProviderName, "stt", "error")
		p.metrics.RecordProviderError(ctx, p.cfg.ProviderName, "stt")
		observe.FailSpan(span, err, "transcription failed")
	} else {
		res.Transcription = document.Resolved(strings.TrimSpace(tr.Text))
		p.metrics.RecordProviderRequest(ctx, p.cfg.ProviderName, "stt", "ok")
	}

	res.Applied = p.store.Resolve(rec.ID, res.Transcription)
	switch {
	case !res.Applied:
		log.Debug("transcription finished for a record no longer in the document")
	case res.Err != nil:
		log.Error("transcription failed", "err", err, "latency", latency)
		p.notifier.Error(notify.MsgTranscriptionError)
	default:
		log.Info("transcription resolved", "chars", len(res.Transcription.Text), "latency", latency)
	}

	if p.onResult != nil {
		p.onResult(res)
	}
}

// precedingText returns the text of the nearest resolved record before id,
// trimmed to its last [maxPromptBytes] at a word boundary. It is empty when
// id is first, gone, or nothing before it has resolved yet.
func precedingText(snap document.Snapshot, id string) string {
	i := snap.IndexOf(id)
	for i--; i >= 0; i-- {
		tr := snap.Records[i].Transcription()
		if tr.Status != document.StatusResolved || tr.Text == "" {
			continue
		}
		text := tr.Text
		if len(text) > maxPromptBytes {
			text = text[len(text)-maxPromptBytes:]
			if _, rest, ok := strings.Cut(text, " "); ok {
				text = rest
			}
		}
		return text
	}
	return ""
}

// Close stops accepting submissions and waits for in-flight ones. When ctx
// ends first, outstanding calls are cancelled and resolve as failed.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("transcribe: close: %w", ctx.Err())
	}
}
