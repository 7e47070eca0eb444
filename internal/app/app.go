// Package app wires the dictation subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context ends, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithArchive,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/speechblobs/internal/api"
	"github.com/MrWong99/speechblobs/internal/config"
	"github.com/MrWong99/speechblobs/internal/credential"
	"github.com/MrWong99/speechblobs/internal/document/postgres"
	"github.com/MrWong99/speechblobs/internal/health"
	"github.com/MrWong99/speechblobs/internal/notify"
	"github.com/MrWong99/speechblobs/internal/observe"
	"github.com/MrWong99/speechblobs/internal/recorder"
	"github.com/MrWong99/speechblobs/internal/resilience"
	"github.com/MrWong99/speechblobs/internal/session"
	"github.com/MrWong99/speechblobs/internal/transcribe"
	"github.com/MrWong99/speechblobs/pkg/audio"
	"github.com/MrWong99/speechblobs/pkg/provider/stt"
	"github.com/MrWong99/speechblobs/pkg/provider/vad"
)

// keylessCredential stands in for the API key when the configured STT
// backend does not take one, so the credential gate stays open.
const keylessCredential = "local"

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	STT     stt.Provider
	VAD     vad.Engine
	Capture audio.Capture
	Player  audio.Player
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	creds          *credential.Store
	archive        session.Archive
	archivePing    func(context.Context) error
	breaker        *resilience.STTBreaker
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar
	sess           *session.Session
	handler        http.Handler
	server         *http.Server

	addrMu sync.Mutex
	addr   net.Addr

	// closers are called in order during Shutdown, after the session closed.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchive injects a document archive instead of connecting to
// archive.postgres_dsn.
func WithArchive(a session.Archive) Option {
	return func(app *App) { app.archive = a }
}

// WithMetrics sets the instruments shared by all subsystems. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel hands the app the level variable behind the default logger so
// config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.VAD == nil || providers.Capture == nil || providers.Player == nil {
		return nil, errors.New("app: stt, vad, capture and playback providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Credential ────────────────────────────────────────────────────
	a.creds = credential.NewStore(resolveCredential(cfg))

	// ── 2. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 3. Transcription backend ─────────────────────────────────────────
	provider := a.initBreaker(providers.STT)

	// ── 4. Session ───────────────────────────────────────────────────────
	a.sess = session.New(session.Deps{
		Capture:     providers.Capture,
		VAD:         providers.VAD,
		Player:      providers.Player,
		STT:         provider,
		Credentials: a.creds,
		Recorder: recorder.Config{
			VolumeThreshold: cfg.Recorder.VolumeThreshold,
			SilenceDuration: cfg.Recorder.SilenceDuration,
			Format:          audio.Format{SampleRate: cfg.Recorder.SampleRate, Channels: 1},
			FrameSamples:    cfg.Recorder.FrameSamples,
		},
		Transcription: transcribe.Config{
			MaxInFlight:  cfg.Transcription.MaxInFlight,
			Timeout:      cfg.Transcription.Timeout,
			Language:     cfg.Transcription.Language,
			ProviderName: cfg.Providers.STT.Name,
		},
		Notifications: notify.NewCenter(cfg.Server.NotificationTTL),
		Metrics:       a.metrics,
		Archive:       a.archive,
		DocumentID:    cfg.Archive.DocumentID,
	})

	// ── 5. HTTP API ──────────────────────────────────────────────────────
	a.handler = api.New(a.sess,
		api.WithHealth(a.healthHandler()),
		api.WithMetricsHandler(a.metricsHandler),
		api.WithMetrics(a.metrics),
	)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// resolveCredential returns the configured key, or a placeholder for
// backends that need none.
func resolveCredential(cfg *config.Config) string {
	if key := config.Credential(cfg); key != "" {
		return key
	}
	if !config.NeedsCredential(cfg) {
		return keylessCredential
	}
	return ""
}

// initArchive connects the Postgres archive unless one was injected or none
// is configured.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		return nil
	}
	arc, err := postgres.NewArchive(ctx, dsn)
	if err != nil {
		return err
	}
	a.archive = arc
	a.archivePing = arc.Ping
	a.closers = append(a.closers, func() error {
		arc.Close()
		return nil
	})
	slog.Info("document archive connected", "document", a.cfg.Archive.DocumentID)
	return nil
}

// initBreaker wraps p in a circuit breaker when one is configured.
func (a *App) initBreaker(p stt.Provider) stt.Provider {
	cb := a.cfg.Transcription.CircuitBreaker
	if cb.MaxFailures <= 0 {
		return p
	}
	a.breaker = resilience.NewSTTBreaker(p, resilience.CircuitBreakerConfig{
		Name:         "stt/" + a.cfg.Providers.STT.Name,
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("transcription circuit breaker changed state", "breaker", name, "from", from, "to", to)
		},
	})
	return a.breaker
}

func (a *App) healthHandler() *health.Handler {
	checks := []health.Checker{
		health.Credential(a.creds),
		health.Recorder(a.sess.Recorder().Status),
	}
	if a.archivePing != nil {
		checks = append(checks, health.Ping("archive", a.archivePing))
	}
	if a.breaker != nil {
		checks = append(checks, health.Ping("stt", func(context.Context) error {
			if st := a.breaker.Breaker().State(); st == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		}))
	}
	return health.New(checks...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Session returns the dictation session.
func (a *App) Session() *session.Session { return a.sess }

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.handler }

// Credentials returns the hot-reloadable credential store.
func (a *App) Credentials() *credential.Store { return a.creds }

// Addr returns the bound listen address once Run has started, or nil.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. When ctx is done, Run returns context.Canceled (or the underlying
// cause).
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// log level, credential and recorder tuning. Other changes are logged as
// needing a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(new.Server.LogLevel.SlogLevel())
		slog.Info("log level changed", "level", new.Server.LogLevel)
	}
	if d.CredentialChanged {
		a.creds.Set(resolveCredential(new))
		if a.breaker != nil {
			// Failures under the old key say nothing about the new one.
			a.breaker.Breaker().Reset()
		}
		slog.Info("transcription credential updated")
	}
	if d.RecorderChanged {
		a.sess.Recorder().Reconfigure(new.Recorder.VolumeThreshold, new.Recorder.SilenceDuration)
		slog.Info("recorder reconfigured",
			"threshold", new.Recorder.VolumeThreshold,
			"silence", new.Recorder.SilenceDuration,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, closes the session (waiting for in-flight
// transcriptions and saving the document when an archive is configured) and
// runs the remaining closers. It respects the context deadline: if ctx
// expires, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		if err := a.sess.Close(ctx); err != nil {
			slog.Warn("session close error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
