package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/speechblobs/internal/app"
	"github.com/MrWong99/speechblobs/internal/config"
	"github.com/MrWong99/speechblobs/internal/document"
	"github.com/MrWong99/speechblobs/internal/observe"
	audiomock "github.com/MrWong99/speechblobs/pkg/audio/mock"
	sttmock "github.com/MrWong99/speechblobs/pkg/provider/stt/mock"
	vadmock "github.com/MrWong99/speechblobs/pkg/provider/vad/mock"
)

type fakeArchive struct{}

func (fakeArchive) Save(context.Context, string, document.Snapshot) error { return nil }

// testConfig returns a validated default config using a keyless backend.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Providers.STT = config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8081"}
	return cfg
}

// testProviders returns mock providers for every slot.
func testProviders() *app.Providers {
	return &app.Providers{
		STT:     &sttmock.Provider{},
		VAD:     &vadmock.Engine{},
		Capture: &audiomock.Capture{},
		Player:  &audiomock.Player{},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, testProviders(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), app.WithArchive(fakeArchive{}))
	if a.Session() == nil {
		t.Fatal("Session() is nil")
	}
	if a.Handler() == nil {
		t.Fatal("Handler() is nil")
	}
	if a.Addr() != nil {
		t.Errorf("Addr() = %v before Run, want nil", a.Addr())
	}
}

func TestNew_MissingProvider(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.Player = nil
	if _, err := app.New(context.Background(), testConfig(t), providers); err == nil {
		t.Fatal("expected error for missing provider")
	}
}

func TestNew_KeylessBackendHasCredential(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	if a.Credentials().Credential() == "" {
		t.Error("keyless backend should leave the credential gate open")
	}
	if !a.Session().Status().Credential {
		t.Error("status should report a configured credential")
	}
}

func TestNew_OpenAIWithoutKey(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvOpenAIAPIKey, "")

	cfg := testConfig(t)
	cfg.Providers.STT = config.ProviderEntry{Name: "openai"}
	a := newApp(t, cfg)
	if a.Credentials().Credential() != "" {
		t.Error("credential should be missing")
	}

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestHandler_Status(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Recorder struct {
			State string `json:"state"`
		} `json:"recorder"`
		Segments int `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Recorder.State != "idle" {
		t.Errorf("recorder state = %q, want idle", body.Recorder.State)
	}
	if body.Segments != 0 {
		t.Errorf("segments = %d, want 0", body.Segments)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	old := testConfig(t)
	a := newApp(t, old, app.WithLogLevel(level))

	updated := *old
	updated.Server.LogLevel = config.LogDebug
	updated.Recorder.VolumeThreshold = 0.2
	updated.Recorder.SilenceDuration = 3 * time.Second
	updated.Providers.STT.APIKey = "sk-new-key"
	updated.Server.ListenAddr = "127.0.0.1:9999"

	a.ApplyConfig(old, &updated)

	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}
	rc := a.Session().Recorder().Config()
	if rc.VolumeThreshold != 0.2 {
		t.Errorf("threshold = %v, want 0.2", rc.VolumeThreshold)
	}
	if rc.SilenceDuration != 3*time.Second {
		t.Errorf("silence = %v, want 3s", rc.SilenceDuration)
	}
	if got := a.Credentials().Credential(); got != "sk-new-key" {
		t.Errorf("credential = %q, want sk-new-key", got)
	}
}

func TestRunShutdown(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never bound an address")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("/healthz = %d %q", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	// Second call is a no-op.
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// No closers are registered without a DSN, so even a dead context
	// shuts down cleanly.
	if err := a.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() = %v", err)
	}
}
