// Command speechblobs is the entry point for the speechblobs dictation server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/speechblobs/internal/app"
	"github.com/MrWong99/speechblobs/internal/config"
	"github.com/MrWong99/speechblobs/internal/observe"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var (
	configPath string
	envFile    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "speechblobs: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "speechblobs",
		Short:         "Voice dictation server",
		Long:          "speechblobs records speech, splits it into utterances on silence, transcribes them in the background and keeps an ordered, editable document of the results.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnv(envFile)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file with API keys")

	root.AddCommand(
		newServeCmd(),
		newTranscribeCmd(),
		newValidateCmd(),
		newArchiveCmd(),
		newMeterCmd(),
	)
	// Running the bare command starts the server.
	root.RunE = newServeCmd().RunE
	return root
}

// loadEnv loads path into the process environment without overriding
// variables that are already set. A missing file is fine.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadConfig loads configPath and reports a friendlier error when the file is
// missing.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", configPath)
	}
	return cfg, err
}

// ── serve ─────────────────────────────────────────────────────────────────────

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dictation server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(level))

	slog.Info("speechblobs starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Init(observe.Setup{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		STTBackend:     cfg.Providers.STT.Name,
		DocumentID:     cfg.Archive.DocumentID,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closeProviders, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	defer closeProviders()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(level),
		app.WithMetricsHandler(promhttp.Handler()),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// The file is polled, and SIGHUP forces an immediate re-read.
	watcher, err := config.NewWatcher(configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go watcher.Run(ctx)
		go reloadOnHangup(ctx, watcher)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	var errs []error
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		errs = append(errs, runErr)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("exiting with error", "err", err)
		return err
	}
	slog.Info("goodbye")
	return nil
}

// reloadOnHangup re-reads the config file each time the process receives
// SIGHUP, until ctx is cancelled.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Warn("SIGHUP reload failed", "err", err)
				continue
			}
			slog.Info("SIGHUP reload", "changed", changed)
		}
	}
}

// newLogger creates a text handler on stderr whose level follows level.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      speechblobs — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Capture", cfg.Providers.Capture.Name, cfg.Providers.Capture.Option("device", ""))
	printProvider("Playback", cfg.Providers.Playback.Name, "")
	fmt.Printf("║  Threshold       : %-19.3f ║\n", cfg.Recorder.VolumeThreshold)
	fmt.Printf("║  Silence         : %-19s ║\n", cfg.Recorder.SilenceDuration)
	if cfg.Archive.PostgresDSN != "" {
		fmt.Printf("║  Archive         : %-19s ║\n", cfg.Archive.DocumentID)
	} else {
		fmt.Printf("║  Archive         : %-19s ║\n", "(disabled)")
	}
	if config.Credential(cfg) != "" || !config.NeedsCredential(cfg) {
		fmt.Printf("║  Credential      : %-19s ║\n", "configured")
	} else {
		fmt.Printf("║  Credential      : %-19s ║\n", "(missing)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	label := name
	if label == "" {
		label = "(none)"
	} else if detail != "" {
		label = name + "/" + detail
	}
	if len(label) > 19 {
		label = label[:16] + "..."
	}
	fmt.Printf("║  %-15s : %-19s ║\n", kind, label)
}
