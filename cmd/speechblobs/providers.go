package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/speechblobs/internal/app"
	"github.com/MrWong99/speechblobs/internal/config"
	"github.com/MrWong99/speechblobs/pkg/audio"
	"github.com/MrWong99/speechblobs/pkg/audio/beep"
	"github.com/MrWong99/speechblobs/pkg/audio/malgo"
	"github.com/MrWong99/speechblobs/pkg/provider/stt"
	"github.com/MrWong99/speechblobs/pkg/provider/stt/openai"
	"github.com/MrWong99/speechblobs/pkg/provider/stt/whisper"
	"github.com/MrWong99/speechblobs/pkg/provider/vad"
	"github.com/MrWong99/speechblobs/pkg/provider/vad/energy"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	// The credential is not passed here; it travels with every request so
	// that key rotation applies without a restart.
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, openai.WithLanguage(lang))
		}
		if secs := entry.IntOption("timeout_seconds", 0); secs > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(secs)*time.Second))
		}
		return openai.New(opts...), nil
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.Option("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := entry.IntOption("concurrency", 0); n > 0 {
			opts = append(opts, whisper.WithNativeConcurrency(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("malgo", func(entry config.ProviderEntry) (audio.Capture, error) {
		var opts []malgo.Option
		if dev := entry.Option("device", ""); dev != "" {
			opts = append(opts, malgo.WithDevice(dev))
		}
		return malgo.New(opts...), nil
	})

	// ── Playback ──────────────────────────────────────────────────────────────

	reg.RegisterPlayback("beep", func(entry config.ProviderEntry) (audio.Player, error) {
		rate := entry.IntOption("sample_rate", 44100)
		buffer := time.Duration(entry.IntOption("buffer_ms", 100)) * time.Millisecond
		return beep.New(rate, buffer)
	})

	// timed keeps the playback state machine honest on hosts without an
	// output device.
	reg.RegisterPlayback("timed", func(config.ProviderEntry) (audio.Player, error) {
		return audio.NewTimedPlayer(), nil
	})

	for _, kind := range []string{"stt", "vad", "capture", "playback"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// The returned function releases providers that hold native resources.
func buildProviders(cfg *config.Config, reg *config.Registry) (_ *app.Providers, _ func(), err error) {
	var closers []io.Closer
	release := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
	defer func() {
		if err != nil {
			release()
		}
	}()

	ps := &app.Providers{}
	if ps.STT, err = create(reg, "stt", cfg.Providers.STT, reg.CreateSTT, &closers); err != nil {
		return nil, nil, err
	}
	if ps.VAD, err = create(reg, "vad", cfg.Providers.VAD, reg.CreateVAD, &closers); err != nil {
		return nil, nil, err
	}
	if ps.Capture, err = create(reg, "capture", cfg.Providers.Capture, reg.CreateCapture, &closers); err != nil {
		return nil, nil, err
	}
	if ps.Player, err = create(reg, "playback", cfg.Providers.Playback, reg.CreatePlayback, &closers); err != nil {
		return nil, nil, err
	}
	return ps, release, nil
}

// create builds one provider and remembers it for release when it holds
// resources.
func create[T any](reg *config.Registry, kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error), closers *[]io.Closer) (T, error) {
	p, err := fn(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return p, fmt.Errorf("%s provider %q is not available (known: %v): %w", kind, entry.Name, reg.Names(kind), err)
	}
	if err != nil {
		return p, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	if c, ok := any(p).(io.Closer); ok {
		*closers = append(*closers, c)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}
