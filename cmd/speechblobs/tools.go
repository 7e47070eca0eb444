package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speechblobs/internal/config"
	"github.com/MrWong99/speechblobs/internal/document/postgres"
	"github.com/MrWong99/speechblobs/pkg/audio"
	"github.com/MrWong99/speechblobs/pkg/provider/stt"
)

// ── transcribe ────────────────────────────────────────────────────────────────

func newTranscribeCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Transcribe a WAV file with the configured backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}
			if language != "" {
				cfg.Transcription.Language = language
			}
			return transcribeFile(cmd.Context(), cmd.OutOrStdout(), cfg, args[0])
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "ISO-639-1 language hint")
	return cmd
}

func transcribeFile(ctx context.Context, out io.Writer, cfg *config.Config, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	key := config.Credential(cfg)
	if key == "" && config.NeedsCredential(cfg) {
		return fmt.Errorf("stt provider %q needs an API key: set providers.stt.api_key or %s", cfg.Providers.STT.Name, config.EnvAPIKey)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	provider, err := create(reg, "stt", cfg.Providers.STT, reg.CreateSTT, new([]io.Closer))
	if err != nil {
		return err
	}
	if c, ok := provider.(io.Closer); ok {
		defer c.Close()
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Transcription.Timeout)
	defer cancel()

	start := time.Now()
	tr, err := provider.Transcribe(ctx, stt.Request{
		Audio:      data,
		Credential: key,
		Language:   cfg.Transcription.Language,
	})
	if err != nil {
		return fmt.Errorf("transcribe %s: %w", path, err)
	}
	fmt.Fprintln(out, tr.Text)
	clip := audio.AudioFrame{Data: pcm, SampleRate: format.SampleRate, Channels: format.Channels}
	fmt.Fprintf(os.Stderr, "%s: %s of %s audio transcribed in %s\n",
		filepath.Base(path), clip.Duration().Round(time.Millisecond), format, time.Since(start).Round(time.Millisecond))
	return nil
}

// loadConfigOrDefault loads the config file, falling back to defaults when it
// does not exist. One-shot commands stay usable without a config file.
func loadConfigOrDefault() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

// ── validate ──────────────────────────────────────────────────────────────────

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			return validateProviders(cmd.OutOrStdout(), cfg, reg)
		},
	}
}

func validateProviders(out io.Writer, cfg *config.Config, reg *config.Registry) error {
	var errs []error
	for _, p := range []struct {
		kind  string
		entry config.ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"vad", cfg.Providers.VAD},
		{"capture", cfg.Providers.Capture},
		{"playback", cfg.Providers.Playback},
	} {
		known := reg.Names(p.kind)
		if !slices.Contains(known, p.entry.Name) {
			errs = append(errs, fmt.Errorf("%s provider %q is not available (known: %s)", p.kind, p.entry.Name, strings.Join(known, ", ")))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok\n", configPath)
	return nil
}

// ── archive ───────────────────────────────────────────────────────────────────

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect documents saved to the Postgres archive",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withArchive(cmd.Context(), func(ctx context.Context, arc *postgres.Archive) error {
				docs, err := arc.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSEGMENTS\tVERSION\tSAVED")
				for _, d := range docs {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", d.ID, d.Segments, d.Version, d.SavedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	})

	var textOnly bool
	show := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Print an archived document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd.Context(), func(ctx context.Context, arc *postgres.Archive) error {
				doc, err := arc.Load(ctx, args[0])
				if err != nil {
					return err
				}
				printDocument(cmd.OutOrStdout(), doc, textOnly)
				return nil
			})
		},
	}
	show.Flags().BoolVar(&textOnly, "text", false, "print only the joined transcript")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "export <document-id> <dir>",
		Short: "Write every segment of an archived document as a WAV file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd.Context(), func(ctx context.Context, arc *postgres.Archive) error {
				doc, err := arc.Load(ctx, args[0])
				if err != nil {
					return err
				}
				return exportSegments(cmd.OutOrStdout(), doc, args[1])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove an archived document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd.Context(), func(ctx context.Context, arc *postgres.Archive) error {
				return arc.Delete(ctx, args[0])
			})
		},
	})

	return cmd
}

func withArchive(ctx context.Context, fn func(context.Context, *postgres.Archive) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Archive.PostgresDSN == "" {
		return errors.New("archive.postgres_dsn is not configured")
	}
	arc, err := postgres.NewArchive(ctx, cfg.Archive.PostgresDSN)
	if err != nil {
		return err
	}
	defer arc.Close()
	return fn(ctx, arc)
}

func printDocument(out io.Writer, doc postgres.Document, textOnly bool) {
	if textOnly {
		var parts []string
		for _, seg := range doc.Segments {
			if seg.Text != "" {
				parts = append(parts, seg.Text)
			}
		}
		fmt.Fprintln(out, strings.Join(parts, " "))
		return
	}
	fmt.Fprintf(out, "%s  version %d  cursor %s  saved %s\n", doc.ID, doc.Version, doc.Cursor, doc.SavedAt.Format(time.RFC3339))
	for _, seg := range doc.Segments {
		text := seg.Text
		if seg.Reason != "" {
			text = "(" + seg.Reason + ")"
		}
		fmt.Fprintf(out, "%3d  %-8s  %6s  %s\n", seg.Position, seg.Status, seg.Duration.Round(100*time.Millisecond), text)
	}
}

func exportSegments(out io.Writer, doc postgres.Document, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, seg := range doc.Segments {
		name := filepath.Join(dir, fmt.Sprintf("%03d-%s.wav", seg.Position, seg.RecordID))
		if err := os.WriteFile(name, seg.WAV, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(out, name)
	}
	return nil
}
