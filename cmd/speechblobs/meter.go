package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speechblobs/internal/config"
	"github.com/MrWong99/speechblobs/pkg/audio"
)

const (
	meterWindow = 250 * time.Millisecond
	meterWidth  = 40
	// meterFullScale is the RMS drawn as a full bar. Speech rarely goes
	// above it.
	meterFullScale = 0.25
)

// ── meter ─────────────────────────────────────────────────────────────────────

func newMeterCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "meter",
		Short: "Show the live microphone level against recorder.volume_threshold",
		Long:  "meter opens the configured capture device and prints the peak level of every quarter second, marking where the speech threshold lies. Use it to pick a volume_threshold for your microphone and room.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfigOrDefault()
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			var closers []io.Closer
			capture, err := create(reg, "capture", cfg.Providers.Capture, reg.CreateCapture, &closers)
			if err != nil {
				return err
			}
			defer func() {
				for _, c := range closers {
					_ = c.Close()
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return runMeter(ctx, cmd.OutOrStdout(), capture, cfg.Recorder)
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "how long to listen; 0 listens until interrupted")
	return cmd
}

// runMeter prints one line per [meterWindow] of captured audio until ctx is
// done or the stream ends.
func runMeter(ctx context.Context, out io.Writer, capture audio.Capture, rc config.RecorderConfig) error {
	stream, err := capture.Open(ctx, audio.Format{SampleRate: rc.SampleRate, Channels: 1}, rc.FrameSamples)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	samples := audio.Sampler(stream.Frames())
	defer func() {
		_ = stream.Close()
		for range samples {
		}
	}()

	fmt.Fprintf(out, "threshold %.3f, ctrl+c to stop\n", rc.VolumeThreshold)

	var (
		windowStart time.Duration
		peak        float64
		pending     bool
	)
	flush := func() {
		if pending {
			fmt.Fprintf(out, "%8s %s\n", windowStart.Round(time.Millisecond), meterLine(peak, rc.VolumeThreshold))
		}
		peak, pending = 0, false
	}
	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case s, ok := <-samples:
			if !ok {
				flush()
				return nil
			}
			if pending && s.Timestamp-windowStart >= meterWindow {
				flush()
			}
			if !pending {
				windowStart, pending = s.Timestamp, true
			}
			peak = max(peak, s.RMS)
		}
	}
}

// meterLine renders rms as a bar with the threshold marked by '|' and a
// verdict using the recorder's strictly-above rule.
func meterLine(rms, threshold float64) string {
	pos := func(v float64) int {
		return min(meterWidth, int(v/meterFullScale*meterWidth))
	}
	bar := []rune(strings.Repeat("█", pos(rms)) + strings.Repeat(" ", meterWidth-pos(rms)))
	if t := pos(threshold); t < meterWidth {
		bar[t] = '|'
	}
	verdict := "quiet"
	if rms > threshold {
		verdict = "speech"
	}
	return fmt.Sprintf("%.3f [%s] %s", rms, string(bar), verdict)
}
