package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultPollInterval is how often [Watcher.Run] stats the config file.
const DefaultPollInterval = 5 * time.Second

// fingerprint identifies one revision of the config file. The mtime lets a
// poll skip reading the file; the digest filters out touches that leave the
// content alone.
type fingerprint struct {
	mtime  time.Time
	digest [sha256.Size]byte
}

// Watcher tracks a config file and hands each new valid revision to a
// callback. Invalid revisions are logged and skipped so the last valid
// config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reloadMu serialises polls with explicit reloads.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    fingerprint
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultPollInterval]. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a watcher primed with it. Nothing
// is polled until [Watcher.Run] is called.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultPollInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, fp
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.apply(false); err != nil {
				slog.Warn("config: reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file regardless of its modification time and reports
// whether a changed, valid revision was applied.
func (w *Watcher) Reload() (bool, error) {
	return w.apply(true)
}

func (w *Watcher) apply(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		w.mu.Lock()
		same := info.ModTime().Equal(w.seen.mtime)
		w.mu.Unlock()
		if same {
			return false, nil
		}
	}

	cfg, fp, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if fp.digest == w.seen.digest {
		w.seen.mtime = fp.mtime
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.seen = cfg, fp
	w.mu.Unlock()

	slog.Info("config: applied new revision", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{mtime: info.ModTime(), digest: sha256.Sum256(data)}, nil
}
