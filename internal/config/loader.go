package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/speechblobs/internal/credential"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted, in order, when providers.stt.api_key is
// empty.
const (
	EnvAPIKey       = "SPEECHBLOBS_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"openai", "whisper", "whisper-native"},
	"vad":      {"energy"},
	"capture":  {"malgo"},
	"playback": {"beep", "timed"},
}

// keylessSTT lists STT providers that run without an API credential.
var keylessSTT = []string{"whisper", "whisper-native"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults. Explicit values
// are left untouched.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Recorder.VolumeThreshold == 0 {
		cfg.Recorder.VolumeThreshold = 0.01
	}
	if cfg.Recorder.SilenceDuration == 0 {
		cfg.Recorder.SilenceDuration = 1500 * time.Millisecond
	}
	if cfg.Recorder.SampleRate == 0 {
		cfg.Recorder.SampleRate = 16000
	}
	if cfg.Recorder.FrameSamples == 0 {
		cfg.Recorder.FrameSamples = 512
	}
	if cfg.Transcription.MaxInFlight == 0 {
		cfg.Transcription.MaxInFlight = 4
	}
	if cfg.Transcription.Timeout == 0 {
		cfg.Transcription.Timeout = 60 * time.Second
	}
	if cfg.Transcription.CircuitBreaker.MaxFailures > 0 && cfg.Transcription.CircuitBreaker.ResetTimeout == 0 {
		cfg.Transcription.CircuitBreaker.ResetTimeout = 30 * time.Second
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = "openai"
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Providers.Capture.Name == "" {
		cfg.Providers.Capture.Name = "malgo"
	}
	if cfg.Providers.Playback.Name == "" {
		cfg.Providers.Playback.Name = "beep"
	}
	if cfg.Archive.DocumentID == "" {
		cfg.Archive.DocumentID = "default"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "speechblobs"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.NotificationTTL < 0 {
		errs = append(errs, fmt.Errorf("server.notification_ttl %s must not be negative", cfg.Server.NotificationTTL))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Recorder
	if t := cfg.Recorder.VolumeThreshold; t < 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("recorder.volume_threshold %.4f is out of range [0, 1)", t))
	}
	if cfg.Recorder.SilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("recorder.silence_duration %s must not be negative", cfg.Recorder.SilenceDuration))
	}
	if r := cfg.Recorder.SampleRate; r != 0 && (r < 8000 || r > 192000) {
		errs = append(errs, fmt.Errorf("recorder.sample_rate %d is out of range [8000, 192000]", r))
	}
	if cfg.Recorder.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("recorder.frame_samples %d must not be negative", cfg.Recorder.FrameSamples))
	}

	// Transcription
	if cfg.Transcription.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("transcription.max_in_flight %d must not be negative", cfg.Transcription.MaxInFlight))
	}
	if cfg.Transcription.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout %s must not be negative", cfg.Transcription.Timeout))
	}
	if cfg.Transcription.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("transcription.circuit_breaker.max_failures %d must not be negative", cfg.Transcription.CircuitBreaker.MaxFailures))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("playback", cfg.Providers.Playback.Name)

	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.BaseURL == "" {
		errs = append(errs, errors.New("providers.stt.base_url is required for the whisper provider"))
	}
	if cfg.Providers.STT.Name == "whisper-native" && cfg.Providers.STT.Model == "" {
		errs = append(errs, errors.New("providers.stt.model must name a ggml model file for the whisper-native provider"))
	}

	// Credential availability
	if NeedsCredential(cfg) {
		key := Credential(cfg)
		switch {
		case key == "":
			slog.Warn("no API key configured; recording is refused until one is set",
				"config", "providers.stt.api_key",
				"env", []string{EnvAPIKey, EnvOpenAIAPIKey},
			)
		case cfg.Providers.STT.Name == "openai" && cfg.Providers.STT.BaseURL == "" && !credential.LooksLikeOpenAIKey(key):
			slog.Warn("API key does not look like an OpenAI key", "provider", cfg.Providers.STT.Name)
		}
	}

	// Archive availability
	if cfg.Archive.PostgresDSN == "" {
		slog.Debug("archive.postgres_dsn is empty; documents will not be archived")
	}

	return errors.Join(errs...)
}

// NeedsCredential reports whether the configured STT provider requires an
// API credential.
func NeedsCredential(cfg *Config) bool {
	return !slices.Contains(keylessSTT, cfg.Providers.STT.Name)
}

// Credential resolves the STT credential: providers.stt.api_key first, then
// the SPEECHBLOBS_API_KEY and OPENAI_API_KEY environment variables.
func Credential(cfg *Config) string {
	if cfg.Providers.STT.APIKey != "" {
		return cfg.Providers.STT.APIKey
	}
	for _, env := range []string{EnvAPIKey, EnvOpenAIAPIKey} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
