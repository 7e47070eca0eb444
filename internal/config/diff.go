package config

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes get their own flag; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CredentialChanged is set when the resolved STT credential differs. The
	// value itself is never carried in the diff.
	CredentialChanged bool

	// RecorderChanged is set when the threshold or silence window changed.
	RecorderChanged bool

	// RestartRequired names config sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CredentialChanged && !d.RecorderChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if Credential(old) != Credential(new) {
		d.CredentialChanged = true
	}

	if old.Recorder.VolumeThreshold != new.Recorder.VolumeThreshold ||
		old.Recorder.SilenceDuration != new.Recorder.SilenceDuration {
		d.RecorderChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) ||
		old.Server.NotificationTTL != new.Server.NotificationTTL {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Recorder.SampleRate != new.Recorder.SampleRate || old.Recorder.FrameSamples != new.Recorder.FrameSamples {
		d.RestartRequired = append(d.RestartRequired, "recorder")
	}
	if old.Transcription != new.Transcription {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if !sameEntry(old.Providers.STT, new.Providers.STT) || !sameEntry(old.Providers.VAD, new.Providers.VAD) ||
		!sameEntry(old.Providers.Capture, new.Providers.Capture) || !sameEntry(old.Providers.Playback, new.Providers.Playback) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameEntry compares provider entries ignoring the API key, which is
// reported through CredentialChanged. Options are compared by their
// formatted YAML values.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !sameValue(av, bv) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !sameValue(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !sameValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
