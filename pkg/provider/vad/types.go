package vad

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Level is the measured loudness of the frame on the engine's scale.
	Level float64
}

// IsSpeech reports whether the frame was classified as speech.
func (e VADEvent) IsSpeech() bool { return e.Type == VADSpeech }

// VADEventType enumerates VAD detection results.
type VADEventType int

const (
	// VADSilence indicates the frame is at or below the speech threshold.
	VADSilence VADEventType = iota

	// VADSpeech indicates the frame is above the speech threshold.
	VADSpeech
)

// String returns the lowercase name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSpeech:
		return "speech"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
