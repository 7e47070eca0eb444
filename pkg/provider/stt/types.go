package stt

import "time"

// Request is one utterance submitted for transcription.
type Request struct {
	// Audio is a complete RIFF/WAVE clip.
	Audio []byte

	// Credential authenticates the call for backends that need one. It is
	// read per request so that key rotation applies without restarting.
	Credential string

	// Language is an optional ISO-639-1 hint (e.g., "en"). Empty lets the
	// backend detect the language.
	Language string

	// Prompt is optional context that biases recognition, such as the text
	// of the preceding segment.
	Prompt string
}

// Transcript is the result of a successful transcription.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// Language is the language the backend reports, when available.
	Language string

	// Duration is the backend's measure of the audio length, when available.
	Duration time.Duration
}
