// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/speechblobs/pkg/audio"
	"github.com/MrWong99/speechblobs/pkg/provider/stt"
)

// modelSampleRate is the only rate whisper models accept.
const modelSampleRate = 16000

// ErrNoModel is returned by [NewNative] without a model path.
var ErrNoModel = errors.New("whisper: model path must not be empty")

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO). The model is loaded once and shared; each call gets its own
// inference context.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	// sem bounds concurrent inferences; whisper contexts are memory hungry.
	sem chan struct{}

	closeOnce sync.Once
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeConcurrency caps simultaneous inferences. Defaults to 1.
func WithNativeConcurrency(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, ErrNoModel
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		sem:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.model != nil {
			err = p.model.Close()
		}
	})
	return err
}

// Transcribe implements stt.Provider. The clip is decoded, downmixed and
// resampled to 16 kHz mono before inference.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	samples, err := modelInput(req.Audio)
	if err != nil {
		return stt.Transcript{}, err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return stt.Transcript{}, fmt.Errorf("whisper: wait for inference slot: %w", ctx.Err())
	}
	defer func() { <-p.sem }()

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	text, err := p.infer(samples, lang)
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{Text: text, Language: lang}, nil
}

// modelInput turns a WAV clip into the 16 kHz mono float samples whisper
// expects.
func modelInput(wav []byte) ([]float32, error) {
	if len(wav) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if len(pcm) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	pcm = audio.Downmix16(pcm, format.Channels)
	pcm = audio.ResampleMono16(pcm, format.SampleRate, modelSampleRate)
	return audio.PCM16ToFloat32(pcm), nil
}

func (p *NativeProvider) infer(samples []float32, lang string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
