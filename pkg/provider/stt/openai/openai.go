// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint (whisper-1 and newer transcription models).
//
// The API key travels with each [stt.Request], so a provider built once keeps
// working when the key changes at runtime.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/speechblobs/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = oai.AudioModelWhisper1

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
	lang   string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
	client   *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel selects the transcription model (default whisper-1).
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets the default language hint used when a request has none.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. Takes precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.client = hc
	}
}

// New constructs a new OpenAI STT Provider.
func New(opts ...Option) *Provider {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		// Per-request keys override this; it keeps the SDK from falling back
		// to OPENAI_API_KEY on its own.
		option.WithAPIKey(""),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.client != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.client))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	model := oai.AudioModel(cfg.model)
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, lang: cfg.language}
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	if req.Credential == "" {
		return stt.Transcript{}, fmt.Errorf("openai: %w: empty API key", stt.ErrUnauthorized)
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(req.Audio), "audio.wav", "audio/wav"),
		Model: p.model,
	}
	lang := req.Language
	if lang == "" {
		lang = p.lang
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, params, option.WithAPIKey(req.Credential))
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return stt.Transcript{}, fmt.Errorf("openai: transcribe: %w: %w", stt.ErrUnauthorized, err)
		}
		return stt.Transcript{}, fmt.Errorf("openai: transcribe: %w", err)
	}
	return stt.Transcript{Text: strings.TrimSpace(res.Text)}, nil
}

var _ stt.Provider = (*Provider)(nil)
