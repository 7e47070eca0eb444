package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/speechblobs/pkg/provider/stt"
	"github.com/MrWong99/speechblobs/pkg/provider/stt/openai"
)

// fakeWAV is enough for the SDK to upload; the fake server never parses it.
var fakeWAV = []byte("RIFF\x00\x00\x00\x00WAVEfmt ")

type seenRequest struct {
	auth     string
	model    string
	language string
}

func newTranscriptionServer(t *testing.T, status int, body any, calls *atomic.Int32, seen *seenRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/audio/transcriptions" {
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
			return
		}
		calls.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err == nil && seen != nil {
			seen.auth = r.Header.Get("Authorization")
			seen.model = r.FormValue("model")
			seen.language = r.FormValue("language")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestTranscribe_Success(t *testing.T) {
	var calls atomic.Int32
	var seen seenRequest
	srv := newTranscriptionServer(t, http.StatusOK, map[string]string{"text": " hello there "}, &calls, &seen)
	defer srv.Close()

	p := openai.New(openai.WithBaseURL(srv.URL+"/v1/"), openai.WithLanguage("en"))
	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: fakeWAV, Credential: "sk-first"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello there" {
		t.Errorf("Text = %q, want %q", tr.Text, "hello there")
	}
	if seen.auth != "Bearer sk-first" {
		t.Errorf("Authorization = %q", seen.auth)
	}
	if seen.model != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", seen.model)
	}
	if seen.language != "en" {
		t.Errorf("language = %q, want en", seen.language)
	}
}

func TestTranscribe_CredentialReadPerRequest(t *testing.T) {
	var calls atomic.Int32
	var seen seenRequest
	srv := newTranscriptionServer(t, http.StatusOK, map[string]string{"text": "ok"}, &calls, &seen)
	defer srv.Close()

	p := openai.New(openai.WithBaseURL(srv.URL + "/v1/"))
	for _, key := range []string{"sk-one", "sk-two"} {
		if _, err := p.Transcribe(context.Background(), stt.Request{Audio: fakeWAV, Credential: key}); err != nil {
			t.Fatalf("Transcribe(%s): %v", key, err)
		}
		if seen.auth != "Bearer "+key {
			t.Errorf("Authorization = %q, want Bearer %s", seen.auth, key)
		}
	}
}

func TestTranscribe_Unauthorized_NoRetry(t *testing.T) {
	var calls atomic.Int32
	body := map[string]any{"error": map[string]string{"message": "Incorrect API key", "type": "invalid_request_error"}}
	srv := newTranscriptionServer(t, http.StatusUnauthorized, body, &calls, nil)
	defer srv.Close()

	p := openai.New(openai.WithBaseURL(srv.URL + "/v1/"))
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: fakeWAV, Credential: "sk-bad"})
	if !errors.Is(err, stt.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want exactly 1", calls.Load())
	}
}

func TestTranscribe_ServerError_NoRetry(t *testing.T) {
	var calls atomic.Int32
	body := map[string]any{"error": map[string]string{"message": "overloaded"}}
	srv := newTranscriptionServer(t, http.StatusServiceUnavailable, body, &calls, nil)
	defer srv.Close()

	p := openai.New(openai.WithBaseURL(srv.URL + "/v1/"))
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: fakeWAV, Credential: "sk-x"})
	if err == nil {
		t.Fatal("expected error for HTTP 503")
	}
	if errors.Is(err, stt.ErrUnauthorized) {
		t.Error("503 must not be reported as a credential problem")
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want exactly 1", calls.Load())
	}
}

func TestTranscribe_Validation(t *testing.T) {
	p := openai.New(openai.WithBaseURL("http://127.0.0.1:1/"))
	if _, err := p.Transcribe(context.Background(), stt.Request{Credential: "sk-x"}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("empty audio: err = %v", err)
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: fakeWAV}); !errors.Is(err, stt.ErrUnauthorized) {
		t.Errorf("empty credential: err = %v", err)
	}
}
