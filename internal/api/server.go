// Package api exposes a dictation session over HTTP: JSON control endpoints
// for recording, the document and playback, a WAV download per segment, and
// a websocket stream of session events for live UIs.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/speechblobs/internal/document"
	"github.com/MrWong99/speechblobs/internal/health"
	"github.com/MrWong99/speechblobs/internal/observe"
	"github.com/MrWong99/speechblobs/internal/session"
)

// Controller is the session surface the API drives. [*session.Session]
// implements it.
type Controller interface {
	StartRecording(ctx context.Context) error
	Toggle(ctx context.Context) error
	Pause()
	Resume()
	StopRecording()

	Document() session.DocumentView
	Text() string
	Record(id string) (*document.Record, bool)
	Move(from, to int) bool
	Remove(index int) (*document.Record, bool)
	SetCursor(c document.Cursor) document.Cursor
	Save(ctx context.Context) error

	Play(index int) error
	StopPlayback()

	Status() session.Status
	Subscribe(fn func(session.Event)) (unsubscribe func())
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics, typically promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the request middleware and the
// event hub. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEventBuffer sets how many events may queue per websocket client before
// the client is dropped as too slow. The default is 64.
func WithEventBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// Server routes HTTP requests to a [Controller].
type Server struct {
	ctl            Controller
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	eventBuffer    int
	handler        http.Handler
}

// New builds the server and its routes.
func New(ctl Controller, opts ...Option) *Server {
	s := &Server{ctl: ctl, eventBuffer: 64}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/recording/{action}", s.handleRecording)
	mux.HandleFunc("GET /api/document", s.handleDocument)
	mux.HandleFunc("POST /api/document/move", s.handleMove)
	mux.HandleFunc("POST /api/document/save", s.handleSave)
	mux.HandleFunc("DELETE /api/document/{index}", s.handleRemove)
	mux.HandleFunc("PUT /api/cursor", s.handleCursor)
	mux.HandleFunc("POST /api/playback/play/{index}", s.handlePlay)
	mux.HandleFunc("POST /api/playback/stop", s.handleStop)
	mux.HandleFunc("GET /api/segments/{id}/audio", s.handleAudio)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = s.ctl.StartRecording(r.Context())
	case "toggle":
		err = s.ctl.Toggle(r.Context())
	case "pause":
		s.ctl.Pause()
	case "resume":
		s.ctl.Resume()
	case "stop":
		s.ctl.StopRecording()
	default:
		err = fmt.Errorf("%w: unknown recording action %q", errBadRequest, action)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, s.ctl.Document())
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(s.ctl.Text()))
	default:
		writeError(w, r, fmt.Errorf("%w: unknown format %q", errBadRequest, format))
	}
}

type moveRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

type editResponse struct {
	Changed  bool                 `json:"changed"`
	Document session.DocumentView `json:"document"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.From == nil || req.To == nil {
		writeError(w, r, fmt.Errorf("%w: from and to are required", errBadRequest))
		return
	}
	changed := s.ctl.Move(*req.From, *req.To)
	writeJSON(w, http.StatusOK, editResponse{Changed: changed, Document: s.ctl.Document()})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, ok := s.ctl.Remove(index); !ok {
		writeError(w, r, fmt.Errorf("%w: no segment at index %d", errNotFound, index))
		return
	}
	writeJSON(w, http.StatusOK, editResponse{Changed: true, Document: s.ctl.Document()})
}

type cursorRequest struct {
	Index document.Cursor `json:"index"`
}

type cursorResponse struct {
	Cursor document.Cursor `json:"cursor"`
}

func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	var req cursorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cursorResponse{Cursor: s.ctl.SetCursor(req.Index)})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Save(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ctl.Play(index); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.ctl.StopPlayback()
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.ctl.Record(id)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: unknown segment %q", errNotFound, id))
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.WAV)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", id+".wav"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rec.WAV); err != nil {
		slog.Debug("api: audio write aborted", "segment", id, "err", err)
	}
}

// pathIndex parses the {index} path value.
func pathIndex(r *http.Request) (int, error) {
	raw := r.PathValue("index")
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%w: invalid index %q", errBadRequest, raw)
	}
	return i, nil
}

// decodeJSON strictly decodes a request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: encode response", "err", err)
	}
}
