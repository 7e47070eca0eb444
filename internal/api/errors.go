package api

import (
	"errors"
	"net/http"

	"github.com/MrWong99/speechblobs/internal/credential"
	"github.com/MrWong99/speechblobs/internal/observe"
	"github.com/MrWong99/speechblobs/internal/playback"
	"github.com/MrWong99/speechblobs/internal/recorder"
	"github.com/MrWong99/speechblobs/internal/session"
)

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound), errors.Is(err, playback.ErrOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrNoAudio):
		return http.StatusConflict
	case errors.Is(err, credential.ErrMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, recorder.ErrCaptureAcquisition):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNoArchive):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
