package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"plugd/internal/session"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeSessionError maps session-layer sentinels onto HTTP status codes and
// stable error type strings.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidMedia):
		httpError(w, http.StatusBadRequest, "invalid_media", "%v", err)
	case errors.Is(err, session.ErrUnsupportedSource):
		httpError(w, http.StatusBadRequest, "unsupported_source", "%v", err)
	case errors.Is(err, session.ErrSizeExceeded):
		httpError(w, http.StatusRequestEntityTooLarge, "size_exceeded", "%v", err)
	case errors.Is(err, session.ErrDownloadFailed):
		httpError(w, http.StatusBadGateway, "download_failed", "%v", err)
	case errors.Is(err, session.ErrAnalysisFailed):
		httpError(w, http.StatusBadGateway, "analysis_failed", "%v", err)
	case errors.Is(err, session.ErrSessionNotReady):
		httpError(w, http.StatusBadRequest, "session_not_ready", "%v", err)
	case errors.Is(err, session.ErrUnknownSession):
		httpError(w, http.StatusNotFound, "unknown_session", "%v", err)
	case errors.Is(err, session.ErrStorage):
		httpError(w, http.StatusInternalServerError, "storage_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
	}
}
