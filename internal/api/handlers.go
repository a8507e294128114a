package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"plugd/internal/session"
	"plugd/internal/storage"
)

const maxJSONBodySize = 1 << 20 // 1MB

// Deps holds dependencies for the HTTP API.
type Deps struct {
	Manager        *session.Manager
	Ingestor       Ingestor
	MaxUploadBytes int64
	UI             http.Handler // optional; mounted at / when non-nil
}

// Ingestor abstracts media intake for the API layer.
type Ingestor interface {
	IngestFile(ctx context.Context, r io.Reader, filename string) (storage.VideoSession, error)
	IngestURL(ctx context.Context, rawURL string) (storage.VideoSession, error)
}

// NewHandler returns the http.Handler serving the video session API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/videos", handleUpload(deps))
	r.Post("/videos/url", handleUploadURL(deps))
	r.Get("/videos", handleListSessions(deps))
	r.Get("/videos/{id}", handleGetSession(deps))
	r.Post("/videos/{id}/analyze", handleAnalyze(deps))
	r.Post("/videos/{id}/chat", handleChat(deps))
	r.Delete("/videos/{id}", handleDelete(deps))

	if deps.UI != nil {
		r.Handle("/", deps.UI)
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type sessionResponse struct {
	ID        string         `json:"id"`
	Source    storage.Source `json:"source"`
	Origin    string         `json:"origin"`
	Status    storage.Status `json:"status"`
	Error     string         `json:"error,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func toSessionResponse(s storage.VideoSession) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		Source:    s.Source,
		Origin:    s.Origin,
		Status:    s.Status,
		Error:     s.Error,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Multipart overhead on top of the media cap.
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+maxJSONBodySize)

		file, header, err := r.FormFile("video")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeSessionError(w, fmt.Errorf("%w: request body exceeds %d byte limit", session.ErrSizeExceeded, deps.MaxUploadBytes))
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field %q is required: %v", "video", err)
			return
		}
		defer file.Close()

		sess, err := deps.Ingestor.IngestFile(r.Context(), file, header.Filename)
		if err != nil {
			writeSessionError(w, err)
			return
		}

		sessionsCreated.WithLabelValues(string(sess.Source)).Inc()
		ingestBytesTotal.Add(float64(header.Size))
		writeJSON(w, http.StatusCreated, toSessionResponse(sess))
	}
}

func handleUploadURL(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		sess, err := deps.Ingestor.IngestURL(r.Context(), req.URL)
		if err != nil {
			writeSessionError(w, err)
			return
		}

		sessionsCreated.WithLabelValues(string(sess.Source)).Inc()
		writeJSON(w, http.StatusCreated, toSessionResponse(sess))
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := deps.Manager.List()
		if err != nil {
			writeSessionError(w, err)
			return
		}

		out := make([]sessionResponse, len(sessions))
		for i, s := range sessions {
			out[i] = toSessionResponse(s)
		}
		writeJSON(w, http.StatusOK, map[string]any{"videos": out})
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sess, err := deps.Manager.Get(id)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		turns, err := deps.Manager.Turns(id)
		if err != nil {
			writeSessionError(w, err)
			return
		}

		type turnResponse struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			CreatedAt string `json:"created_at"`
		}
		out := make([]turnResponse, len(turns))
		for i, t := range turns {
			out[i] = turnResponse{
				Role:      t.Role,
				Content:   t.Content,
				CreatedAt: t.CreatedAt.Format(time.RFC3339),
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"video": toSessionResponse(sess),
			"turns": out,
		})
	}
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		summary, err := deps.Manager.Analyze(r.Context(), id)
		if err != nil {
			// Only count attempts that reached the model; unknown or
			// non-pending sessions are caller errors, not analysis outcomes.
			if errors.Is(err, session.ErrAnalysisFailed) {
				analysesTotal.WithLabelValues("failure").Inc()
			}
			writeSessionError(w, err)
			return
		}
		analysesTotal.WithLabelValues("success").Inc()

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"status":  storage.StatusReady,
			"summary": summary,
		})
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		var req struct {
			Question string `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		answer, err := deps.Manager.Ask(r.Context(), id, req.Question)
		if err != nil {
			writeSessionError(w, err)
			return
		}

		chatTurnsTotal.Add(2)
		writeJSON(w, http.StatusOK, map[string]any{"answer": answer})
	}
}

func handleDelete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := deps.Manager.Delete(r.Context(), id); err != nil {
			writeSessionError(w, err)
			return
		}

		sessionsDeleted.Inc()
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
