// Package session holds video session state and serializes all mutation
// per session id. It owns the error taxonomy surfaced by the HTTP API.
package session

import "errors"

var (
	// ErrInvalidMedia means the upload failed validation (extension or size).
	ErrInvalidMedia = errors.New("invalid media")

	// ErrUnsupportedSource means the URL host is not on the platform allow-list.
	ErrUnsupportedSource = errors.New("unsupported source")

	// ErrDownloadFailed means the external downloader exhausted its retries.
	ErrDownloadFailed = errors.New("download failed")

	// ErrSizeExceeded means a fetched artifact is over the configured cap.
	ErrSizeExceeded = errors.New("size exceeded")

	// ErrAnalysisFailed means the external model call failed or timed out.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrSessionNotReady means the operation needs a different session status.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrUnknownSession means no session exists with the given id.
	ErrUnknownSession = errors.New("unknown session")

	// ErrStorage means a local resource failure (disk, database).
	ErrStorage = errors.New("storage error")
)
