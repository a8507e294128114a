package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Status tracks a video session through its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Source identifies how a session's media artifact was obtained.
type Source string

const (
	SourceFile Source = "file"
	SourceURL  Source = "url"
)

// VideoSession is one ingested video tracked through analysis and chat.
// ArtifactPath points at the local temporary media file owned by the
// session; it is removed when the session is deleted.
type VideoSession struct {
	ID           string    `json:"id"`
	Source       Source    `json:"source"`
	Origin       string    `json:"origin"` // original filename or URL
	ArtifactPath string    `json:"-"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatTurn is a single message in a session's conversation log.
// Turns are append-only and ordered by creation.
type ChatTurn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
