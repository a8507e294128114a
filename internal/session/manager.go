package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"plugd/internal/storage"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Analyzer is the capability contract for the external multimodal model.
// Implementations are expected to upload the media artifact once and answer
// follow-up questions against the same remote handle.
type Analyzer interface {
	// Summarize runs the one-time analysis pass over the media artifact.
	Summarize(ctx context.Context, mediaPath string) (string, error)
	// Respond answers a question using the ordered conversation history.
	Respond(ctx context.Context, mediaPath string, history []storage.ChatTurn, question string) (string, error)
	// Release drops any remote handle for the artifact. Best-effort.
	Release(ctx context.Context, mediaPath string)
}

// Artifacts releases local media artifacts owned by sessions.
type Artifacts interface {
	Remove(path string) error
}

// Manager coordinates the session state machine on top of the store.
//
// All mutating operations for one session id are serialized through a
// per-session mutex; operations on different sessions run in parallel.
type Manager struct {
	store     *storage.Store
	analyzer  Analyzer
	artifacts Artifacts

	analyzeTimeout time.Duration
	chatTimeout    time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	logger *slog.Logger
}

// NewManager creates a Manager. Timeouts of <= 0 default to 5 minutes for
// analysis and 2 minutes for chat.
func NewManager(store *storage.Store, analyzer Analyzer, artifacts Artifacts, analyzeTimeout, chatTimeout time.Duration) *Manager {
	if analyzeTimeout <= 0 {
		analyzeTimeout = 5 * time.Minute
	}
	if chatTimeout <= 0 {
		chatTimeout = 2 * time.Minute
	}
	return &Manager{
		store:          store,
		analyzer:       analyzer,
		artifacts:      artifacts,
		analyzeTimeout: analyzeTimeout,
		chatTimeout:    chatTimeout,
		locks:          make(map[string]*sync.Mutex),
		logger:         slog.Default(),
	}
}

// lock acquires the mutex for the given session id, creating it on first use.
// The returned func releases it.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *Manager) dropLock(id string) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (storage.VideoSession, error) {
	sess, err := m.store.GetSession(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.VideoSession{}, ErrUnknownSession
	}
	if err != nil {
		return storage.VideoSession{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return sess, nil
}

// List returns all sessions, newest first.
func (m *Manager) List() ([]storage.VideoSession, error) {
	sessions, err := m.store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return sessions, nil
}

// Turns returns the ordered conversation log for a session.
func (m *Manager) Turns(id string) ([]storage.ChatTurn, error) {
	if _, err := m.Get(id); err != nil {
		return nil, err
	}
	turns, err := m.store.ListTurns(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return turns, nil
}

// Analyze runs the one-time analysis pass for a pending session. On success
// the model's summary becomes the first assistant turn and the session moves
// to ready. On any failure the session lands in failed; it never stays in
// processing.
func (m *Manager) Analyze(ctx context.Context, id string) (string, error) {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.Get(id)
	if err != nil {
		return "", err
	}
	if sess.Status != storage.StatusPending {
		return "", fmt.Errorf("%w: analysis requires a pending session, status is %s", ErrSessionNotReady, sess.Status)
	}

	if err := m.store.UpdateSessionStatus(id, storage.StatusProcessing, ""); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.analyzeTimeout)
	defer cancel()

	// Single model call, no retry. Transient failures surface to the caller,
	// who may re-ingest; a failed session stays failed.
	summary, err := m.analyzer.Summarize(callCtx, sess.ArtifactPath)
	if err != nil {
		m.fail(id, err)
		return "", fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	turn := storage.ChatTurn{
		ID:        uuid.New().String(),
		SessionID: id,
		Role:      RoleAssistant,
		Content:   summary,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.AppendTurn(turn); err != nil {
		m.fail(id, err)
		return "", fmt.Errorf("%w: saving summary: %v", ErrStorage, err)
	}

	if err := m.store.UpdateSessionStatus(id, storage.StatusReady, ""); err != nil {
		m.fail(id, err)
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	m.logger.Info("session analyzed", "session_id", id)
	return summary, nil
}

// fail moves a session to the terminal failed state, best-effort.
func (m *Manager) fail(id string, cause error) {
	if err := m.store.UpdateSessionStatus(id, storage.StatusFailed, cause.Error()); err != nil {
		m.logger.Error("marking session failed", "session_id", id, "error", err)
	}
}

// Ask appends the question as a user turn, forwards it with the full ordered
// history to the model, appends the answer as an assistant turn, and returns
// it. The session must be ready.
func (m *Manager) Ask(ctx context.Context, id, question string) (string, error) {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.Get(id)
	if err != nil {
		return "", err
	}
	if sess.Status != storage.StatusReady {
		return "", fmt.Errorf("%w: status is %s", ErrSessionNotReady, sess.Status)
	}

	userTurn := storage.ChatTurn{
		ID:        uuid.New().String(),
		SessionID: id,
		Role:      RoleUser,
		Content:   question,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.AppendTurn(userTurn); err != nil {
		return "", fmt.Errorf("%w: saving question: %v", ErrStorage, err)
	}

	history, err := m.store.ListTurns(id)
	if err != nil {
		return "", fmt.Errorf("%w: loading history: %v", ErrStorage, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.chatTimeout)
	defer cancel()

	answer, err := m.analyzer.Respond(callCtx, sess.ArtifactPath, history, question)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	assistantTurn := storage.ChatTurn{
		ID:        uuid.New().String(),
		SessionID: id,
		Role:      RoleAssistant,
		Content:   answer,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.AppendTurn(assistantTurn); err != nil {
		return "", fmt.Errorf("%w: saving answer: %v", ErrStorage, err)
	}

	return answer, nil
}

// Delete removes the session, its chat turns, its local artifact, and any
// remote model handle. Deleting an unknown id is a no-op.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.store.GetSession(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	m.analyzer.Release(ctx, sess.ArtifactPath)

	if err := m.artifacts.Remove(sess.ArtifactPath); err != nil {
		// The artifact is in ephemeral storage; log and keep going.
		m.logger.Warn("removing artifact", "session_id", id, "path", sess.ArtifactPath, "error", err)
	}

	if err := m.store.DeleteSession(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	m.dropLock(id)
	m.logger.Info("session deleted", "session_id", id)
	return nil
}
