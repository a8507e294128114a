package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding video sessions and their chat turns.
//
// Sessions are ephemeral: Open wipes any rows left over from a previous
// process, because session artifacts live in temporary storage and do not
// survive a restart.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "plugd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	// Chat turns are deleted with their session.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	// Sessions do not persist across restarts; their artifacts are gone.
	if err := s.Reset(); err != nil {
		db.Close()
		return nil, fmt.Errorf("clearing stale sessions: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset deletes all sessions and chat turns.
func (s *Store) Reset() error {
	if _, err := s.db.Exec("DELETE FROM chat_turns"); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM sessions")
	return err
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Sessions ---

func (s *Store) SaveSession(v VideoSession) error {
	status := v.Status
	if status == "" {
		status = StatusPending
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, source, origin, artifact_path, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, string(v.Source), v.Origin, v.ArtifactPath, string(status), v.Error,
		v.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) GetSession(id string) (VideoSession, error) {
	var v VideoSession
	var source, status, createdAt string
	err := s.db.QueryRow(`
		SELECT id, source, origin, artifact_path, status, error, created_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&v.ID, &source, &v.Origin, &v.ArtifactPath, &status, &v.Error, &createdAt)
	if err == sql.ErrNoRows {
		return VideoSession{}, ErrNotFound
	}
	if err != nil {
		return VideoSession{}, err
	}
	v.Source = Source(source)
	v.Status = Status(status)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return VideoSession{}, fmt.Errorf("parsing created_at: %w", err)
	}
	v.CreatedAt = t
	return v, nil
}

func (s *Store) ListSessions() ([]VideoSession, error) {
	rows, err := s.db.Query(`
		SELECT id, source, origin, artifact_path, status, error, created_at
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []VideoSession
	for rows.Next() {
		var v VideoSession
		var source, status, createdAt string
		if err := rows.Scan(&v.ID, &source, &v.Origin, &v.ArtifactPath, &status, &v.Error, &createdAt); err != nil {
			return nil, err
		}
		v.Source = Source(source)
		v.Status = Status(status)
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		v.CreatedAt = t
		results = append(results, v)
	}
	return results, rows.Err()
}

// UpdateSessionStatus transitions a session to the given status. The error
// message is stored alongside a failed status and cleared otherwise.
func (s *Store) UpdateSessionStatus(id string, status Status, errMsg string) error {
	res, err := s.db.Exec(`UPDATE sessions SET status = ?, error = ? WHERE id = ?`,
		string(status), errMsg, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and, via cascade, its chat turns.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Chat turns ---

func (s *Store) AppendTurn(t ChatTurn) error {
	_, err := s.db.Exec(`
		INSERT INTO chat_turns (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Role, t.Content, t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListTurns returns all turns for a session in append order.
func (s *Store) ListTurns(sessionID string) ([]ChatTurn, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, created_at
		FROM chat_turns WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChatTurn
	for rows.Next() {
		var t ChatTurn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &createdAt); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		t.CreatedAt = ts
		results = append(results, t)
	}
	return results, rows.Err()
}

func (s *Store) CountTurns(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chat_turns WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
