// Package checkpoint persists interview sessions to SQLite so a run can be
// interrupted and resumed later. The full session is stored as a JSON blob;
// a few columns are lifted out for listing and filtering.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/astoria-ai/interview-conductor/internal/session"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no checkpoint exists for a session ID.
var ErrNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	candidate  TEXT NOT NULL,
	phase      TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	state      BLOB NOT NULL
);
`

// Meta is the listing view of a checkpoint.
type Meta struct {
	ID        string
	Candidate string
	Phase     session.Phase
	StartedAt time.Time
	UpdatedAt time.Time
}

// Store provides SQLite-backed session checkpoints.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (and if needed bootstraps) a checkpoint store at the given path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	// The driver applies pragmas passed as _pragma query parameters on
	// every new connection.
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save upserts the session checkpoint.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	state, err := sess.Encode()
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
		INSERT INTO sessions (id, candidate, phase, started_at, updated_at, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			candidate  = excluded.candidate,
			phase      = excluded.phase,
			updated_at = excluded.updated_at,
			state      = excluded.state`,
		sess.ID,
		sess.Candidate,
		string(sess.Resume),
		toMillis(sess.StartedAt),
		toMillis(time.Now()),
		state,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// Load restores a session by ID.
func (s *Store) Load(ctx context.Context, id string) (*session.Session, error) {
	var state []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE id = ?`, id,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	sess, err := session.Decode(state)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess, nil
}

// List returns checkpoint metadata, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, candidate, phase, started_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var (
			m         Meta
			phase     string
			startedAt int64
			updatedAt int64
		)
		if err := rows.Scan(&m.ID, &m.Candidate, &phase, &startedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		m.Phase = session.Phase(phase)
		m.StartedAt = fromMillis(startedAt)
		m.UpdatedAt = fromMillis(updatedAt)
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return metas, nil
}

// Delete removes a checkpoint. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
