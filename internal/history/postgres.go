package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id         BIGSERIAL PRIMARY KEY,
	uid        TEXT NOT NULL,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session_id, id);
`

type postgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func newPostgresStore(config *storeConfig) (*postgresStore, error) {
	if config.dsn == "" {
		return nil, fmt.Errorf("%w: postgres driver requires a DSN", ErrInvalidArgument)
	}
	db, err := sql.Open("postgres", config.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", ErrStorage, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", ErrStorage, err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrStorage, err)
	}
	return &postgresStore{db: db, now: time.Now}, nil
}

func (s *postgresStore) Append(ctx context.Context, sessionID string, role Role, content string) (Turn, error) {
	if err := validateAppend(sessionID, role, content); err != nil {
		return Turn{}, err
	}

	uid := uuid.NewString()
	proposed := s.now().UTC().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Turn{}, fmt.Errorf("%w: begin append: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	// Serialize appends per session; under READ COMMITTED two concurrent
	// inserts could otherwise commit timestamps out of insertion order.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID); err != nil {
		return Turn{}, fmt.Errorf("%w: lock session: %v", ErrStorage, err)
	}

	const q = `
INSERT INTO turns (uid, session_id, role, content, created_at)
VALUES ($1, $2, $3, $4, GREATEST($5, COALESCE((SELECT MAX(created_at) FROM turns WHERE session_id = $2), 0)))
RETURNING created_at;`

	var committed int64
	if err := tx.QueryRowContext(ctx, q, uid, sessionID, string(role), content, proposed).Scan(&committed); err != nil {
		return Turn{}, fmt.Errorf("%w: append: %v", ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return Turn{}, fmt.Errorf("%w: commit append: %v", ErrStorage, err)
	}

	return Turn{
		ID:        uid,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.UnixMilli(committed).UTC(),
	}, nil
}

func (s *postgresStore) List(ctx context.Context, sessionID string) ([]Turn, error) {
	const q = `
SELECT uid, session_id, role, content, created_at
FROM turns
WHERE session_id = $1
ORDER BY id ASC;`

	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var at int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &at); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %v", ErrStorage, err)
		}
		t.CreatedAt = time.UnixMilli(at).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStorage, err)
	}
	return out, nil
}

func (s *postgresStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = $1;`, sessionID); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrStorage, err)
	}
	return nil
}

func (s *postgresStore) Close() error {
	return s.db.Close()
}
