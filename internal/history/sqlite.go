package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	uid        TEXT NOT NULL,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session_id, id);
`

// sqliteStore is the default driver: a single-file pure-Go SQLite database.
type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

func newSQLiteStore(config *storeConfig) (*sqliteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", config.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrStorage, err)
	}
	if config.path == ":memory:" {
		// Every pooled connection to :memory: gets its own empty database;
		// a single connection keeps them all on the same one.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrStorage, err)
	}
	return &sqliteStore{db: db, now: time.Now}, nil
}

func (s *sqliteStore) Append(ctx context.Context, sessionID string, role Role, content string) (Turn, error) {
	if err := validateAppend(sessionID, role, content); err != nil {
		return Turn{}, err
	}

	// The clamp runs inside the INSERT so a wall-clock step backwards can
	// never commit a timestamp below the session's current maximum.
	const q = `
INSERT INTO turns (uid, session_id, role, content, created_at)
VALUES (?, ?, ?, ?, MAX(?, COALESCE((SELECT MAX(created_at) FROM turns WHERE session_id = ?), 0)))
RETURNING created_at;`

	uid := uuid.NewString()
	proposed := s.now().UTC().UnixMilli()

	var committed int64
	err := s.db.QueryRowContext(ctx, q, uid, sessionID, string(role), content, proposed, sessionID).Scan(&committed)
	if err != nil {
		return Turn{}, fmt.Errorf("%w: append: %v", ErrStorage, err)
	}

	return Turn{
		ID:        uid,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.UnixMilli(committed).UTC(),
	}, nil
}

func (s *sqliteStore) List(ctx context.Context, sessionID string) ([]Turn, error) {
	const q = `
SELECT uid, session_id, role, content, created_at
FROM turns
WHERE session_id = ?
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

func (s *sqliteStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?;`, sessionID); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrStorage, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
