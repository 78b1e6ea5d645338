package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id         BIGINT AUTO_INCREMENT PRIMARY KEY,
	uid        VARCHAR(36) NOT NULL,
	session_id VARCHAR(255) NOT NULL,
	role       VARCHAR(16) NOT NULL,
	content    TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	INDEX idx_turns_session (session_id, id)
);`

// Maximum retries when InnoDB rolls an append back as a deadlock victim.
const maxDeadlockRetries = 5

type mysqlStore struct {
	db  *sql.DB
	now func() time.Time
}

func newMySQLStore(config *storeConfig) (*mysqlStore, error) {
	if config.dsn == "" {
		return nil, fmt.Errorf("%w: mysql driver requires a DSN", ErrInvalidArgument)
	}
	db, err := sql.Open("mysql", config.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open mysql: %v", ErrStorage, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping mysql: %v", ErrStorage, err)
	}
	if _, err := db.Exec(mysqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrStorage, err)
	}
	return &mysqlStore{db: db, now: time.Now}, nil
}

func (s *mysqlStore) Append(ctx context.Context, sessionID string, role Role, content string) (Turn, error) {
	if err := validateAppend(sessionID, role, content); err != nil {
		return Turn{}, err
	}

	uid := uuid.NewString()

	// Two raced first appends to an empty session both take the index gap
	// lock in the clamp read and then deadlock on insert; InnoDB rolls one
	// back with error 1213. The victim lost nothing, so it runs the
	// transaction again.
	for attempt := 0; attempt < maxDeadlockRetries; attempt++ {
		at, err := s.appendTx(ctx, sessionID, role, content, uid)
		if err == nil {
			return Turn{
				ID:        uid,
				SessionID: sessionID,
				Role:      role,
				Content:   content,
				CreatedAt: time.UnixMilli(at).UTC(),
			}, nil
		}
		if !isDeadlock(err) {
			return Turn{}, fmt.Errorf("%w: append: %v", ErrStorage, err)
		}
	}
	return Turn{}, fmt.Errorf("%w: append: session %q deadlocked beyond %d retries", ErrStorage, sessionID, maxDeadlockRetries)
}

// appendTx runs one append transaction: clamp read, insert, commit. Errors
// come back with the driver's chain intact so Append can pick out deadlock
// rollbacks.
func (s *mysqlStore) appendTx(ctx context.Context, sessionID string, role Role, content, uid string) (int64, error) {
	at := s.now().UTC().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Locking read of the session's newest turn: the clamp and the insert
	// commit together, and once the session has rows the record lock
	// serializes its appends.
	var last int64
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT 1 FOR UPDATE`,
		sessionID).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first turn of the session
	case err != nil:
		return 0, fmt.Errorf("read session clock: %w", err)
	case last > at:
		at = last
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (uid, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		uid, sessionID, string(role), content, at); err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return at, nil
}

// isDeadlock reports whether err is MySQL error 1213, the rollback InnoDB
// hands the losing transaction of a deadlock.
func isDeadlock(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1213
}

func (s *mysqlStore) List(ctx context.Context, sessionID string) ([]Turn, error) {
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

func (s *mysqlStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrStorage, err)
	}
	return nil
}

func (s *mysqlStore) Close() error {
	return s.db.Close()
}
