// Package history persists conversation turns keyed by an opaque session id.
//
// A Store is a constructed value with no package-level state; schema and
// keyspace initialization happen in the constructor with create-if-not-exists
// semantics so concurrently starting instances can race safely. Every driver
// assigns turn ids and timestamps server-side: timestamps are UTC, millisecond
// precision, and clamped so they never decrease within a session, with
// insertion order breaking ties.
package history

import (
	"context"
	"fmt"
	"time"
)

// Store is the durable conversation log.
//
// Append persists one turn and returns it with the server-assigned id and
// timestamp. List returns a session's turns oldest first; an unknown session
// yields an empty result, not an error. Clear removes every turn of a session
// and is idempotent. Reads observe the caller's own completed writes.
type Store interface {
	Append(ctx context.Context, sessionID string, role Role, content string) (Turn, error)
	List(ctx context.Context, sessionID string) ([]Turn, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}

// Driver selects a Store implementation.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverRedis    Driver = "redis"
	DriverMemory   Driver = "memory"
)

// storeConfig holds driver settings collected from options.
type storeConfig struct {
	path          string
	dsn           string
	redisAddr     string
	redisPassword string
	redisDB       int
	ttl           time.Duration
}

// StoreOption is a functional option for NewStore.
type StoreOption func(*storeConfig)

// WithPath sets the database file path for the sqlite driver.
func WithPath(path string) StoreOption {
	return func(c *storeConfig) {
		if path != "" {
			c.path = path
		}
	}
}

// WithDSN sets the connection string for the postgres and mysql drivers.
func WithDSN(dsn string) StoreOption {
	return func(c *storeConfig) {
		if dsn != "" {
			c.dsn = dsn
		}
	}
}

// WithRedisAddr sets the host:port of the redis server.
func WithRedisAddr(addr string) StoreOption {
	return func(c *storeConfig) {
		if addr != "" {
			c.redisAddr = addr
		}
	}
}

// WithRedisPassword sets the redis AUTH password.
func WithRedisPassword(password string) StoreOption {
	return func(c *storeConfig) {
		c.redisPassword = password
	}
}

// WithRedisDB selects the redis logical database.
func WithRedisDB(db int) StoreOption {
	return func(c *storeConfig) {
		c.redisDB = db
	}
}

// WithTTL sets an expiry on redis session keys. Zero (the default) keeps
// sessions until they are cleared.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// NewStore creates a Store backed by the given driver. An empty driver name
// selects sqlite.
func NewStore(driver Driver, opts ...StoreOption) (Store, error) {
	config := &storeConfig{
		path:      "chatkeep.db",
		redisAddr: "localhost:6379",
	}
	for _, opt := range opts {
		opt(config)
	}

	switch driver {
	case DriverSQLite, "":
		return newSQLiteStore(config)
	case DriverPostgres:
		return newPostgresStore(config)
	case DriverMySQL:
		return newMySQLStore(config)
	case DriverRedis:
		return newRedisStore(config)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnknownDriver
	}
}

// validateAppend enforces the append preconditions shared by all drivers.
func validateAppend(sessionID string, role Role, content string) error {
	switch {
	case sessionID == "":
		return fmt.Errorf("%w: empty session id", ErrInvalidArgument)
	case content == "":
		return fmt.Errorf("%w: empty content", ErrInvalidArgument)
	case !role.Valid():
		return fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, role)
	}
	return nil
}
