package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for session turn lists.
	turnsKeyPrefix = "chatkeep:turns:"
	// Maximum optimistic-locking retries on concurrent appends.
	maxAppendRetries = 5
)

// turnRecord is the JSON layout of one list entry. The session id lives in
// the key, and the timestamp is stored as unix milliseconds.
type turnRecord struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	At      int64  `json:"at"`
}

// redisStore keeps each session as a list of JSON-encoded turns.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func newRedisStore(config *storeConfig) (*redisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.redisAddr,
		Password: config.redisPassword,
		DB:       config.redisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping redis: %v", ErrStorage, err)
	}
	return &redisStore{client: client, ttl: config.ttl, now: time.Now}, nil
}

func (s *redisStore) Append(ctx context.Context, sessionID string, role Role, content string) (Turn, error) {
	if err := validateAppend(sessionID, role, content); err != nil {
		return Turn{}, err
	}

	key := s.key(sessionID)
	var appended Turn

	// WATCH the session key so the read-clamp-push sequence only commits if
	// no other writer touched the list in between.
	txf := func(tx *redis.Tx) error {
		at := s.now().UTC().Truncate(time.Millisecond)

		last, err := tx.LIndex(ctx, key, -1).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// first turn of the session
		case err != nil:
			return err
		default:
			var prev turnRecord
			if err := json.Unmarshal([]byte(last), &prev); err != nil {
				return fmt.Errorf("decode last turn: %w", err)
			}
			if prevAt := time.UnixMilli(prev.At).UTC(); at.Before(prevAt) {
				at = prevAt
			}
		}

		record := turnRecord{
			ID:      uuid.NewString(),
			Role:    string(role),
			Content: content,
			At:      at.UnixMilli(),
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, payload)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}

		appended = Turn{
			ID:        record.ID,
			SessionID: sessionID,
			Role:      role,
			Content:   content,
			CreatedAt: at,
		}
		return nil
	}

	for i := 0; i < maxAppendRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return appended, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return Turn{}, fmt.Errorf("%w: append: %v", ErrStorage, err)
		}
	}
	return Turn{}, fmt.Errorf("%w: append: session %q contended beyond %d retries", ErrStorage, sessionID, maxAppendRetries)
}

func (s *redisStore) List(ctx context.Context, sessionID string) ([]Turn, error) {
	entries, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStorage, err)
	}

	out := make([]Turn, 0, len(entries))
	for _, entry := range entries {
		var record turnRecord
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			return nil, fmt.Errorf("%w: decode turn: %v", ErrStorage, err)
		}
		out = append(out, Turn{
			ID:        record.ID,
			SessionID: sessionID,
			Role:      Role(record.Role),
			Content:   record.Content,
			CreatedAt: time.UnixMilli(record.At).UTC(),
		})
	}
	return out, nil
}

func (s *redisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrStorage, err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

// key constructs the redis key for a session's turn list.
func (s *redisStore) key(sessionID string) string {
	return turnsKeyPrefix + sessionID
}
