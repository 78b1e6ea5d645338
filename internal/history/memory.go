package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore keeps turns in process memory. It exists for tests and for
// deployments that explicitly opt out of durability.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string][]Turn
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[string][]Turn),
		now:      time.Now,
	}
}

func (s *memoryStore) Append(ctx context.Context, sessionID string, role Role, content string) (Turn, error) {
	if err := validateAppend(sessionID, role, content); err != nil {
		return Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now().UTC().Truncate(time.Millisecond)
	turns := s.sessions[sessionID]
	if n := len(turns); n > 0 && at.Before(turns[n-1].CreatedAt) {
		at = turns[n-1].CreatedAt
	}

	turn := Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
	s.sessions[sessionID] = append(turns, turn)
	return turn, nil
}

func (s *memoryStore) List(ctx context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.sessions[sessionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *memoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
