// Package memory is an in-process store used by tests and by the "memory"
// database driver. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/lobbychat/internal/domain"
)

// Store implements store.Store with maps guarded by a single mutex.
type Store struct {
	mu       sync.RWMutex
	users    map[string]domain.User // username -> user
	messages []domain.Message       // insertion order
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users: make(map[string]domain.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// CreateUser implements store.UserStore.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("username %q: %w", user.Username, domain.ErrConflict)
	}

	user.ID = uuid.NewString()
	user.CreatedAt = s.now()
	s.users[user.Username] = *user
	return nil
}

// GetUserByUsername implements store.UserStore.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("username %q: %w", username, domain.ErrNotFound)
	}
	return &user, nil
}

// CreateMessage implements store.MessageStore.
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now()
	if msg.Scope == "" {
		msg.Scope = domain.ScopePublic
	}
	s.messages = append(s.messages, *msg)
	return nil
}

// ListMessages implements store.MessageStore.
func (s *Store) ListMessages(ctx context.Context, scope domain.Scope) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Scope == scope {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteMessage implements store.MessageStore.
func (s *Store) DeleteMessage(ctx context.Context, id, sender string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.messages {
		if m.ID == id && m.Sender == sender {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
