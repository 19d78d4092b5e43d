// Package history serves the public message log and owner-scoped deletion,
// and is the write path the hub persists messages through.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Tyrowin/lobbychat/internal/audit"
	"github.com/Tyrowin/lobbychat/internal/cache"
	"github.com/Tyrowin/lobbychat/internal/domain"
	"github.com/Tyrowin/lobbychat/internal/logging"
	"github.com/Tyrowin/lobbychat/internal/store"
)

const (
	publicKey = "public"

	// DefaultFetchTimeout bounds a shared history fetch, which outlives the
	// request that started it.
	DefaultFetchTimeout = 10 * time.Second
)

// Service reads the public history through an optional cache and persists
// or removes messages, invalidating the cache on every change.
type Service struct {
	messages     store.MessageStore
	cache        cache.HistoryCache // nil disables caching
	cacheTTL     time.Duration
	fetchTimeout time.Duration

	sf singleflight.Group

	// mu orders cache fills against invalidations. generation is bumped on
	// every write so a read that raced a write never refills stale data.
	mu         sync.Mutex
	generation uint64
}

// NewService builds a history service. historyCache may be nil.
func NewService(messages store.MessageStore, historyCache cache.HistoryCache, cacheTTL time.Duration) *Service {
	return &Service{
		messages:     messages,
		cache:        historyCache,
		cacheTTL:     cacheTTL,
		fetchTimeout: DefaultFetchTimeout,
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func (s *Service) WithFetchTimeout(d time.Duration) *Service {
	if d > 0 {
		s.fetchTimeout = d
	}
	return s
}

// ListPublic returns every public message ordered by creation time.
// Concurrent callers share one fetch; a caller giving up does not cancel it
// for the others.
func (s *Service) ListPublic(ctx context.Context) ([]domain.Message, error) {
	if s.cache == nil {
		return s.load(ctx)
	}

	ch := s.sf.DoChan(publicKey, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.fetchWithCache(fetchCtx)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	messages, ok := res.Val.([]domain.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	// Callers sharing a singleflight result must not alias one slice.
	out := make([]domain.Message, len(messages))
	copy(out, messages)
	return out, nil
}

func (s *Service) fetchWithCache(ctx context.Context) ([]domain.Message, error) {
	cached, err := s.cache.Get(ctx)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Msg("cache get error")
	}

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	messages, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		if err := s.cache.Set(ctx, messages, s.cacheTTL); err != nil {
			l := logging.Ctx(ctx)
			l.Warn().Err(err).Msg("cache set error")
		}
	}
	return messages, nil
}

func (s *Service) load(ctx context.Context) ([]domain.Message, error) {
	messages, err := s.messages.ListMessages(ctx, domain.ScopePublic)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// CreateMessage persists msg, filling ID and CreatedAt.
func (s *Service) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Delete removes the message when requester is its sender. A missing id or
// a foreign message is not an error.
func (s *Service) Delete(ctx context.Context, id, requester string) error {
	removed, err := s.messages.DeleteMessage(ctx, id, requester)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if !removed {
		l := logging.Ctx(ctx)
		l.Debug().
			Str(logging.FieldMessageID, id).
			Str(logging.FieldUsername, requester).
			Msg("delete matched no message")
		return nil
	}

	s.invalidate(ctx)
	audit.LogWithDetail(ctx, audit.ActionMessageDeleted, requester, id, "message deleted")
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if err := s.cache.Invalidate(ctx); err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Msg("cache invalidate error")
	}
}
