// Package cache keeps a copy of the public message history in Redis so
// history reads do not hit the database on every request.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Tyrowin/lobbychat/internal/domain"
)

// ErrCacheMiss is returned by Get when nothing is cached.
var ErrCacheMiss = errors.New("cache miss")

// HistoryCache stores the full public history as one entry.
type HistoryCache interface {
	Get(ctx context.Context) ([]domain.Message, error)
	Set(ctx context.Context, messages []domain.Message, ttl time.Duration) error
	Invalidate(ctx context.Context) error
	Close() error
}
