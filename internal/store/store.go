// Package store defines the persistence contracts for users and messages.
// Implementations live in the memory and sqlstore subpackages.
package store

import (
	"context"

	"github.com/Tyrowin/lobbychat/internal/domain"
)

// UserStore holds user identities and password hashes.
type UserStore interface {
	// CreateUser assigns ID and CreatedAt. Returns domain.ErrConflict when the
	// username is taken.
	CreateUser(ctx context.Context, user *domain.User) error
	// GetUserByUsername returns domain.ErrNotFound for unknown usernames.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// MessageStore is the append-only message log.
type MessageStore interface {
	// CreateMessage assigns ID and CreatedAt.
	CreateMessage(ctx context.Context, msg *domain.Message) error
	// ListMessages returns every message of the scope ordered by CreatedAt
	// ascending, insertion order breaking ties.
	ListMessages(ctx context.Context, scope domain.Scope) ([]domain.Message, error)
	// DeleteMessage removes the message only when its sender matches.
	// It reports whether a row was removed.
	DeleteMessage(ctx context.Context, id, sender string) (bool, error)
}

// Store bundles both contracts plus lifecycle.
type Store interface {
	UserStore
	MessageStore
	Close() error
}
