package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/lobbychat/internal/audit"
	"github.com/Tyrowin/lobbychat/internal/domain"
	"github.com/Tyrowin/lobbychat/internal/logging"
	"github.com/Tyrowin/lobbychat/internal/store"
)

const (
	maxUsernameLen = 64
	// bcrypt ignores input beyond 72 bytes.
	maxPasswordBytes = 72
)

// Service registers users and exchanges credentials for session tokens.
type Service struct {
	users  store.UserStore
	tokens *TokenIssuer
	cost   int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService creates a credential service hashing with the given bcrypt cost.
func NewService(users store.UserStore, tokens *TokenIssuer, cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{users: users, tokens: tokens, cost: cost}
}

// Register creates a user. Returns domain.ErrInvalid for bad input and
// domain.ErrConflict when the username is taken.
func (s *Service) Register(ctx context.Context, username, password string) (*domain.User, error) {
	l := logging.Ctx(ctx)

	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		l.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{Username: username, PasswordHash: string(hash)}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			l.Error().Err(err).Str(logging.FieldUsername, username).Msg("failed to create user")
		}
		return nil, err
	}

	audit.Log(ctx, audit.ActionRegister, user.Username, "user registered")
	return user, nil
}

// Authenticate checks the password and issues a token. Unknown users yield
// domain.ErrNotFound, wrong passwords domain.ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, username, password string) (domain.Token, error) {
	l := logging.Ctx(ctx)

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Token{}, fmt.Errorf("username and password are required: %w", domain.ErrInvalid)
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Same bcrypt cost as a real mismatch.
			_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			audit.LogWithDetail(ctx, audit.ActionLoginFailed, "", username, "login failed: user not found")
			return domain.Token{}, err
		}
		l.Error().Err(err).Msg("failed to get user by username")
		return domain.Token{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		audit.LogWithDetail(ctx, audit.ActionLoginFailed, user.Username, username, "login failed: wrong password")
		return domain.Token{}, fmt.Errorf("password mismatch: %w", domain.ErrUnauthorized)
	}

	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		l.Error().Err(err).Str(logging.FieldUsername, user.Username).Msg("failed to issue token")
		return domain.Token{}, err
	}

	audit.Log(ctx, audit.ActionLogin, user.Username, "user logged in")
	return token, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("lobbychat-dummy-password"), s.cost)
	})
	return s.dummyHash
}

func validateCredentials(username, password string) error {
	switch {
	case username == "":
		return fmt.Errorf("username is required: %w", domain.ErrInvalid)
	case utf8.RuneCountInString(username) > maxUsernameLen:
		return fmt.Errorf("username longer than %d characters: %w", maxUsernameLen, domain.ErrInvalid)
	case password == "":
		return fmt.Errorf("password is required: %w", domain.ErrInvalid)
	case len(password) > maxPasswordBytes:
		return fmt.Errorf("password longer than %d bytes: %w", maxPasswordBytes, domain.ErrInvalid)
	}
	return nil
}
