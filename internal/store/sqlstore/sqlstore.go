// Package sqlstore implements store.Store on GORM. SQLite, PostgreSQL and
// MySQL are supported; PostgreSQL schemas are managed by goose migrations,
// the other drivers by GORM auto-migration.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Tyrowin/lobbychat/internal/config"
	"github.com/Tyrowin/lobbychat/internal/domain"
	"github.com/Tyrowin/lobbychat/internal/logging"
	"github.com/Tyrowin/lobbychat/internal/store/sqlstore/migrations"
)

// Store is a GORM-backed store.Store.
type Store struct {
	db     *gorm.DB
	driver string
	now    func() time.Time
}

// Open connects to the configured database and configures the pool.
// Call Migrate before first use.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.New(postgres.Config{
			DSN:                  cfg.DSN,
			PreferSimpleProtocol: true,
		})
	case config.DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(logging.L()),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		// One writer; avoids "database is locked" under concurrent sends.
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Store{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Migrate brings the schema up to date.
func (s *Store) Migrate(ctx context.Context) error {
	if s.driver != config.DriverPostgres {
		if err := s.db.WithContext(ctx).AutoMigrate(&userModel{}, &messageModel{}); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateUser inserts user, mapping a duplicate username to domain.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	row := userModel{
		ID:           uuid.NewString(),
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		CreatedAt:    s.now(),
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("username %q: %w", user.Username, domain.ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}

	user.ID = row.ID
	user.CreatedAt = row.CreatedAt
	return nil
}

// GetUserByUsername implements store.UserStore.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var row userModel
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("username %q: %w", username, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return row.toDomain(), nil
}

// CreateMessage implements store.MessageStore.
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	scope := msg.Scope
	if scope == "" {
		scope = domain.ScopePublic
	}

	row := messageModel{
		ID:        uuid.NewString(),
		Sender:    msg.Sender,
		Content:   msg.Content,
		Scope:     string(scope),
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	msg.ID = row.ID
	msg.CreatedAt = row.CreatedAt
	msg.Scope = scope
	return nil
}

// ListMessages orders by created_at, then by insertion sequence.
func (s *Store) ListMessages(ctx context.Context, scope domain.Scope) ([]domain.Message, error) {
	var rows []messageModel
	err := s.db.WithContext(ctx).
		Where("scope = ?", string(scope)).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]domain.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// DeleteMessage implements store.MessageStore.
func (s *Store) DeleteMessage(ctx context.Context, id, sender string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND sender = ?", id, sender).
		Delete(&messageModel{})
	if res.Error != nil {
		return false, fmt.Errorf("delete message: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isDuplicate recognises unique violations whether or not the dialect
// translated them.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}

// newGormLogger routes GORM's SQL logging through zerolog. Only slow
// queries and errors are reported.
func newGormLogger(l zerolog.Logger) gormlogger.Interface {
	sub := l.With().Str("component", "gorm").Logger()
	return gormlogger.New(&sub, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
