package sqlstore

import (
	"time"

	"github.com/Tyrowin/lobbychat/internal/domain"
)

// userModel is the GORM model for the users table.
type userModel struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (userModel) TableName() string {
	return "users"
}

func (m *userModel) toDomain() *domain.User {
	return &domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

// messageModel is the GORM model for the messages table. Seq is the
// insertion sequence used to break created_at ties.
type messageModel struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	Sender    string    `gorm:"type:varchar(64);index;not null"`
	Content   string    `gorm:"type:text;not null"`
	Scope     string    `gorm:"type:varchar(16);index:idx_messages_scope_created,priority:1;not null"`
	CreatedAt time.Time `gorm:"index:idx_messages_scope_created,priority:2;not null"`
}

func (messageModel) TableName() string {
	return "messages"
}

func (m *messageModel) toDomain() domain.Message {
	return domain.Message{
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC(),
		Scope:     domain.Scope(m.Scope),
	}
}
