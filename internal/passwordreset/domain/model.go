package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ResetToken is a single-use credential. Only the sha256 digest of the
// secret is stored.
type ResetToken struct {
	ID        snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	AccountID snowflake.ID `gorm:"not null;index"`
	TokenHash string       `gorm:"type:varchar(64);not null;uniqueIndex"`
	ExpiresAt time.Time    `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

func (ResetToken) TableName() string { return "password_reset_tokens" }

// Valid reports whether the token can still be consumed at now.
func (t ResetToken) Valid(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
