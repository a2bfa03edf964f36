package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *ResetToken) error
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*ResetToken, error)
	// Consume marks the token used when it is unused and unexpired at now.
	// It reports whether this call consumed it.
	Consume(ctx context.Context, db *gorm.DB, hash string, now time.Time) (bool, error)
	InvalidateForAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) error
	// PurgeBefore deletes up to limit tokens that expired or were used
	// before cutoff and returns how many were removed.
	PurgeBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)
}
