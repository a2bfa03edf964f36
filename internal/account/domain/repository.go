package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByUsername(ctx context.Context, db *gorm.DB, username string) (*Account, error)
	UpdatePassword(ctx context.Context, db *gorm.DB, id snowflake.ID, hash string, now time.Time) error
	UpdateRole(ctx context.Context, db *gorm.DB, id snowflake.ID, role string, now time.Time) error

	FindEmail(ctx context.Context, db *gorm.DB, accountID snowflake.ID, address string) (*AccountEmail, error)
	InsertEmail(ctx context.Context, db *gorm.DB, email *AccountEmail) error
	UpdateVerificationHash(ctx context.Context, db *gorm.DB, id snowflake.ID, hash string) error
	ListEmails(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]AccountEmail, error)
	DeactivateEmails(ctx context.Context, db *gorm.DB, accountID snowflake.ID) error
	ActivateEmail(ctx context.Context, db *gorm.DB, id snowflake.ID, verifiedAt time.Time) error
	FindActiveVerifiedEmail(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*AccountEmail, error)
	FindAccountByVerifiedEmail(ctx context.Context, db *gorm.DB, address string) (*Account, error)
}
