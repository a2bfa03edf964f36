package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Account, error)
	Authenticate(ctx context.Context, username, password string) (*Account, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	SetPassword(ctx context.Context, id snowflake.ID, password string) error
	// EnsureAdmin creates the account if missing and promotes it to admin.
	EnsureAdmin(ctx context.Context, username, password string) (*Account, error)

	AddEmail(ctx context.Context, accountID snowflake.ID, address string) (*AccountEmail, error)
	VerifyEmail(ctx context.Context, accountID snowflake.ID, address, code string) (*AccountEmail, error)
	ListEmails(ctx context.Context, accountID snowflake.ID) ([]AccountEmail, error)
	// ActiveVerifiedEmail returns ErrNoVerifiedEmail when the account has no
	// active verified address.
	ActiveVerifiedEmail(ctx context.Context, accountID snowflake.ID) (string, error)
	FindByVerifiedEmail(ctx context.Context, address string) (*Account, error)
}
