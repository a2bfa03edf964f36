package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// RequestReset mails a reset link to the active verified address of the
	// account named by identifier (username or verified email). Unknown
	// identifiers are not reported to the caller.
	RequestReset(ctx context.Context, identifier string) error
	// Issue creates a token for the account and returns the raw secret.
	Issue(ctx context.Context, accountID snowflake.ID) (string, time.Time, error)
	// Reset consumes the token and replaces the account password.
	Reset(ctx context.Context, rawToken, newPassword string) error
}
