package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service is the only writer of an account's token columns.
type Service interface {
	Balance(ctx context.Context, accountID snowflake.ID) (Balance, error)
	// Charge reserves cost tokens or fails with ErrInsufficientBalance
	// without mutating anything.
	Charge(ctx context.Context, accountID snowflake.ID, cost int64, entry Entry) error
	// Refund reverses a prior charge. Failures are logged, not returned.
	Refund(ctx context.Context, accountID snowflake.ID, cost int64, entry Entry)
	Credit(ctx context.Context, accountID snowflake.ID, amount int64, entry Entry) error
	// CreditTx credits inside a transaction owned by the caller.
	CreditTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, entry Entry) error
	ListTransactions(ctx context.Context, accountID snowflake.ID, req ListTransactionsRequest) (ListTransactionsResponse, error)
}
