package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	FindBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*Balance, error)
	// ChargeIfAvailable reports whether the conditional increment applied.
	ChargeIfAvailable(ctx context.Context, db *gorm.DB, accountID snowflake.ID, cost int64, now time.Time) (bool, error)
	Refund(ctx context.Context, db *gorm.DB, accountID snowflake.ID, cost int64, now time.Time) (bool, error)
	Credit(ctx context.Context, db *gorm.DB, accountID snowflake.ID, amount int64, now time.Time) (bool, error)
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *TokenTransaction) error
	ListTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID, cursor *pagination.Cursor, limit int) ([]TokenTransaction, error)
}
