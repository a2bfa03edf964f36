package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/internal/ledger/domain"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.Balance, error) {
	var row struct {
		ID          snowflake.ID
		TokensTotal int64
		TokensUsed  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT id, tokens_total, tokens_used FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &domain.Balance{AccountID: row.ID, Total: row.TokensTotal, Used: row.TokensUsed}, nil
}

// ChargeIfAvailable is a single conditional UPDATE, so two concurrent
// charges can never both pass the balance check.
func (r *repo) ChargeIfAvailable(ctx context.Context, db *gorm.DB, accountID snowflake.ID, cost int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET tokens_used = tokens_used + ?, updated_at = ?
		 WHERE id = ? AND tokens_used + ? <= tokens_total`,
		cost, now, accountID, cost,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Refund(ctx context.Context, db *gorm.DB, accountID snowflake.ID, cost int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET tokens_used = CASE WHEN tokens_used >= ? THEN tokens_used - ? ELSE 0 END, updated_at = ?
		 WHERE id = ?`,
		cost, cost, now, accountID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Credit(ctx context.Context, db *gorm.DB, accountID snowflake.ID, amount int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts SET tokens_total = tokens_total + ?, updated_at = ? WHERE id = ?`,
		amount, now, accountID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.TokenTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO token_transactions (id, account_id, kind, source, reference, amount, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.AccountID,
		txn.Kind,
		txn.Source,
		txn.Reference,
		txn.Amount,
		txn.Metadata,
		txn.CreatedAt,
	).Error
}

// ListTransactions pages newest first. Snowflake ids are time ordered, so
// the cursor only carries the last id.
func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID, cursor *pagination.Cursor, limit int) ([]domain.TokenTransaction, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.TokenTransaction{}).
		Where("account_id = ?", accountID)
	if cursor != nil && cursor.ID != "" {
		lastID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("id < ?", lastID)
	}

	var txns []domain.TokenTransaction
	if err := stmt.Order("id desc").Limit(limit + 1).Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
