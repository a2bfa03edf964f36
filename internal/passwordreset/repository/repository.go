package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/internal/passwordreset/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, token *domain.ResetToken) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO password_reset_tokens (id, account_id, token_hash, expires_at, used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		token.ID,
		token.AccountID,
		token.TokenHash,
		token.ExpiresAt,
		token.UsedAt,
		token.CreatedAt,
	).Error
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*domain.ResetToken, error) {
	var token domain.ResetToken
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, token_hash, expires_at, used_at, created_at
		 FROM password_reset_tokens WHERE token_hash = ?`,
		hash,
	).Scan(&token).Error
	if err != nil {
		return nil, err
	}
	if token.ID == 0 {
		return nil, nil
	}
	return &token, nil
}

func (r *repo) Consume(ctx context.Context, db *gorm.DB, hash string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE password_reset_tokens SET used_at = ?
		 WHERE token_hash = ? AND used_at IS NULL AND expires_at > ?`,
		now, hash, now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InvalidateForAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE password_reset_tokens SET used_at = ?
		 WHERE account_id = ? AND used_at IS NULL`,
		now, accountID,
	).Error
}

func (r *repo) PurgeBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM password_reset_tokens WHERE id IN (
			SELECT id FROM password_reset_tokens
			WHERE expires_at < ? OR used_at < ?
			ORDER BY id
			LIMIT ?
		)`,
		cutoff, cutoff, limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
