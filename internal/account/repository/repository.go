package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const accountColumns = `id, username, password_hash, role, tokens_total, tokens_used, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Username,
		account.PasswordHash,
		account.Role,
		account.TokensTotal,
		account.TokensUsed,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`,
		username,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) UpdatePassword(ctx context.Context, db *gorm.DB, id snowflake.ID, hash string, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, now, id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *repo) UpdateRole(ctx context.Context, db *gorm.DB, id snowflake.ID, role string, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts SET role = ?, updated_at = ? WHERE id = ?`,
		role, now, id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

const emailColumns = `id, account_id, address, verification_hash, verified_at, is_active, created_at`

func (r *repo) FindEmail(ctx context.Context, db *gorm.DB, accountID snowflake.ID, address string) (*domain.AccountEmail, error) {
	var email domain.AccountEmail
	err := db.WithContext(ctx).Raw(
		`SELECT `+emailColumns+` FROM account_emails WHERE account_id = ? AND address = ?`,
		accountID, address,
	).Scan(&email).Error
	if err != nil {
		return nil, err
	}
	if email.ID == 0 {
		return nil, nil
	}
	return &email, nil
}

func (r *repo) InsertEmail(ctx context.Context, db *gorm.DB, email *domain.AccountEmail) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO account_emails (`+emailColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		email.ID,
		email.AccountID,
		email.Address,
		email.VerificationHash,
		email.VerifiedAt,
		email.IsActive,
		email.CreatedAt,
	).Error
}

func (r *repo) UpdateVerificationHash(ctx context.Context, db *gorm.DB, id snowflake.ID, hash string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE account_emails SET verification_hash = ? WHERE id = ?`,
		hash, id,
	).Error
}

func (r *repo) ListEmails(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.AccountEmail, error) {
	var emails []domain.AccountEmail
	err := db.WithContext(ctx).Raw(
		`SELECT `+emailColumns+` FROM account_emails WHERE account_id = ? ORDER BY created_at ASC, id ASC`,
		accountID,
	).Scan(&emails).Error
	if err != nil {
		return nil, err
	}
	return emails, nil
}

func (r *repo) DeactivateEmails(ctx context.Context, db *gorm.DB, accountID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE account_emails SET is_active = ? WHERE account_id = ? AND is_active = ?`,
		false, accountID, true,
	).Error
}

func (r *repo) ActivateEmail(ctx context.Context, db *gorm.DB, id snowflake.ID, verifiedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE account_emails
		 SET is_active = ?, verified_at = COALESCE(verified_at, ?), verification_hash = ''
		 WHERE id = ?`,
		true, verifiedAt, id,
	).Error
}

func (r *repo) FindActiveVerifiedEmail(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.AccountEmail, error) {
	var email domain.AccountEmail
	err := db.WithContext(ctx).Raw(
		`SELECT `+emailColumns+` FROM account_emails
		 WHERE account_id = ? AND is_active = ? AND verified_at IS NOT NULL
		 ORDER BY verified_at DESC LIMIT 1`,
		accountID, true,
	).Scan(&email).Error
	if err != nil {
		return nil, err
	}
	if email.ID == 0 {
		return nil, nil
	}
	return &email, nil
}

func (r *repo) FindAccountByVerifiedEmail(ctx context.Context, db *gorm.DB, address string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT a.id, a.username, a.password_hash, a.role, a.tokens_total, a.tokens_used, a.created_at, a.updated_at
		 FROM accounts a
		 JOIN account_emails e ON e.account_id = a.id
		 WHERE e.address = ? AND e.is_active = ? AND e.verified_at IS NOT NULL
		 ORDER BY e.verified_at DESC LIMIT 1`,
		address, true,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}
