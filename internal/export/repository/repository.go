package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/internal/export/domain"
	"github.com/smallbiznis/scanledger/pkg/db"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, set *domain.ArtifactSet) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO export_artifact_sets (
			id, account_id, export_id, minimal_csv, full_csv, payload_json,
			row_count, email_sent, form_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		set.ID,
		set.AccountID,
		set.ExportID,
		set.MinimalCSV,
		set.FullCSV,
		set.PayloadJSON,
		set.RowCount,
		set.EmailSent,
		set.FormID,
		set.CreatedAt,
		set.UpdatedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateExportID
	}
	return err
}

func (r *repo) FindByExportID(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, exportID string) (*domain.ArtifactSet, error) {
	var set domain.ArtifactSet
	err := conn.WithContext(ctx).Raw(
		`SELECT id, account_id, export_id, minimal_csv, full_csv, payload_json,
			row_count, email_sent, form_id, created_at, updated_at
		 FROM export_artifact_sets WHERE account_id = ? AND export_id = ?`,
		accountID, exportID,
	).Scan(&set).Error
	if err != nil {
		return nil, err
	}
	if set.ID == 0 {
		return nil, nil
	}
	return &set, nil
}

func (r *repo) MarkEmailSent(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE export_artifact_sets SET email_sent = ?, updated_at = ? WHERE id = ?`,
		true, now, id,
	).Error
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, cursor *pagination.Cursor, limit int) ([]domain.ArtifactSet, error) {
	stmt := conn.WithContext(ctx).
		Model(&domain.ArtifactSet{}).
		Where("account_id = ?", accountID)
	if cursor != nil && cursor.ID != "" {
		lastID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("id < ?", lastID)
	}

	var sets []domain.ArtifactSet
	if err := stmt.Order("id desc").Limit(limit + 1).Find(&sets).Error; err != nil {
		return nil, err
	}
	return sets, nil
}
