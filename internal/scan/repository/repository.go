package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/internal/scan/domain"
	"github.com/smallbiznis/scanledger/pkg/db"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, scan *domain.Scan) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO scans (
			id, account_id, scan_id, form_id, scan_key, data, scanned_at,
			exported, synced, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ID,
		scan.AccountID,
		scan.ScanID,
		scan.FormID,
		scan.Key,
		scan.Data,
		scan.ScannedAt,
		scan.Exported,
		scan.Synced,
		scan.CreatedAt,
		scan.UpdatedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateScan
	}
	return err
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, exported *bool, cursor *pagination.Cursor, limit int) ([]domain.Scan, error) {
	stmt := conn.WithContext(ctx).
		Model(&domain.Scan{}).
		Where("account_id = ?", accountID)
	if exported != nil {
		stmt = stmt.Where("exported = ?", *exported)
	}
	if cursor != nil && cursor.ID != "" {
		lastID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("id < ?", lastID)
	}

	var scans []domain.Scan
	if err := stmt.Order("id desc").Limit(limit + 1).Find(&scans).Error; err != nil {
		return nil, err
	}
	return scans, nil
}

func (r *repo) MarkExported(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, scanIDs []string, now time.Time) (int64, error) {
	if len(scanIDs) == 0 {
		return 0, nil
	}
	res := conn.WithContext(ctx).Exec(
		`UPDATE scans SET exported = ?, updated_at = ?
		 WHERE account_id = ? AND exported = ? AND scan_id IN ?`,
		true, now, accountID, false, scanIDs,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
