package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert returns ErrDuplicateScan when the account already stored ScanID.
	Insert(ctx context.Context, db *gorm.DB, scan *Scan) error
	List(ctx context.Context, db *gorm.DB, accountID snowflake.ID, exported *bool, cursor *pagination.Cursor, limit int) ([]Scan, error)
	// MarkExported flags the account's scans with the given device ids and
	// returns how many changed.
	MarkExported(ctx context.Context, db *gorm.DB, accountID snowflake.ID, scanIDs []string, now time.Time) (int64, error)
}
