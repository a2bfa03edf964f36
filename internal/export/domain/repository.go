package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, set *ArtifactSet) error
	FindByExportID(ctx context.Context, db *gorm.DB, accountID snowflake.ID, exportID string) (*ArtifactSet, error)
	MarkEmailSent(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	List(ctx context.Context, db *gorm.DB, accountID snowflake.ID, cursor *pagination.Cursor, limit int) ([]ArtifactSet, error)
}
