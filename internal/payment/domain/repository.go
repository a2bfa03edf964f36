package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*ProcessedEvent, error)
	// InsertEvent reports false when the (provider, event id) pair already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *ProcessedEvent) (bool, error)
}
