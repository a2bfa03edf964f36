package repository

import (
	"context"

	"github.com/smallbiznis/scanledger/internal/payment/domain"
	"github.com/smallbiznis/scanledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, conn *gorm.DB, provider, providerEventID string) (*domain.ProcessedEvent, error) {
	var item domain.ProcessedEvent
	err := conn.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, account_id, event_type, amount_total,
			currency, unit_price, tokens_credited, payload, processed_at
		 FROM processed_payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// InsertEvent relies on the unique (provider, provider_event_id) index so
// that of two concurrent deliveries exactly one inserts.
func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.ProcessedEvent) (bool, error) {
	res := conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
