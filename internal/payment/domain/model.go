package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ProcessedEvent marks a provider event as applied. It is written in the
// same transaction as the credit and never changes afterwards.
type ProcessedEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider        string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_processed_payment_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_processed_payment_event"`
	AccountID       snowflake.ID   `json:"account_id" gorm:"not null;index"`
	EventType       string         `json:"event_type" gorm:"type:varchar(64);not null"`
	AmountTotal     int64          `json:"amount_total" gorm:"not null"`
	Currency        string         `json:"currency" gorm:"type:varchar(8);not null"`
	UnitPrice       int64          `json:"unit_price" gorm:"not null"`
	TokensCredited  int64          `json:"tokens_credited" gorm:"not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ProcessedAt     time.Time      `json:"processed_at" gorm:"not null"`
}

func (ProcessedEvent) TableName() string { return "processed_payment_events" }

const (
	ProviderStripe = "stripe"

	EventTypeCheckoutCompleted = "checkout.session.completed"

	MetadataAccountID = "account_id"
	MetadataUnitPrice = "unit_price"
)

// Event is a verified provider notification reduced to what crediting needs.
type Event struct {
	Provider      string
	ID            string
	Type          string
	AmountTotal   int64
	Currency      string
	CustomerEmail string
	Metadata      map[string]string
	Raw           []byte
}

// Outcome is the acknowledged result of a webhook delivery. Every outcome
// is final: the provider must not retry.
type Outcome string

const (
	OutcomeCredited       Outcome = "credited"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeUnknownAccount Outcome = "unknown_account"
)
