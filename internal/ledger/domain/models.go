package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"gorm.io/datatypes"
)

// TransactionKind is the direction of a balance mutation.
type TransactionKind string

const (
	KindCharge TransactionKind = "charge"
	KindRefund TransactionKind = "refund"
	KindCredit TransactionKind = "credit"
)

// SourceType names the operation that caused a mutation.
type SourceType string

const (
	SourceExport     SourceType = "export"
	SourceResend     SourceType = "resend"
	SourceDownload   SourceType = "download"
	SourcePayment    SourceType = "payment"
	SourceAdminGrant SourceType = "admin_grant"
)

// Entry describes why a mutation happens. Reference is the export id or
// provider event id it belongs to.
type Entry struct {
	Source    SourceType
	Reference string
	Metadata  map[string]any
}

// Balance is a snapshot of an account's token columns.
type Balance struct {
	AccountID snowflake.ID `json:"account_id"`
	Total     int64        `json:"tokens_total"`
	Used      int64        `json:"tokens_used"`
}

// Left is the spendable balance. It is never negative.
func (b Balance) Left() int64 {
	return TokensLeft(b.Total, b.Used)
}

// TokensLeft returns max(total-used, 0). Rows where used exceeds total are
// treated as fully spent.
func TokensLeft(total, used int64) int64 {
	if used >= total {
		return 0
	}
	return total - used
}

// TokenTransaction is one row of the append-only ledger journal.
type TokenTransaction struct {
	ID        snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AccountID snowflake.ID      `gorm:"not null;index:ix_token_transactions_account_created,priority:1" json:"account_id"`
	Kind      TransactionKind   `gorm:"type:varchar(16);not null" json:"kind"`
	Source    SourceType        `gorm:"type:varchar(32);not null" json:"source"`
	Reference string            `gorm:"type:varchar(255);not null;default:''" json:"reference,omitempty"`
	Amount    int64             `gorm:"not null" json:"amount"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null;index:ix_token_transactions_account_created,priority:2" json:"created_at"`
}

func (TokenTransaction) TableName() string { return "token_transactions" }

type ListTransactionsRequest struct {
	pagination.Pagination
}

type ListTransactionsResponse struct {
	Transactions  []TokenTransaction `json:"transactions"`
	NextPageToken string             `json:"next_page_token,omitempty"`
	HasMore       bool               `json:"has_more"`
}
