package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Account owns a token balance. TokensTotal and TokensUsed are mutated
// only through the ledger.
type Account struct {
	ID           snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Username     string       `gorm:"type:varchar(64);not null;uniqueIndex" json:"username"`
	PasswordHash string       `gorm:"type:text;not null" json:"-"`
	Role         string       `gorm:"type:varchar(16);not null;default:member" json:"role"`
	TokensTotal  int64        `gorm:"not null;default:0" json:"tokens_total"`
	TokensUsed   int64        `gorm:"not null;default:0" json:"tokens_used"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

func (a Account) IsAdmin() bool { return a.Role == RoleAdmin }

// AccountEmail is an address attached to an account. At most one verified
// address per account is active at a time.
type AccountEmail struct {
	ID               snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AccountID        snowflake.ID `gorm:"not null;index;uniqueIndex:ux_account_emails_address,priority:1" json:"account_id"`
	Address          string       `gorm:"type:varchar(320);not null;uniqueIndex:ux_account_emails_address,priority:2" json:"address"`
	VerificationHash string       `gorm:"type:varchar(64);not null;default:''" json:"-"`
	VerifiedAt       *time.Time   `json:"verified_at,omitempty"`
	IsActive         bool         `gorm:"not null;default:false" json:"is_active"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
}

func (AccountEmail) TableName() string { return "account_emails" }

func (e AccountEmail) Verified() bool { return e.VerifiedAt != nil }

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
