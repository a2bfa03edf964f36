package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
)

// Scan is one captured form submission as uploaded by a device. ScanID is
// the device-side identifier and is unique per account.
type Scan struct {
	ID        snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"-"`
	AccountID snowflake.ID `gorm:"not null;uniqueIndex:ux_scans_account_scan,priority:1;index:idx_scans_account_exported,priority:1" json:"-"`
	ScanID    string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_scans_account_scan,priority:2" json:"id"`
	FormID    string       `gorm:"type:varchar(255);not null" json:"form_id"`
	Key       string       `gorm:"column:scan_key;type:varchar(255);not null" json:"key"`
	Data      string       `gorm:"type:text;not null" json:"data"`
	ScannedAt string       `gorm:"type:varchar(64);not null" json:"scanned_at"`
	Exported  bool         `gorm:"not null;default:false;index:idx_scans_account_exported,priority:2" json:"exported"`
	Synced    bool         `gorm:"not null;default:false" json:"synced"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Scan) TableName() string { return "scans" }

// IngestRequest carries the fields a device uploads. FormID, Data and Key
// are required; a missing ID or ScannedAt is filled in by the server.
type IngestRequest struct {
	ID        string
	FormID    string
	Data      string
	Key       string
	ScannedAt string
}

type ListRequest struct {
	pagination.Pagination
	// Exported filters on the exported flag when set.
	Exported *bool `form:"exported"`
}

type ListResponse struct {
	Scans         []Scan `json:"scans"`
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}
