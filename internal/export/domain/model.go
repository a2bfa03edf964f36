package domain

import (
	"encoding/json"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
)

// ArtifactSet records one completed export. Only EmailSent changes after
// creation.
type ArtifactSet struct {
	ID          snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AccountID   snowflake.ID `gorm:"not null;uniqueIndex:ux_export_artifact_sets_account_export,priority:1" json:"account_id"`
	ExportID    string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_export_artifact_sets_account_export,priority:2" json:"export_id"`
	MinimalCSV  string       `gorm:"type:varchar(255);not null" json:"minimal_csv"`
	FullCSV     string       `gorm:"type:varchar(255);not null" json:"full_csv"`
	PayloadJSON string       `gorm:"type:varchar(255);not null" json:"payload_json"`
	RowCount    int          `gorm:"not null;default:0" json:"row_count"`
	EmailSent   bool         `gorm:"not null;default:false" json:"email_sent"`
	FormID      *string      `gorm:"type:varchar(255)" json:"form_id,omitempty"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (ArtifactSet) TableName() string { return "export_artifact_sets" }

// Has reports whether name is one of the set's three files.
func (a ArtifactSet) Has(name string) bool {
	return name != "" && (name == a.MinimalCSV || name == a.FullCSV || name == a.PayloadJSON)
}

// Payload is an export request. Raw holds the request body verbatim.
type Payload struct {
	ExportID string `json:"exportId"`
	Headers  string `json:"headers"`
	Rows     []Row  `json:"rows"`
	Raw      []byte `json:"-"`
}

// Row carries one scan. Data is either a JSON object or a string that
// contains one. ID, FormID and ScannedAt are strings or numbers.
type Row struct {
	ID        any             `json:"id,omitempty"`
	FormID    any             `json:"form_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	ScannedAt any             `json:"scanned_at,omitempty"`
}

type Result struct {
	ExportID    string `json:"export_id"`
	MinimalCSV  string `json:"minimal_csv"`
	FullCSV     string `json:"full_csv"`
	PayloadJSON string `json:"payload_json"`
	EmailSent   bool   `json:"email_sent"`
	RowCount    int    `json:"row_count"`
	SkippedRows int    `json:"skipped_rows"`
}

// File is an opened artifact. The caller closes Content.
type File struct {
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
	Content     io.ReadSeekCloser
}

type ListRequest struct {
	pagination.Pagination
}

type ListResponse struct {
	Exports       []ArtifactSet `json:"exports"`
	NextPageToken string        `json:"next_page_token,omitempty"`
	HasMore       bool          `json:"has_more"`
}

// Names are the deterministic file names of an export.
type Names struct {
	MinimalCSV  string
	FullCSV     string
	PayloadJSON string
}

func NamesFor(exportID string) Names {
	stem := "export_" + exportID
	return Names{
		MinimalCSV:  stem + "_minimal.csv",
		FullCSV:     stem + "_full.csv",
		PayloadJSON: stem + ".json",
	}
}
