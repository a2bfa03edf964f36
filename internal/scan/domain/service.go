package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Ingest(ctx context.Context, accountID snowflake.ID, req IngestRequest) (*Scan, error)
	List(ctx context.Context, accountID snowflake.ID, req ListRequest) (ListResponse, error)
	MarkExported(ctx context.Context, accountID snowflake.ID, scanIDs []string) (int64, error)
}
