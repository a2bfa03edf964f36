package domain

import (
	"context"

	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
)

type Service interface {
	// RunExport charges once, runs every stage and refunds exactly once if a
	// stage fails fatally.
	RunExport(ctx context.Context, account *accountdomain.Account, payload Payload) (Result, error)
	ResendExport(ctx context.Context, account *accountdomain.Account, exportID string) error
	// DownloadExport charges only after the file is known to exist and
	// never refunds.
	DownloadExport(ctx context.Context, account *accountdomain.Account, exportID, filename string) (*File, error)
	ListExports(ctx context.Context, account *accountdomain.Account, req ListRequest) (ListResponse, error)
}
