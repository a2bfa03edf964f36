package service

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/internal/clock"
	obslogger "github.com/smallbiznis/scanledger/internal/observability/logger"
	"github.com/smallbiznis/scanledger/internal/scan/domain"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var scanIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("scan.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Ingest(ctx context.Context, accountID snowflake.ID, req domain.IngestRequest) (*domain.Scan, error) {
	formID := strings.TrimSpace(req.FormID)
	key := strings.TrimSpace(req.Key)
	if formID == "" || key == "" || strings.TrimSpace(req.Data) == "" {
		return nil, domain.ErrMissingFields
	}

	id := s.genID.Generate()
	scanID := strings.TrimSpace(req.ID)
	if scanID == "" {
		scanID = id.String()
	}
	if !scanIDPattern.MatchString(scanID) {
		return nil, domain.ErrInvalidScanID
	}

	now := s.clock.Now()
	scannedAt := strings.TrimSpace(req.ScannedAt)
	if scannedAt == "" {
		scannedAt = now.UTC().Format(time.RFC3339)
	}

	scan := &domain.Scan{
		ID:        id,
		AccountID: accountID,
		ScanID:    scanID,
		FormID:    formID,
		Key:       key,
		Data:      req.Data,
		ScannedAt: scannedAt,
		Synced:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, scan); err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("scan stored",
		zap.String("account_id", accountID.String()),
		zap.String("scan_id", scanID),
		zap.String("form_id", formID),
	)
	return scan, nil
}

func (s *Service) List(ctx context.Context, accountID snowflake.ID, req domain.ListRequest) (domain.ListResponse, error) {
	var cursor *pagination.Cursor
	if req.PageToken != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, err
		}
		cursor = decoded
	}

	limit := req.Limit()
	scans, err := s.repo.List(ctx, s.db, accountID, req.Exported, cursor, limit)
	if err != nil {
		return domain.ListResponse{}, err
	}
	page, info, err := pagination.Trim(scans, limit, func(sc domain.Scan) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(int64(sc.ID), 10)}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	if page == nil {
		page = []domain.Scan{}
	}
	return domain.ListResponse{Scans: page, NextPageToken: info.NextPageToken, HasMore: info.HasMore}, nil
}

// MarkExported ignores blank ids and ids the account never stored.
func (s *Service) MarkExported(ctx context.Context, accountID snowflake.ID, scanIDs []string) (int64, error) {
	ids := make([]string, 0, len(scanIDs))
	seen := make(map[string]struct{}, len(scanIDs))
	for _, id := range scanIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return s.repo.MarkExported(ctx, s.db, accountID, ids, s.clock.Now())
}
