package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/clock"
	"github.com/smallbiznis/scanledger/internal/config"
	"github.com/smallbiznis/scanledger/internal/export/domain"
	"github.com/smallbiznis/scanledger/internal/export/storage"
	ledgerdomain "github.com/smallbiznis/scanledger/internal/ledger/domain"
	obslogger "github.com/smallbiznis/scanledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/scanledger/internal/observability/metrics"
	"github.com/smallbiznis/scanledger/internal/providers/email"
	scandomain "github.com/smallbiznis/scanledger/internal/scan/domain"
	"github.com/smallbiznis/scanledger/internal/tokenmetrics"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Pricing    *config.PricingConfigHolder
	Repo       domain.Repository
	Ledger     ledgerdomain.Service
	Accounts   accountdomain.Service
	Storage    *storage.Storage
	Sender     email.Sender
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
	Recorder   tokenmetrics.Recorder `optional:"true"`
	Scans      scandomain.Service    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	limits     config.ExportConfig
	pricing    *config.PricingConfigHolder
	repo       domain.Repository
	ledger     ledgerdomain.Service
	accounts   accountdomain.Service
	storage    *storage.Storage
	sender     email.Sender
	obsMetrics *obsmetrics.Metrics
	recorder   tokenmetrics.Recorder
	scans      scandomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("export.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		limits:     p.Config.Export,
		pricing:    p.Pricing,
		repo:       p.Repo,
		ledger:     p.Ledger,
		accounts:   p.Accounts,
		storage:    p.Storage,
		sender:     p.Sender,
		obsMetrics: p.ObsMetrics,
		recorder:   tokenmetrics.OrNop(p.Recorder),
		scans:      p.Scans,
	}
}

func (s *Service) RunExport(ctx context.Context, account *accountdomain.Account, payload domain.Payload) (domain.Result, error) {
	start := s.clock.Now()
	log := obslogger.WithContext(ctx, s.log).With(zap.String("account_id", account.ID.String()))

	cost := s.pricing.Get().ExportCost
	entry := ledgerdomain.Entry{Source: ledgerdomain.SourceExport, Reference: strings.TrimSpace(payload.ExportID)}
	if err := s.charge(ctx, account.ID, cost, entry); err != nil {
		s.observe(ctx, "export", outcomeOf(err), start)
		return domain.Result{}, err
	}

	run := &exportRun{account: account, payload: payload}
	for _, stage := range s.pipeline() {
		serr := stage(ctx, run)
		if serr == nil {
			continue
		}
		entry.Reference = run.exportID
		s.ledger.Refund(ctx, account.ID, cost, entry)
		if run.claimed {
			if err := s.storage.Remove(account.ID, run.names.PayloadJSON, run.names.MinimalCSV, run.names.FullCSV); err != nil {
				log.Warn("remove failed export files", zap.String("export_id", run.exportID), zap.Error(err))
			}
		}
		log.Warn("export failed",
			zap.String("export_id", run.exportID),
			zap.String("stage", string(serr.Stage)),
			zap.String("kind", serr.Kind.String()),
			zap.Error(serr.Err),
		)
		s.observe(ctx, "export", serr.Kind.String(), start)
		return domain.Result{}, serr
	}

	s.markScansExported(ctx, run)

	outcome := "success"
	if !run.emailSent {
		outcome = "partial"
	}
	s.observe(ctx, "export", outcome, start)
	log.Info("export completed",
		zap.String("export_id", run.exportID),
		zap.Int("rows", len(run.records)),
		zap.Int("skipped_rows", run.skipped),
		zap.Bool("email_sent", run.emailSent),
	)

	return domain.Result{
		ExportID:    run.exportID,
		MinimalCSV:  run.names.MinimalCSV,
		FullCSV:     run.names.FullCSV,
		PayloadJSON: run.names.PayloadJSON,
		EmailSent:   run.emailSent,
		RowCount:    len(run.records),
		SkippedRows: run.skipped,
	}, nil
}

func (s *Service) ResendExport(ctx context.Context, account *accountdomain.Account, exportID string) error {
	start := s.clock.Now()
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("account_id", account.ID.String()),
		zap.String("export_id", exportID),
	)

	set, err := s.findSet(ctx, account.ID, exportID)
	if err != nil {
		s.observe(ctx, "resend", outcomeOf(err), start)
		return err
	}
	to, err := s.verifiedAddress(ctx, account.ID)
	if errors.Is(err, domain.ErrNoVerifiedEmail) {
		log.Warn("resend without verified email")
		s.observe(ctx, "resend", domain.KindDependency.String(), start)
		return domain.Dependency(domain.StageNotify, "no verified email address on file", err)
	}
	if err != nil {
		s.observe(ctx, "resend", outcomeOf(err), start)
		return err
	}

	cost := s.pricing.Get().ExportCost
	entry := ledgerdomain.Entry{Source: ledgerdomain.SourceResend, Reference: set.ExportID}
	if err := s.charge(ctx, account.ID, cost, entry); err != nil {
		s.observe(ctx, "resend", outcomeOf(err), start)
		return err
	}

	minimal, err := s.storage.Read(account.ID, set.MinimalCSV)
	var full []byte
	if err == nil {
		full, err = s.storage.Read(account.ID, set.FullCSV)
	}
	if err != nil {
		s.ledger.Refund(ctx, account.ID, cost, entry)
		if errors.Is(err, storage.ErrFileMissing) {
			log.Warn("resend artifacts missing")
			s.observe(ctx, "resend", "not_found", start)
			return domain.ErrNotFound
		}
		log.Error("resend read failed", zap.Error(err))
		s.observe(ctx, "resend", domain.KindPersistence.String(), start)
		return domain.Persistence(domain.StageNotify, err)
	}

	if err := s.sendArtifacts(ctx, account, to, set.ExportID, set.RowCount, set.MinimalCSV, minimal, set.FullCSV, full); err != nil {
		s.ledger.Refund(ctx, account.ID, cost, entry)
		log.Warn("resend delivery failed", zap.Error(err))
		s.observe(ctx, "resend", domain.KindDependency.String(), start)
		return domain.Dependency(domain.StageNotify, "email delivery failed", fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err))
	}

	if !set.EmailSent {
		if err := s.repo.MarkEmailSent(ctx, s.db, set.ID, s.clock.Now()); err != nil {
			log.Warn("mark email sent failed", zap.Error(err))
		}
	}
	s.observe(ctx, "resend", "success", start)
	return nil
}

func (s *Service) DownloadExport(ctx context.Context, account *accountdomain.Account, exportID, filename string) (*domain.File, error) {
	start := s.clock.Now()

	set, err := s.findSet(ctx, account.ID, exportID)
	if err != nil {
		s.observe(ctx, "download", outcomeOf(err), start)
		return nil, err
	}
	name, err := storage.SafeName(filename)
	if err != nil || !set.Has(name) {
		s.observe(ctx, "download", "not_found", start)
		return nil, domain.ErrNotFound
	}

	info, err := s.storage.Stat(account.ID, name)
	if err != nil {
		if errors.Is(err, storage.ErrFileMissing) {
			s.observe(ctx, "download", "not_found", start)
			return nil, domain.ErrNotFound
		}
		s.observe(ctx, "download", domain.KindPersistence.String(), start)
		return nil, domain.Persistence(domain.StageRecord, err)
	}

	entry := ledgerdomain.Entry{
		Source:    ledgerdomain.SourceDownload,
		Reference: set.ExportID,
		Metadata:  map[string]any{"filename": name},
	}
	if err := s.charge(ctx, account.ID, s.pricing.Get().DownloadCost, entry); err != nil {
		s.observe(ctx, "download", outcomeOf(err), start)
		return nil, err
	}

	// Charged for access: transfer failures from here on are not refunded.
	f, err := s.storage.Open(account.ID, name)
	if err != nil {
		obslogger.WithContext(ctx, s.log).Error("open artifact after charge failed",
			zap.String("export_id", set.ExportID),
			zap.String("filename", name),
			zap.Error(err),
		)
		s.observe(ctx, "download", domain.KindPersistence.String(), start)
		return nil, domain.Persistence(domain.StageRecord, err)
	}

	s.observe(ctx, "download", "success", start)
	return &domain.File{
		Name:        name,
		ContentType: contentType(name),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Content:     f,
	}, nil
}

func (s *Service) ListExports(ctx context.Context, account *accountdomain.Account, req domain.ListRequest) (domain.ListResponse, error) {
	var cursor *pagination.Cursor
	if req.PageToken != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, err
		}
		cursor = decoded
	}

	limit := req.Limit()
	sets, err := s.repo.List(ctx, s.db, account.ID, cursor, limit)
	if err != nil {
		return domain.ListResponse{}, err
	}
	page, info, err := pagination.Trim(sets, limit, func(a domain.ArtifactSet) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(int64(a.ID), 10)}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	if page == nil {
		page = []domain.ArtifactSet{}
	}
	return domain.ListResponse{Exports: page, NextPageToken: info.NextPageToken, HasMore: info.HasMore}, nil
}

// markScansExported flags stored scans whose ids appear in the export. The
// export has already succeeded, so a failure here is only logged.
func (s *Service) markScansExported(ctx context.Context, run *exportRun) {
	if s.scans == nil || len(run.rowIDs) == 0 {
		return
	}
	n, err := s.scans.MarkExported(ctx, run.account.ID, run.rowIDs)
	log := obslogger.WithContext(ctx, s.log)
	if err != nil {
		log.Warn("mark scans exported failed", zap.String("export_id", run.exportID), zap.Error(err))
		return
	}
	if n > 0 {
		log.Debug("scans marked exported", zap.String("export_id", run.exportID), zap.Int64("scans", n))
	}
}

func (s *Service) charge(ctx context.Context, accountID snowflake.ID, cost int64, entry ledgerdomain.Entry) error {
	err := s.ledger.Charge(ctx, accountID, cost, entry)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return domain.ErrInsufficientBalance
	default:
		return fmt.Errorf("charge %s: %w", entry.Source, err)
	}
}

func (s *Service) findSet(ctx context.Context, accountID snowflake.ID, exportID string) (*domain.ArtifactSet, error) {
	exportID = strings.TrimSpace(exportID)
	if !exportIDPattern.MatchString(exportID) {
		return nil, domain.ErrNotFound
	}
	set, err := s.repo.FindByExportID(ctx, s.db, accountID, exportID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, domain.ErrNotFound
	}
	return set, nil
}

func (s *Service) verifiedAddress(ctx context.Context, accountID snowflake.ID) (string, error) {
	to, err := s.accounts.ActiveVerifiedEmail(ctx, accountID)
	if errors.Is(err, accountdomain.ErrNoVerifiedEmail) {
		return "", domain.ErrNoVerifiedEmail
	}
	return to, err
}

func (s *Service) sendArtifacts(ctx context.Context, account *accountdomain.Account, to, exportID string, rows int, minimalName string, minimal []byte, fullName string, full []byte) error {
	body, err := email.Render(email.TemplateExportReady, map[string]any{
		"Username":   account.Username,
		"ExportID":   exportID,
		"RowCount":   rows,
		"MinimalCSV": minimalName,
		"FullCSV":    fullName,
	})
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, email.Message{
		To:       []string{to},
		Subject:  "Your export " + exportID + " is ready",
		HTMLBody: body,
		Attachments: []email.Attachment{
			{Filename: minimalName, ContentType: "text/csv", Data: minimal},
			{Filename: fullName, ContentType: "text/csv", Data: full},
		},
	})
}

func (s *Service) observe(ctx context.Context, operation, outcome string, start time.Time) {
	s.recorder.RecordExport(operation, outcome)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordExport(ctx, operation, outcome, s.clock.Now().Sub(start))
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNoVerifiedEmail):
		return "no_verified_email"
	default:
		return "error"
	}
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
