package service

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/scanledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/scanledger/internal/observability/metrics"
	"github.com/smallbiznis/scanledger/internal/tokenmetrics"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
	Recorder   tokenmetrics.Recorder `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
	recorder   tokenmetrics.Recorder
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
		recorder:   tokenmetrics.OrNop(p.Recorder),
	}
}

func (s *Service) Balance(ctx context.Context, accountID snowflake.ID) (ledgerdomain.Balance, error) {
	balance, err := s.repo.FindBalance(ctx, s.db, accountID)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}
	if balance == nil {
		return ledgerdomain.Balance{}, ledgerdomain.ErrAccountNotFound
	}
	return *balance, nil
}

func (s *Service) Charge(ctx context.Context, accountID snowflake.ID, cost int64, entry ledgerdomain.Entry) error {
	if cost <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	if entry.Source == "" {
		return ledgerdomain.ErrInvalidSource
	}

	now := s.clock.Now()
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.ChargeIfAvailable(ctx, tx, accountID, cost, now)
		if err != nil || !ok {
			return err
		}
		applied = true
		return s.journal(ctx, tx, accountID, ledgerdomain.KindCharge, cost, entry, now)
	})
	if err != nil {
		s.record(ctx, ledgerdomain.KindCharge, entry.Source, tokenmetrics.OutcomeFailed, cost)
		return err
	}

	if !applied {
		balance, err := s.repo.FindBalance(ctx, s.db, accountID)
		if err != nil {
			return err
		}
		if balance == nil {
			return ledgerdomain.ErrAccountNotFound
		}
		s.record(ctx, ledgerdomain.KindCharge, entry.Source, tokenmetrics.OutcomeRejected, cost)
		s.log.Info("charge rejected",
			zap.String("account_id", accountID.String()),
			zap.String("source", string(entry.Source)),
			zap.Int64("cost", cost),
			zap.Int64("tokens_left", balance.Left()),
		)
		return ledgerdomain.ErrInsufficientBalance
	}

	s.record(ctx, ledgerdomain.KindCharge, entry.Source, tokenmetrics.OutcomeApplied, cost)
	return nil
}

func (s *Service) Refund(ctx context.Context, accountID snowflake.ID, cost int64, entry ledgerdomain.Entry) {
	fields := []zap.Field{
		zap.String("account_id", accountID.String()),
		zap.String("source", string(entry.Source)),
		zap.String("reference", entry.Reference),
		zap.Int64("cost", cost),
	}
	if cost <= 0 {
		s.log.Warn("refund skipped for non-positive cost", fields...)
		return
	}

	// The refund must still land when the request that triggered it was
	// cancelled mid-pipeline.
	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.Refund(ctx, tx, accountID, cost, now)
		if err != nil || !ok {
			return err
		}
		applied = true
		return s.journal(ctx, tx, accountID, ledgerdomain.KindRefund, cost, entry, now)
	})
	switch {
	case err != nil:
		s.record(ctx, ledgerdomain.KindRefund, entry.Source, tokenmetrics.OutcomeFailed, cost)
		s.log.Error("refund failed", append(fields, zap.Error(err))...)
	case !applied:
		s.record(ctx, ledgerdomain.KindRefund, entry.Source, tokenmetrics.OutcomeRejected, cost)
		s.log.Warn("refund target account missing", fields...)
	default:
		s.record(ctx, ledgerdomain.KindRefund, entry.Source, tokenmetrics.OutcomeApplied, cost)
		s.log.Info("refund applied", fields...)
	}
}

func (s *Service) Credit(ctx context.Context, accountID snowflake.ID, amount int64, entry ledgerdomain.Entry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.CreditTx(ctx, tx, accountID, amount, entry)
	})
}

func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, entry ledgerdomain.Entry) error {
	if amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	if entry.Source == "" {
		return ledgerdomain.ErrInvalidSource
	}

	now := s.clock.Now()
	ok, err := s.repo.Credit(ctx, tx, accountID, amount, now)
	if err != nil {
		s.record(ctx, ledgerdomain.KindCredit, entry.Source, tokenmetrics.OutcomeFailed, amount)
		return err
	}
	if !ok {
		s.record(ctx, ledgerdomain.KindCredit, entry.Source, tokenmetrics.OutcomeRejected, amount)
		return ledgerdomain.ErrAccountNotFound
	}
	if err := s.journal(ctx, tx, accountID, ledgerdomain.KindCredit, amount, entry, now); err != nil {
		s.record(ctx, ledgerdomain.KindCredit, entry.Source, tokenmetrics.OutcomeFailed, amount)
		return err
	}

	s.record(ctx, ledgerdomain.KindCredit, entry.Source, tokenmetrics.OutcomeApplied, amount)
	s.log.Info("credit applied",
		zap.String("account_id", accountID.String()),
		zap.String("source", string(entry.Source)),
		zap.String("reference", entry.Reference),
		zap.Int64("amount", amount),
	)
	return nil
}

func (s *Service) ListTransactions(ctx context.Context, accountID snowflake.ID, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	var cursor *pagination.Cursor
	if req.PageToken != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, err
		}
		cursor = decoded
	}

	limit := req.Limit()
	txns, err := s.repo.ListTransactions(ctx, s.db, accountID, cursor, limit)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	page, info, err := pagination.Trim(txns, limit, func(t ledgerdomain.TokenTransaction) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(int64(t.ID), 10)}
	})
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}
	if page == nil {
		page = []ledgerdomain.TokenTransaction{}
	}
	return ledgerdomain.ListTransactionsResponse{
		Transactions:  page,
		NextPageToken: info.NextPageToken,
		HasMore:       info.HasMore,
	}, nil
}

func (s *Service) journal(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, kind ledgerdomain.TransactionKind, amount int64, entry ledgerdomain.Entry, now time.Time) error {
	var metadata datatypes.JSONMap
	if len(entry.Metadata) > 0 {
		metadata = datatypes.JSONMap(entry.Metadata)
	}
	return s.repo.InsertTransaction(ctx, tx, &ledgerdomain.TokenTransaction{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		Kind:      kind,
		Source:    entry.Source,
		Reference: entry.Reference,
		Amount:    amount,
		Metadata:  metadata,
		CreatedAt: now,
	})
}

func (s *Service) record(ctx context.Context, kind ledgerdomain.TransactionKind, source ledgerdomain.SourceType, outcome string, amount int64) {
	s.recorder.RecordLedger(string(kind), string(source), outcome, amount)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerOperation(ctx, string(kind), string(source), outcome, amount)
	}
}
