package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/scanledger/internal/ledger/domain"
	obslogger "github.com/smallbiznis/scanledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/scanledger/internal/observability/metrics"
	"github.com/smallbiznis/scanledger/internal/payment/adapters"
	"github.com/smallbiznis/scanledger/internal/payment/domain"
	"github.com/smallbiznis/scanledger/internal/providers/email"
	"github.com/smallbiznis/scanledger/internal/providers/pdf"
	"github.com/smallbiznis/scanledger/internal/tokenmetrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errAlreadyApplied = errors.New("payment_event_already_applied")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Verifiers  *adapters.Registry
	Ledger     ledgerdomain.Service
	Accounts   accountdomain.Service
	PDF        pdf.Provider
	Sender     email.Sender
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
	Recorder   tokenmetrics.Recorder `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	verifiers  *adapters.Registry
	ledger     ledgerdomain.Service
	accounts   accountdomain.Service
	pdf        pdf.Provider
	sender     email.Sender
	obsMetrics *obsmetrics.Metrics
	recorder   tokenmetrics.Recorder
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		verifiers:  p.Verifiers,
		ledger:     p.Ledger,
		accounts:   p.Accounts,
		pdf:        p.PDF,
		sender:     p.Sender,
		obsMetrics: p.ObsMetrics,
		recorder:   tokenmetrics.OrNop(p.Recorder),
	}
}

func (s *Service) SupportsProvider(provider string) bool {
	return s.verifiers.ProviderExists(provider)
}

// credit is the validated form of a checkout event.
type credit struct {
	accountID snowflake.ID
	unitPrice int64
	tokens    int64
}

func (s *Service) HandleEvent(ctx context.Context, provider string, raw []byte, signature string) (domain.Outcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	log := obslogger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	verifier, err := s.verifiers.Verifier(provider)
	if err != nil {
		return "", err
	}
	event, err := verifier.Verify(raw, signature)
	if err != nil {
		log.Warn("rejected payment webhook", zap.Error(err))
		s.observe(ctx, provider, "", "rejected")
		return "", err
	}
	log = log.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	if event.Type != domain.EventTypeCheckoutCompleted {
		log.Debug("payment webhook ignored")
		return s.done(ctx, event, domain.OutcomeIgnored), nil
	}

	existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		log.Info("payment webhook already processed")
		return s.done(ctx, event, domain.OutcomeDuplicate), nil
	}

	c, reason := parseCredit(event)
	if reason != "" {
		// Retrying cannot fix the metadata, so acknowledge and move on.
		log.Warn("payment webhook not creditable", zap.String("reason", reason))
		return s.done(ctx, event, domain.OutcomeIgnored), nil
	}
	log = log.With(zap.String("account_id", c.accountID.String()))

	marker := &domain.ProcessedEvent{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ID,
		AccountID:       c.accountID,
		EventType:       event.Type,
		AmountTotal:     event.AmountTotal,
		Currency:        event.Currency,
		UnitPrice:       c.unitPrice,
		TokensCredited:  c.tokens,
		Payload:         datatypes.JSON(event.Raw),
		ProcessedAt:     s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertEvent(ctx, tx, marker)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyApplied
		}
		return s.ledger.CreditTx(ctx, tx, c.accountID, c.tokens, ledgerdomain.Entry{
			Source:    ledgerdomain.SourcePayment,
			Reference: event.ID,
			Metadata: map[string]any{
				"provider":     event.Provider,
				"amount_total": event.AmountTotal,
				"currency":     event.Currency,
				"unit_price":   c.unitPrice,
			},
		})
	})
	switch {
	case errors.Is(err, errAlreadyApplied):
		log.Info("payment webhook applied by a concurrent delivery")
		return s.done(ctx, event, domain.OutcomeDuplicate), nil
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
		log.Warn("payment webhook for unknown account")
		return s.done(ctx, event, domain.OutcomeUnknownAccount), nil
	case err != nil:
		log.Error("payment webhook credit failed", zap.Error(err))
		s.observe(ctx, event.Provider, event.Type, "failed")
		return "", err
	}

	log.Info("payment credited", zap.Int64("tokens", c.tokens))
	s.sendReceipt(ctx, event, c)
	return s.done(ctx, event, domain.OutcomeCredited), nil
}

func parseCredit(event *domain.Event) (credit, string) {
	rawAccount := strings.TrimSpace(event.Metadata[domain.MetadataAccountID])
	if rawAccount == "" {
		return credit{}, "missing account_id metadata"
	}
	accountID, err := snowflake.ParseString(rawAccount)
	if err != nil || accountID <= 0 {
		return credit{}, "invalid account_id metadata"
	}

	unitPrice, err := strconv.ParseInt(strings.TrimSpace(event.Metadata[domain.MetadataUnitPrice]), 10, 64)
	if err != nil || unitPrice <= 0 {
		return credit{}, "invalid unit_price metadata"
	}

	tokens := event.AmountTotal / unitPrice
	if tokens <= 0 {
		return credit{}, "amount below unit price"
	}
	return credit{accountID: accountID, unitPrice: unitPrice, tokens: tokens}, ""
}

// sendReceipt mails a PDF receipt. The credit is committed already, so
// every failure here is only logged.
func (s *Service) sendReceipt(ctx context.Context, event *domain.Event, c credit) {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("event_id", event.ID),
		zap.String("account_id", c.accountID.String()),
	)
	if s.pdf == nil || s.sender == nil {
		return
	}

	account, err := s.accounts.GetByID(ctx, c.accountID)
	if err != nil {
		log.Warn("receipt skipped: account lookup failed", zap.Error(err))
		return
	}
	to, err := s.accounts.ActiveVerifiedEmail(ctx, c.accountID)
	if err != nil {
		to = event.CustomerEmail
	}
	if to == "" {
		log.Info("receipt skipped: no recipient")
		return
	}

	receipt := pdf.Receipt{
		Number:      event.ID,
		IssuedAt:    s.clock.Now(),
		AccountName: account.Username,
		Email:       to,
		Tokens:      c.tokens,
		UnitPrice:   c.unitPrice,
		AmountTotal: event.AmountTotal,
		Currency:    event.Currency,
	}
	doc, err := s.pdf.GenerateReceipt(ctx, receipt)
	if err != nil {
		log.Warn("receipt render failed", zap.Error(err))
		return
	}
	body, err := email.Render(email.TemplatePurchaseReceipt, map[string]any{
		"Username": account.Username,
		"Tokens":   c.tokens,
	})
	if err != nil {
		log.Warn("receipt template failed", zap.Error(err))
		return
	}

	msg := email.Message{
		To:       []string{to},
		Subject:  "Your token purchase receipt",
		HTMLBody: body,
	}
	if len(doc) > 0 {
		msg.Attachments = []email.Attachment{{
			Filename:    pdf.ReceiptFilename(receipt),
			ContentType: "application/pdf",
			Data:        doc,
		}}
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		log.Warn("receipt email failed", zap.Error(err))
	}
}

func (s *Service) done(ctx context.Context, event *domain.Event, outcome domain.Outcome) domain.Outcome {
	s.observe(ctx, event.Provider, event.Type, string(outcome))
	return outcome
}

func (s *Service) observe(ctx context.Context, provider, eventType, outcome string) {
	s.recorder.RecordWebhook(provider, outcome)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, provider, eventType, outcome)
	}
}
