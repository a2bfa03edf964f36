package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	accountrepo "github.com/smallbiznis/scanledger/internal/account/repository"
	accountservice "github.com/smallbiznis/scanledger/internal/account/service"
	"github.com/smallbiznis/scanledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/scanledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/scanledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/scanledger/internal/ledger/service"
	"github.com/smallbiznis/scanledger/internal/payment/adapters"
	"github.com/smallbiznis/scanledger/internal/payment/adapters/stripe"
	"github.com/smallbiznis/scanledger/internal/payment/domain"
	"github.com/smallbiznis/scanledger/internal/payment/repository"
	"github.com/smallbiznis/scanledger/internal/providers/email"
	emailmock "github.com/smallbiznis/scanledger/internal/providers/email/mock"
	"github.com/smallbiznis/scanledger/internal/providers/pdf"
	"github.com/smallbiznis/scanledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_test"

type stubPDF struct{}

func (stubPDF) GenerateReceipt(context.Context, pdf.Receipt) ([]byte, error) {
	return []byte("%PDF-stub"), nil
}

type failingRepo struct {
	domain.Repository
}

func (failingRepo) InsertEvent(context.Context, *gorm.DB, *domain.ProcessedEvent) (bool, error) {
	return false, errors.New("connection reset")
}

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	sender *emailmock.MockSender
	params Params
	svc    domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&accountdomain.Account{},
		&accountdomain.AccountEmail{},
		&ledgerdomain.TokenTransaction{},
		&domain.ProcessedEvent{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	verifier, err := stripe.NewVerifier(testSecret, 0)
	if err != nil {
		t.Fatalf("failed to create verifier: %v", err)
	}

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	sender := emailmock.NewMockSender(gomock.NewController(t))
	log := zap.NewNop()

	params := Params{
		DB:        conn,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Repo:      repository.Provide(),
		Verifiers: adapters.NewRegistry(verifier),
		Ledger: ledgerservice.NewService(ledgerservice.Params{
			DB: conn, Log: log, GenID: node, Clock: fake, Repo: ledgerrepo.Provide(),
		}),
		Accounts: accountservice.New(accountservice.Params{
			DB: conn, Log: log, GenID: node, Clock: fake, Repo: accountrepo.Provide(), Sender: sender,
		}),
		PDF:    stubPDF{},
		Sender: sender,
	}
	return &fixture{db: conn, node: node, clock: fake, sender: sender, params: params, svc: New(params)}
}

func (f *fixture) account(t *testing.T, verifiedEmail string) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&accountdomain.Account{
		ID: id, Username: "user" + id.String(), PasswordHash: "x",
		Role: accountdomain.RoleMember, CreatedAt: now, UpdatedAt: now,
	}).Error)
	if verifiedEmail != "" {
		require.NoError(t, f.db.Create(&accountdomain.AccountEmail{
			ID: f.node.Generate(), AccountID: id, Address: verifiedEmail,
			VerifiedAt: &now, IsActive: true, CreatedAt: now,
		}).Error)
	}
	return id
}

func (f *fixture) tokensTotal(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	var total int64
	require.NoError(t, f.db.Raw(`SELECT tokens_total FROM accounts WHERE id = ?`, id).Scan(&total).Error)
	return total
}

func (f *fixture) markers(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&domain.ProcessedEvent{}).Count(&n).Error)
	return n
}

func checkout(t *testing.T, eventID string, amount int64, metadata map[string]string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   domain.EventTypeCheckoutCompleted,
		"data": map[string]any{
			"object": map[string]any{
				"id":               "cs_" + eventID,
				"object":           "checkout.session",
				"amount_total":     amount,
				"currency":         "usd",
				"customer_details": map[string]any{"email": "buyer@example.com"},
				"metadata":         metadata,
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func sign(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	}).Header
}

func meta(accountID snowflake.ID, unitPrice string) map[string]string {
	return map[string]string{
		domain.MetadataAccountID: accountID.String(),
		domain.MetadataUnitPrice: unitPrice,
	}
}

func TestHandleEventCreditsOnce(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "owner@example.com")
	ctx := context.Background()

	var receipts []email.Message
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Times(1).DoAndReturn(func(_ context.Context, msg email.Message) error {
		receipts = append(receipts, msg)
		return nil
	})

	payload := checkout(t, "evt_1", 2500, meta(accountID, "100"))

	outcome, err := f.svc.HandleEvent(ctx, "stripe", payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, outcome)
	assert.Equal(t, int64(25), f.tokensTotal(t, accountID))

	outcome, err = f.svc.HandleEvent(ctx, "Stripe", payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, int64(25), f.tokensTotal(t, accountID))
	assert.Equal(t, int64(1), f.markers(t))

	var marker domain.ProcessedEvent
	require.NoError(t, f.db.First(&marker).Error)
	assert.Equal(t, "evt_1", marker.ProviderEventID)
	assert.Equal(t, int64(25), marker.TokensCredited)
	assert.Equal(t, int64(100), marker.UnitPrice)

	var journal ledgerdomain.TokenTransaction
	require.NoError(t, f.db.Where("account_id = ?", accountID).First(&journal).Error)
	assert.Equal(t, ledgerdomain.KindCredit, journal.Kind)
	assert.Equal(t, ledgerdomain.SourcePayment, journal.Source)
	assert.Equal(t, "evt_1", journal.Reference)

	require.Len(t, receipts, 1)
	assert.Equal(t, []string{"owner@example.com"}, receipts[0].To)
	require.Len(t, receipts[0].Attachments, 1)
	assert.Equal(t, "application/pdf", receipts[0].Attachments[0].ContentType)
}

func TestHandleEventConcurrentDeliveriesCreditOnce(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "")
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Times(1).Return(nil)

	payload := checkout(t, "evt_race", 1000, meta(accountID, "100"))
	header := sign(payload)

	const deliveries = 8
	outcomes := make([]domain.Outcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := f.svc.HandleEvent(context.Background(), "stripe", payload, header)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	credited := 0
	for _, outcome := range outcomes {
		if outcome == domain.OutcomeCredited {
			credited++
		} else {
			assert.Equal(t, domain.OutcomeDuplicate, outcome)
		}
	}
	assert.Equal(t, 1, credited)
	assert.Equal(t, int64(10), f.tokensTotal(t, accountID))
	assert.Equal(t, int64(1), f.markers(t))
}

func TestHandleEventUsesPriceFromMetadata(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "")
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

	payload := checkout(t, "evt_price", 2599, meta(accountID, "50"))
	outcome, err := f.svc.HandleEvent(context.Background(), "stripe", payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, outcome)
	assert.Equal(t, int64(51), f.tokensTotal(t, accountID))
}

func TestHandleEventRejectsInvalidDeliveries(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "")
	ctx := context.Background()
	payload := checkout(t, "evt_bad", 2500, meta(accountID, "100"))

	_, err := f.svc.HandleEvent(ctx, "stripe", payload, "t=1,v1=00")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = f.svc.HandleEvent(ctx, "paypal", payload, sign(payload))
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	assert.Equal(t, int64(0), f.tokensTotal(t, accountID))
	assert.Equal(t, int64(0), f.markers(t))
}

func TestHandleEventIgnoresUncreditableEvents(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "")
	ctx := context.Background()

	other := []byte(`{"id":"evt_other","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	cases := map[string][]byte{
		"other type":         other,
		"missing account":    checkout(t, "evt_a", 2500, map[string]string{domain.MetadataUnitPrice: "100"}),
		"non numeric price":  checkout(t, "evt_b", 2500, meta(accountID, "abc")),
		"zero price":         checkout(t, "evt_c", 2500, meta(accountID, "0")),
		"below unit price":   checkout(t, "evt_d", 99, meta(accountID, "100")),
		"malformed account":  checkout(t, "evt_e", 2500, map[string]string{domain.MetadataAccountID: "bob", domain.MetadataUnitPrice: "100"}),
		"no metadata at all": checkout(t, "evt_f", 2500, nil),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			outcome, err := f.svc.HandleEvent(ctx, "stripe", payload, sign(payload))
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeIgnored, outcome)
		})
	}
	assert.Equal(t, int64(0), f.tokensTotal(t, accountID))
	assert.Equal(t, int64(0), f.markers(t))
}

func TestHandleEventUnknownAccount(t *testing.T) {
	f := newFixture(t)
	payload := checkout(t, "evt_ghost", 2500, meta(f.node.Generate(), "100"))

	outcome, err := f.svc.HandleEvent(context.Background(), "stripe", payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnknownAccount, outcome)
	assert.Equal(t, int64(0), f.markers(t))
}

func TestHandleEventStorageFailureIsRetriable(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "")
	payload := checkout(t, "evt_retry", 500, meta(accountID, "100"))

	broken := f.params
	broken.Repo = failingRepo{Repository: repository.Provide()}
	_, err := New(broken).HandleEvent(context.Background(), "stripe", payload, sign(payload))
	require.Error(t, err)
	assert.Equal(t, int64(0), f.tokensTotal(t, accountID))

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)
	outcome, err := f.svc.HandleEvent(context.Background(), "stripe", payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, outcome)
	assert.Equal(t, int64(5), f.tokensTotal(t, accountID))
}

func TestHandleEventReceiptFailureKeepsCredit(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "owner@example.com")
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))

	payload := checkout(t, "evt_mail", 300, meta(accountID, "100"))
	outcome, err := f.svc.HandleEvent(context.Background(), "stripe", payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, outcome)
	assert.Equal(t, int64(3), f.tokensTotal(t, accountID))
}

func TestHandleEventReceiptFallsBackToCheckoutEmail(t *testing.T) {
	f := newFixture(t)
	accountID := f.account(t, "")

	var to []string
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg email.Message) error {
		to = msg.To
		return nil
	})

	payload := checkout(t, "evt_fallback", 300, meta(accountID, "100"))
	_, err := f.svc.HandleEvent(context.Background(), "stripe", payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, []string{"buyer@example.com"}, to)
}

func TestSupportsProvider(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.svc.SupportsProvider("Stripe"))
	assert.False(t, f.svc.SupportsProvider("paypal"))

	params := f.params
	params.Verifiers = adapters.NewRegistry()
	assert.False(t, New(params).SupportsProvider("stripe"))
}
