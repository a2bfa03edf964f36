package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	accountrepo "github.com/smallbiznis/scanledger/internal/account/repository"
	accountservice "github.com/smallbiznis/scanledger/internal/account/service"
	"github.com/smallbiznis/scanledger/internal/clock"
	"github.com/smallbiznis/scanledger/internal/config"
	"github.com/smallbiznis/scanledger/internal/export/domain"
	"github.com/smallbiznis/scanledger/internal/export/repository"
	"github.com/smallbiznis/scanledger/internal/export/storage"
	ledgerdomain "github.com/smallbiznis/scanledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/scanledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/scanledger/internal/ledger/service"
	"github.com/smallbiznis/scanledger/internal/providers/email"
	emailmock "github.com/smallbiznis/scanledger/internal/providers/email/mock"
	scandomain "github.com/smallbiznis/scanledger/internal/scan/domain"
	scanrepo "github.com/smallbiznis/scanledger/internal/scan/repository"
	scanservice "github.com/smallbiznis/scanledger/internal/scan/service"
	"github.com/smallbiznis/scanledger/pkg/db"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc    domain.Service
	db     *gorm.DB
	fs     afero.Fs
	store  *storage.Storage
	sender *emailmock.MockSender
	scans  scandomain.Service
	clock  *clock.FakeClock
	node   *snowflake.Node
}

func newFixture(t *testing.T, fsys afero.Fs) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&accountdomain.Account{},
		&accountdomain.AccountEmail{},
		&ledgerdomain.TokenTransaction{},
		&domain.ArtifactSet{},
		&scandomain.Scan{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	ctrl := gomock.NewController(t)
	sender := emailmock.NewMockSender(ctrl)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	accounts := accountservice.New(accountservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake,
		Repo: accountrepo.Provide(), Sender: sender,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Repo: ledgerrepo.Provide(),
	})

	if fsys == nil {
		fsys = afero.NewMemMapFs()
	}
	store := storage.New(fsys, "/exports")
	scans := scanservice.New(scanservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Repo: scanrepo.Provide(),
	})

	svc := New(Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: fake,
		Config: config.Config{Export: config.ExportConfig{
			Root:            "/exports",
			MaxRows:         10,
			MaxPayloadBytes: 64 * 1024,
			MaxColumns:      8,
		}},
		Pricing:  config.NewStaticPricingHolder(config.PricingConfig{ExportCost: 1, DownloadCost: 1, TokenUnitPrice: 100}),
		Repo:     repository.Provide(),
		Ledger:   ledger,
		Accounts: accounts,
		Storage:  store,
		Sender:   sender,
		Scans:    scans,
	})

	return &fixture{svc: svc, db: conn, fs: fsys, store: store, sender: sender, scans: scans, clock: fake, node: node}
}

func (f *fixture) account(t *testing.T, total int64, verifiedEmail string) *accountdomain.Account {
	t.Helper()
	now := f.clock.Now()
	account := &accountdomain.Account{
		ID: f.node.Generate(), Username: "user" + f.node.Generate().String(),
		PasswordHash: "x", Role: accountdomain.RoleMember, TokensTotal: total,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(account).Error)

	if verifiedEmail != "" {
		require.NoError(t, f.db.Create(&accountdomain.AccountEmail{
			ID: f.node.Generate(), AccountID: account.ID, Address: verifiedEmail,
			VerifiedAt: &now, IsActive: true, CreatedAt: now,
		}).Error)
	}
	return account
}

func (f *fixture) tokensUsed(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	var used int64
	require.NoError(t, f.db.Raw(`SELECT tokens_used FROM accounts WHERE id = ?`, id).Scan(&used).Error)
	return used
}

func (f *fixture) artifactCount(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM export_artifact_sets WHERE account_id = ?`, id).Scan(&n).Error)
	return n
}

func (f *fixture) expectSend(times int, err error) *[]email.Message {
	var sent []email.Message
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Times(times).DoAndReturn(func(_ context.Context, msg email.Message) error {
		sent = append(sent, msg)
		return err
	})
	return &sent
}

func roundTripPayload(exportID string) domain.Payload {
	return domain.Payload{
		ExportID: exportID,
		Headers:  "a",
		Rows: []domain.Row{{
			ID:        "1",
			FormID:    "f",
			Data:      json.RawMessage(`"{\"a\":1}"`),
			ScannedAt: "t1",
		}},
	}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunExportRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "owner@example.com")
	sent := f.expectSend(1, nil)

	payload := roundTripPayload("batch-1")
	payload.Raw = []byte(`{"exportId":"batch-1"}`)

	res, err := f.svc.RunExport(context.Background(), acct, payload)
	require.NoError(t, err)
	assert.Equal(t, domain.Result{
		ExportID:    "batch-1",
		MinimalCSV:  "export_batch-1_minimal.csv",
		FullCSV:     "export_batch-1_full.csv",
		PayloadJSON: "export_batch-1.json",
		EmailSent:   true,
		RowCount:    1,
	}, res)

	minimal, err := f.store.Read(acct.ID, res.MinimalCSV)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"1"}}, readCSV(t, minimal))

	full, err := f.store.Read(acct.ID, res.FullCSV)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"a", "form_id", "id", "scanned_at"},
		{"1", "f", "1", "t1"},
	}, readCSV(t, full))

	raw, err := f.store.Read(acct.ID, res.PayloadJSON)
	require.NoError(t, err)
	assert.Equal(t, `{"exportId":"batch-1"}`, string(raw))

	require.Len(t, *sent, 1)
	msg := (*sent)[0]
	assert.Equal(t, []string{"owner@example.com"}, msg.To)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, res.MinimalCSV, msg.Attachments[0].Filename)
	assert.Equal(t, res.FullCSV, msg.Attachments[1].Filename)

	assert.Equal(t, int64(1), f.tokensUsed(t, acct.ID))
	assert.Equal(t, int64(1), f.artifactCount(t, acct.ID))
}

func TestRunExportDerivesIdentifierFromClock(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "owner@example.com")
	f.expectSend(1, nil)

	res, err := f.svc.RunExport(context.Background(), acct, roundTripPayload(""))
	require.NoError(t, err)
	assert.Equal(t, "20260301T090000", res.ExportID)
}

func TestRunExportInsufficientBalanceWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 0, "owner@example.com")
	f.expectSend(0, nil)

	_, err := f.svc.RunExport(context.Background(), acct, roundTripPayload("batch-1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	exists, err := afero.DirExists(f.fs, "/exports")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, int64(0), f.tokensUsed(t, acct.ID))
	assert.Equal(t, int64(0), f.artifactCount(t, acct.ID))
}

func TestRunExportRefundsFatalFailures(t *testing.T) {
	manyRows := make([]domain.Row, 11)
	for i := range manyRows {
		manyRows[i] = domain.Row{Data: json.RawMessage(`{"a":1}`)}
	}
	wide := map[string]int{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		wide[k] = 1
	}
	wideData, _ := json.Marshal(wide)

	cases := []struct {
		name    string
		payload domain.Payload
		stage   domain.Stage
		kind    domain.Kind
		err     error
	}{
		{
			name:    "empty rows",
			payload: domain.Payload{ExportID: "x"},
			stage:   domain.StageValidate, kind: domain.KindValidation, err: domain.ErrEmptyRows,
		},
		{
			name:    "too many rows",
			payload: domain.Payload{ExportID: "x", Rows: manyRows},
			stage:   domain.StageValidate, kind: domain.KindValidation, err: domain.ErrTooManyRows,
		},
		{
			name:    "oversized payload",
			payload: domain.Payload{ExportID: "x", Rows: []domain.Row{{Data: json.RawMessage(`{}`)}}, Raw: make([]byte, 64*1024+1)},
			stage:   domain.StageValidate, kind: domain.KindValidation, err: domain.ErrPayloadTooLarge,
		},
		{
			name:    "invalid export id",
			payload: domain.Payload{ExportID: "../../etc", Rows: []domain.Row{{Data: json.RawMessage(`{"a":1}`)}}},
			stage:   domain.StageIdentifier, kind: domain.KindValidation, err: domain.ErrInvalidExportID,
		},
		{
			name:    "sole undecodable row",
			payload: domain.Payload{ExportID: "x", Rows: []domain.Row{{Data: json.RawMessage(`"not json"`)}}},
			stage:   domain.StageNormalize, kind: domain.KindValidation, err: domain.ErrNoValidRows,
		},
		{
			name:    "too many columns",
			payload: domain.Payload{ExportID: "x", Rows: []domain.Row{{Data: wideData}}},
			stage:   domain.StageNormalize, kind: domain.KindValidation, err: domain.ErrTooManyColumns,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			acct := f.account(t, 3, "owner@example.com")
			f.expectSend(0, nil)

			_, err := f.svc.RunExport(context.Background(), acct, tc.payload)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)

			se, ok := domain.AsStageError(err)
			require.True(t, ok)
			assert.Equal(t, tc.stage, se.Stage)
			assert.Equal(t, tc.kind, se.Kind)
			assert.NotEmpty(t, se.Message)

			assert.Equal(t, int64(0), f.tokensUsed(t, acct.ID))
			assert.Equal(t, int64(0), f.artifactCount(t, acct.ID))
		})
	}
}

func TestRunExportDuplicateIdentifierRefunds(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "owner@example.com")
	f.expectSend(1, nil)

	_, err := f.svc.RunExport(context.Background(), acct, roundTripPayload("batch-1"))
	require.NoError(t, err)

	_, err = f.svc.RunExport(context.Background(), acct, roundTripPayload("batch-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateExportID)
	assert.Equal(t, int64(1), f.tokensUsed(t, acct.ID))

	// The same id is free for a different account.
	other := f.account(t, 5, "other@example.com")
	f.expectSend(1, nil)
	_, err = f.svc.RunExport(context.Background(), other, roundTripPayload("batch-1"))
	assert.NoError(t, err)
}

func TestRunExportConcurrentSameIdentifierKeepsWinnerFiles(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "owner@example.com")

	started := make(chan struct{})
	release := make(chan struct{})
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Times(1).DoAndReturn(func(context.Context, email.Message) error {
		close(started)
		<-release
		return nil
	})

	payloadFor := func(value string) domain.Payload {
		return domain.Payload{
			ExportID: "same",
			Headers:  "a",
			Rows:     []domain.Row{{Data: json.RawMessage(`{"a":"` + value + `"}`)}},
		}
	}

	var winnerErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, winnerErr = f.svc.RunExport(context.Background(), acct, payloadFor("WINNER"))
	}()
	<-started

	// The winner is parked in delivery with its files written but no record yet.
	_, err := f.svc.RunExport(context.Background(), acct, payloadFor("LOSER"))
	assert.ErrorIs(t, err, domain.ErrDuplicateExportID)
	se, ok := domain.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, domain.StageIdentifier, se.Stage)

	close(release)
	<-done
	require.NoError(t, winnerErr)

	minimal, err := f.store.Read(acct.ID, "export_same_minimal.csv")
	require.NoError(t, err)
	assert.Equal(t, "a\nWINNER\n", string(minimal))
	assert.Equal(t, int64(1), f.tokensUsed(t, acct.ID))
	assert.Equal(t, int64(1), f.artifactCount(t, acct.ID))
}

func TestRunExportFailureReleasesIdentifier(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "owner@example.com")
	f.expectSend(0, nil)

	_, err := f.svc.RunExport(context.Background(), acct, domain.Payload{
		ExportID: "retry",
		Rows:     []domain.Row{{Data: json.RawMessage(`"not json"`)}},
	})
	assert.ErrorIs(t, err, domain.ErrNoValidRows)

	for _, name := range []string{"export_retry.json", "export_retry_minimal.csv", "export_retry_full.csv"} {
		_, statErr := f.store.Stat(acct.ID, name)
		assert.ErrorIs(t, statErr, storage.ErrFileMissing, name)
	}

	f.expectSend(1, nil)
	_, err = f.svc.RunExport(context.Background(), acct, roundTripPayload("retry"))
	assert.NoError(t, err)
}

func TestRunExportMarksStoredScansExported(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "owner@example.com")
	ctx := context.Background()
	for _, id := range []string{"1", "2"} {
		_, err := f.scans.Ingest(ctx, acct.ID, scandomain.IngestRequest{ID: id, FormID: "f", Data: `{"a":1}`, Key: "k"})
		require.NoError(t, err)
	}
	f.expectSend(1, nil)

	_, err := f.svc.RunExport(ctx, acct, domain.Payload{
		ExportID: "scans",
		Rows: []domain.Row{
			{ID: json.Number("1"), Data: json.RawMessage(`{"a":1}`)},
			{ID: "3", Data: json.RawMessage(`{"a":2}`)},
		},
	})
	require.NoError(t, err)

	exported := true
	resp, err := f.scans.List(ctx, acct.ID, scandomain.ListRequest{Exported: &exported})
	require.NoError(t, err)
	require.Len(t, resp.Scans, 1)
	assert.Equal(t, "1", resp.Scans[0].ScanID)
}

func TestRunExportSkipsUndecodableRows(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "owner@example.com")
	f.expectSend(1, nil)

	res, err := f.svc.RunExport(context.Background(), acct, domain.Payload{
		ExportID: "mixed",
		Rows: []domain.Row{
			{ID: "1", Data: json.RawMessage(`{"a":"keep"}`)},
			{ID: "2", Data: json.RawMessage(`"{broken"`)},
			{ID: "3", Data: json.RawMessage(`[1,2]`)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
	assert.Equal(t, 2, res.SkippedRows)

	full, err := f.store.Read(acct.ID, res.FullCSV)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "id"}, {"keep", "1"}}, readCSV(t, full))
}

func TestRunExportEscapesFormulaValues(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "owner@example.com")
	f.expectSend(1, nil)

	res, err := f.svc.RunExport(context.Background(), acct, domain.Payload{
		ExportID: "formula",
		Headers:  "cmd",
		Rows:     []domain.Row{{Data: json.RawMessage(`{"cmd":"=HYPERLINK(\"http://x\")","n":"-5"}`)}},
	})
	require.NoError(t, err)

	minimal, err := f.store.Read(acct.ID, res.MinimalCSV)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"cmd"}, {`'=HYPERLINK("http://x")`}}, readCSV(t, minimal))

	full, err := f.store.Read(acct.ID, res.FullCSV)
	require.NoError(t, err)
	assert.Equal(t, "'-5", readCSV(t, full)[1][1])
}

func TestRunExportWithoutVerifiedEmailRefunds(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "")
	f.expectSend(0, nil)

	_, err := f.svc.RunExport(context.Background(), acct, roundTripPayload("batch-1"))
	se, ok := domain.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindDependency, se.Kind)
	assert.ErrorIs(t, err, domain.ErrNoVerifiedEmail)

	assert.Equal(t, int64(0), f.tokensUsed(t, acct.ID))
	assert.Equal(t, int64(0), f.artifactCount(t, acct.ID))
}

func TestRunExportDeliveryFailureIsPartialSuccess(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "owner@example.com")
	f.expectSend(1, errors.New("smtp timeout"))

	res, err := f.svc.RunExport(context.Background(), acct, roundTripPayload("batch-1"))
	require.NoError(t, err)
	assert.False(t, res.EmailSent)
	assert.Equal(t, int64(1), f.tokensUsed(t, acct.ID))

	var emailSent bool
	require.NoError(t, f.db.Raw(`SELECT email_sent FROM export_artifact_sets WHERE account_id = ?`, acct.ID).Scan(&emailSent).Error)
	assert.False(t, emailSent)
}

func TestRunExportPersistenceFailureRefunds(t *testing.T) {
	f := newFixture(t, afero.NewReadOnlyFs(afero.NewMemMapFs()))
	acct := f.account(t, 5, "owner@example.com")
	f.expectSend(0, nil)

	_, err := f.svc.RunExport(context.Background(), acct, roundTripPayload("batch-1"))
	se, ok := domain.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindPersistence, se.Kind)
	assert.Equal(t, domain.StageIdentifier, se.Stage)

	assert.Equal(t, int64(0), f.tokensUsed(t, acct.ID))
}

func TestResendExport(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 5, "owner@example.com")
	f.expectSend(1, errors.New("smtp down"))

	res, err := f.svc.RunExport(context.Background(), acct, roundTripPayload("batch-1"))
	require.NoError(t, err)
	require.False(t, res.EmailSent)

	sent := f.expectSend(1, nil)
	require.NoError(t, f.svc.ResendExport(context.Background(), acct, "batch-1"))
	require.Len(t, *sent, 1)
	assert.Len(t, (*sent)[0].Attachments, 2)
	assert.Equal(t, int64(2), f.tokensUsed(t, acct.ID))

	var emailSent bool
	require.NoError(t, f.db.Raw(`SELECT email_sent FROM export_artifact_sets WHERE account_id = ?`, acct.ID).Scan(&emailSent).Error)
	assert.True(t, emailSent)
}

func TestResendExportFailures(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 10, "owner@example.com")
	f.expectSend(1, nil)
	_, err := f.svc.RunExport(context.Background(), acct, roundTripPayload("batch-1"))
	require.NoError(t, err)
	ctx := context.Background()

	// Unknown export: no charge.
	assert.ErrorIs(t, f.svc.ResendExport(ctx, acct, "nope"), domain.ErrNotFound)
	assert.Equal(t, int64(1), f.tokensUsed(t, acct.ID))

	// Send failure: charged then refunded.
	f.expectSend(1, errors.New("smtp down"))
	err = f.svc.ResendExport(ctx, acct, "batch-1")
	se, ok := domain.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindDependency, se.Kind)
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.Equal(t, int64(1), f.tokensUsed(t, acct.ID))

	// Missing files: charged then refunded.
	require.NoError(t, f.fs.Remove("/exports/"+acct.ID.String()+"/export_batch-1_full.csv"))
	assert.ErrorIs(t, f.svc.ResendExport(ctx, acct, "batch-1"), domain.ErrNotFound)
	assert.Equal(t, int64(1), f.tokensUsed(t, acct.ID))

	// No verified email: rejected before charging.
	require.NoError(t, f.db.Exec(`UPDATE account_emails SET is_active = ? WHERE account_id = ?`, false, acct.ID).Error)
	err = f.svc.ResendExport(ctx, acct, "batch-1")
	assert.ErrorIs(t, err, domain.ErrNoVerifiedEmail)
	se, ok = domain.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindDependency, se.Kind)
	assert.Equal(t, domain.StageNotify, se.Stage)
	assert.Equal(t, int64(1), f.tokensUsed(t, acct.ID))
}

func TestResendExportInsufficientBalance(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 1, "owner@example.com")
	f.expectSend(1, nil)
	_, err := f.svc.RunExport(context.Background(), acct, roundTripPayload("batch-1"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ResendExport(context.Background(), acct, "batch-1"), domain.ErrInsufficientBalance)
	assert.Equal(t, int64(1), f.tokensUsed(t, acct.ID))
}

func TestDownloadExport(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 3, "owner@example.com")
	f.expectSend(1, nil)
	res, err := f.svc.RunExport(context.Background(), acct, roundTripPayload("batch-1"))
	require.NoError(t, err)
	ctx := context.Background()

	file, err := f.svc.DownloadExport(ctx, acct, "batch-1", res.FullCSV)
	require.NoError(t, err)
	body, err := io.ReadAll(file.Content)
	require.NoError(t, err)
	require.NoError(t, file.Content.Close())
	assert.Contains(t, string(body), "a,form_id,id,scanned_at")
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	assert.Equal(t, int64(len(body)), file.Size)
	assert.Equal(t, int64(2), f.tokensUsed(t, acct.ID))

	// Traversal is reduced to a base name that is not part of the set.
	_, err = f.svc.DownloadExport(ctx, acct, "batch-1", "../../../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	// A traversal prefix in front of a real artifact name still resolves inside the account.
	file, err = f.svc.DownloadExport(ctx, acct, "batch-1", "../../"+res.PayloadJSON)
	require.NoError(t, err)
	require.NoError(t, file.Content.Close())
	assert.Equal(t, int64(3), f.tokensUsed(t, acct.ID))

	// Balance exhausted.
	_, err = f.svc.DownloadExport(ctx, acct, "batch-1", res.MinimalCSV)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Missing file is checked before charging.
	require.NoError(t, f.db.Exec(`UPDATE accounts SET tokens_total = tokens_total + 5 WHERE id = ?`, acct.ID).Error)
	require.NoError(t, f.fs.Remove("/exports/"+acct.ID.String()+"/"+res.MinimalCSV))
	_, err = f.svc.DownloadExport(ctx, acct, "batch-1", res.MinimalCSV)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int64(3), f.tokensUsed(t, acct.ID))

	// Another account cannot see the export.
	other := f.account(t, 5, "")
	_, err = f.svc.DownloadExport(ctx, other, "batch-1", res.FullCSV)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int64(0), f.tokensUsed(t, other.ID))
}

func TestListExports(t *testing.T) {
	f := newFixture(t, nil)
	acct := f.account(t, 10, "owner@example.com")
	f.expectSend(3, nil)
	for _, id := range []string{"one", "two", "three"} {
		_, err := f.svc.RunExport(context.Background(), acct, roundTripPayload(id))
		require.NoError(t, err)
	}

	page, err := f.svc.ListExports(context.Background(), acct, domain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Exports, 2)
	assert.Equal(t, "three", page.Exports[0].ExportID)
	assert.True(t, page.HasMore)

	rest, err := f.svc.ListExports(context.Background(), acct, domain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, rest.Exports, 1)
	assert.Equal(t, "one", rest.Exports[0].ExportID)
	assert.False(t, rest.HasMore)
}

func TestNormalizeRowOverlaysMetadata(t *testing.T) {
	record, err := normalizeRow(domain.Row{
		ID:        json.Number("7"),
		Data:      json.RawMessage(`{"id":"inner","x":{"y":1}}`),
		ScannedAt: "2026-03-01",
	})
	require.NoError(t, err)
	assert.Equal(t, json.Number("7"), record["id"])
	assert.Equal(t, "2026-03-01", record["scanned_at"])
	_, hasForm := record["form_id"]
	assert.False(t, hasForm)

	for _, bad := range []string{``, `null`, `42`, `"[1]"`, `{"a":1} {"b":2}`} {
		_, err := normalizeRow(domain.Row{Data: json.RawMessage(bad)})
		assert.Error(t, err, bad)
	}
}
