package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/account/password"
	"github.com/smallbiznis/scanledger/internal/account/repository"
	"github.com/smallbiznis/scanledger/internal/clock"
	"github.com/smallbiznis/scanledger/internal/providers/email"
	emailmock "github.com/smallbiznis/scanledger/internal/providers/email/mock"
	"github.com/smallbiznis/scanledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var codePattern = regexp.MustCompile(`<strong>(\d{6})</strong>`)

type fixture struct {
	svc    domain.Service
	sender *emailmock.MockSender
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Account{}, &domain.AccountEmail{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	ctrl := gomock.NewController(t)
	sender := emailmock.NewMockSender(ctrl)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	return fixture{
		svc: New(Params{
			DB:     conn,
			Log:    zap.NewNop(),
			GenID:  node,
			Clock:  fake,
			Repo:   repository.Provide(),
			Sender: sender,
		}),
		sender: sender,
		clock:  fake,
	}
}

// expectCode captures the verification code mailed to address.
func (f fixture) expectCode(t *testing.T, address string) *string {
	t.Helper()
	var code string
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msg email.Message) error {
		assert.Equal(t, []string{address}, msg.To)
		m := codePattern.FindStringSubmatch(msg.HTMLBody)
		require.Len(t, m, 2)
		code = m[1]
		return nil
	})
	return &code
}

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, domain.RegisterRequest{Username: "alice", Password: "correct-password"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, account.Role)
	assert.Zero(t, account.TokensTotal)
	assert.True(t, password.Verify("correct-password", account.PasswordHash))

	got, err := f.svc.Authenticate(ctx, "alice", "correct-password")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	_, err = f.svc.Authenticate(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.svc.Authenticate(ctx, "nobody", "correct-password")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, domain.RegisterRequest{Username: "12345", Password: "correct-password"})
	assert.ErrorIs(t, err, domain.ErrInvalidUsername)

	_, err = f.svc.Register(ctx, domain.RegisterRequest{Username: "bob", Password: "short"})
	assert.ErrorIs(t, err, password.ErrWeakPassword)

	_, err = f.svc.Register(ctx, domain.RegisterRequest{Username: "bob", Password: "correct-password"})
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, domain.RegisterRequest{Username: "bob", Password: "another-password"})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestGetByIDAndUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, domain.RegisterRequest{Username: "carol", Password: "correct-password"})
	require.NoError(t, err)

	byID, err := f.svc.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol", byID.Username)

	byName, err := f.svc.GetByUsername(ctx, " carol ")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byName.ID)

	_, err = f.svc.GetByID(ctx, account.ID+1)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = f.svc.GetByUsername(ctx, "dave")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestEmailVerificationActivatesSingleAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, domain.RegisterRequest{Username: "erin", Password: "correct-password"})
	require.NoError(t, err)

	_, err = f.svc.ActiveVerifiedEmail(ctx, account.ID)
	assert.ErrorIs(t, err, domain.ErrNoVerifiedEmail)

	first := f.expectCode(t, "erin@example.com")
	_, err = f.svc.AddEmail(ctx, account.ID, "Erin@Example.com")
	require.NoError(t, err)

	_, err = f.svc.VerifyEmail(ctx, account.ID, "erin@example.com", "000000x")
	assert.ErrorIs(t, err, domain.ErrInvalidVerificationCode)

	verified, err := f.svc.VerifyEmail(ctx, account.ID, "erin@example.com", *first)
	require.NoError(t, err)
	assert.True(t, verified.IsActive)
	assert.True(t, verified.Verified())

	addr, err := f.svc.ActiveVerifiedEmail(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "erin@example.com", addr)

	second := f.expectCode(t, "erin@work.example")
	_, err = f.svc.AddEmail(ctx, account.ID, "erin@work.example")
	require.NoError(t, err)

	// An unverified address never displaces the active one.
	addr, err = f.svc.ActiveVerifiedEmail(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "erin@example.com", addr)

	_, err = f.svc.VerifyEmail(ctx, account.ID, "erin@work.example", *second)
	require.NoError(t, err)

	addr, err = f.svc.ActiveVerifiedEmail(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "erin@work.example", addr)

	emails, err := f.svc.ListEmails(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	active := 0
	for _, e := range emails {
		if e.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	found, err := f.svc.FindByVerifiedEmail(ctx, "erin@work.example")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)

	// The code is single use.
	_, err = f.svc.VerifyEmail(ctx, account.ID, "erin@work.example", *second)
	assert.ErrorIs(t, err, domain.ErrInvalidVerificationCode)
}

func TestAddEmailRejectsInvalidAddress(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddEmail(context.Background(), 1, "not-an-address")
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
}

func TestAddEmailPropagatesSendFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, domain.RegisterRequest{Username: "frank", Password: "correct-password"})
	require.NoError(t, err)

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))
	_, err = f.svc.AddEmail(ctx, account.ID, "frank@example.com")
	assert.Error(t, err)
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.EnsureAdmin(ctx, "root", "correct-password")
	require.NoError(t, err)
	assert.True(t, created.IsAdmin())

	member, err := f.svc.Register(ctx, domain.RegisterRequest{Username: "grace", Password: "correct-password"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	promoted, err := f.svc.EnsureAdmin(ctx, "grace", "")
	require.NoError(t, err)
	assert.Equal(t, member.ID, promoted.ID)

	reloaded, err := f.svc.GetByID(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, reloaded.Role)
}

func TestSetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, domain.RegisterRequest{Username: "heidi", Password: "correct-password"})
	require.NoError(t, err)

	require.NoError(t, f.svc.SetPassword(ctx, account.ID, "brand-new-password"))
	_, err = f.svc.Authenticate(ctx, "heidi", "brand-new-password")
	assert.NoError(t, err)

	assert.ErrorIs(t, f.svc.SetPassword(ctx, account.ID+1, "brand-new-password"), domain.ErrAccountNotFound)
}
