package authorization

import (
	"context"
	"testing"

	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) Service {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	enforcer, err := NewEnforcer(conn)
	if err != nil {
		t.Fatalf("failed to create enforcer: %v", err)
	}
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeAdmin(t *testing.T) {
	svc := newService(t)
	admin := &accountdomain.Account{ID: 1, Role: accountdomain.RoleAdmin}

	ctx := context.Background()
	assert.NoError(t, svc.Authorize(ctx, admin, ObjectAccount, ActionAccountView))
	assert.NoError(t, svc.Authorize(ctx, admin, ObjectAccount, ActionAccountGrant))
	assert.NoError(t, svc.Authorize(ctx, admin, ObjectLedger, ActionLedgerView))
	assert.ErrorIs(t, svc.Authorize(ctx, admin, ObjectLedger, ActionAccountGrant), ErrForbidden)
}

func TestAuthorizeMemberIsForbidden(t *testing.T) {
	svc := newService(t)
	member := &accountdomain.Account{ID: 2, Role: accountdomain.RoleMember}

	assert.ErrorIs(t, svc.Authorize(context.Background(), member, ObjectAccount, ActionAccountGrant), ErrForbidden)
}

func TestAuthorizeFollowsRoleChanges(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	account := &accountdomain.Account{ID: 3, Role: accountdomain.RoleAdmin}
	require.NoError(t, svc.Authorize(ctx, account, ObjectAccount, ActionAccountView))

	account.Role = accountdomain.RoleMember
	assert.ErrorIs(t, svc.Authorize(ctx, account, ObjectAccount, ActionAccountView), ErrForbidden)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	admin := &accountdomain.Account{ID: 1, Role: accountdomain.RoleAdmin}

	assert.ErrorIs(t, svc.Authorize(ctx, nil, ObjectAccount, ActionAccountView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, admin, " ", ActionAccountView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, admin, ObjectAccount, ""), ErrInvalidAction)
}

func TestNewEnforcerIsIdempotent(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	_, err = NewEnforcer(conn)
	require.NoError(t, err)
	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)

	policies, err := enforcer.GetPolicy()
	require.NoError(t, err)
	assert.Len(t, policies, 3)
}
