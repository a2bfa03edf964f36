package authorization

import (
	"context"
	"errors"

	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
)

const (
	ObjectAccount = "account"
	ObjectLedger  = "ledger"
)

const (
	ActionAccountView  = "account.view"
	ActionAccountGrant = "account.grant"
	ActionLedgerView   = "ledger.view"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

type Service interface {
	// Authorize returns ErrForbidden when the account's role does not
	// allow action on object.
	Authorize(ctx context.Context, actor *accountdomain.Account, object, action string) error
}
