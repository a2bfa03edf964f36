package identity

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
)

var ErrUnresolved = errors.New("identity_unresolved")

type AccountLookup interface {
	GetByID(ctx context.Context, id snowflake.ID) (*accountdomain.Account, error)
	GetByUsername(ctx context.Context, username string) (*accountdomain.Account, error)
}

type Resolver struct {
	accounts AccountLookup
}

func NewResolver(accounts AccountLookup) *Resolver {
	return &Resolver{accounts: accounts}
}

// Resolve looks up a single variant.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (*accountdomain.Account, error) {
	switch id.Kind {
	case KindAccountID:
		return r.accounts.GetByID(ctx, id.AccountID)
	case KindUsername:
		return r.accounts.GetByUsername(ctx, id.Username)
	default:
		return nil, ErrUnresolved
	}
}

// ResolveSubject tries each candidate of subject in order and returns the
// first account found. Storage errors stop the search.
func (r *Resolver) ResolveSubject(ctx context.Context, subject string) (*accountdomain.Account, error) {
	for _, candidate := range Candidates(subject) {
		account, err := r.Resolve(ctx, candidate)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, accountdomain.ErrAccountNotFound) {
			return nil, err
		}
	}
	return nil, ErrUnresolved
}
