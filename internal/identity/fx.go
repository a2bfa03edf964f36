package identity

import (
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("identity",
	fx.Provide(func(accounts accountdomain.Service) *Resolver {
		return NewResolver(accounts)
	}),
	fx.Provide(NewTokens),
)
