package pdf

import (
	"github.com/smallbiznis/scanledger/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(func(cfg config.Config) Provider {
		return New(cfg.AppName)
	}),
)
