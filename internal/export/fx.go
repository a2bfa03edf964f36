package export

import (
	"github.com/smallbiznis/scanledger/internal/config"
	"github.com/smallbiznis/scanledger/internal/export/repository"
	"github.com/smallbiznis/scanledger/internal/export/service"
	"github.com/smallbiznis/scanledger/internal/export/storage"
	"github.com/spf13/afero"
	"go.uber.org/fx"
)

var Module = fx.Module("export.service",
	fx.Provide(func(cfg config.Config) *storage.Storage {
		return storage.New(afero.NewOsFs(), cfg.Export.Root)
	}),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
