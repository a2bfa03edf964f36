package passwordreset

import (
	"github.com/smallbiznis/scanledger/internal/passwordreset/repository"
	"github.com/smallbiznis/scanledger/internal/passwordreset/service"
	"go.uber.org/fx"
)

var Module = fx.Module("passwordreset.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
