package migration

import (
	"context"

	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		return Apply(conn, cfg.DBType)
	}),
)

// BootstrapModule creates the configured admin account after migrations
// have run. It is a no-op when no admin username is configured.
var BootstrapModule = fx.Module("bootstrap",
	fx.Invoke(func(cfg config.Config, accounts accountdomain.Service, log *zap.Logger) error {
		return Bootstrap(context.Background(), cfg.Bootstrap, accounts, log)
	}),
)

func Bootstrap(ctx context.Context, cfg config.BootstrapConfig, accounts accountdomain.Service, log *zap.Logger) error {
	if cfg.AdminUsername == "" {
		return nil
	}
	admin, err := accounts.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		return err
	}
	log.Info("bootstrap admin ready",
		zap.String("account_id", admin.ID.String()),
		zap.String("username", admin.Username),
	)
	return nil
}
