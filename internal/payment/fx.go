package payment

import (
	"github.com/smallbiznis/scanledger/internal/config"
	"github.com/smallbiznis/scanledger/internal/payment/adapters"
	"github.com/smallbiznis/scanledger/internal/payment/adapters/stripe"
	"github.com/smallbiznis/scanledger/internal/payment/domain"
	"github.com/smallbiznis/scanledger/internal/payment/repository"
	"github.com/smallbiznis/scanledger/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(newRegistry),
	fx.Provide(service.New),
)

func newRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	var verifiers []domain.EventVerifier
	if verifier, err := stripe.NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.Tolerance); err == nil {
		verifiers = append(verifiers, verifier)
	} else {
		log.Warn("stripe webhook disabled: STRIPE_WEBHOOK_SECRET not set")
	}
	return adapters.NewRegistry(verifiers...)
}
