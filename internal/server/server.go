package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/scanledger/internal/account"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/authorization"
	"github.com/smallbiznis/scanledger/internal/config"
	"github.com/smallbiznis/scanledger/internal/export"
	exportdomain "github.com/smallbiznis/scanledger/internal/export/domain"
	"github.com/smallbiznis/scanledger/internal/identity"
	"github.com/smallbiznis/scanledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/scanledger/internal/ledger/domain"
	"github.com/smallbiznis/scanledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/scanledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/scanledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/scanledger/internal/observability/tracing"
	"github.com/smallbiznis/scanledger/internal/passwordreset"
	passwordresetdomain "github.com/smallbiznis/scanledger/internal/passwordreset/domain"
	"github.com/smallbiznis/scanledger/internal/payment"
	paymentdomain "github.com/smallbiznis/scanledger/internal/payment/domain"
	"github.com/smallbiznis/scanledger/internal/providers"
	"github.com/smallbiznis/scanledger/internal/ratelimit"
	"github.com/smallbiznis/scanledger/internal/scan"
	scandomain "github.com/smallbiznis/scanledger/internal/scan/domain"
	"github.com/smallbiznis/scanledger/internal/tokenmetrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	tokenmetrics.Module,
	providers.Module,
	account.Module,
	identity.Module,
	authorization.Module,
	ledger.Module,
	export.Module,
	payment.Module,
	passwordreset.Module,
	scan.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(RunHTTP),
)

// NewEngine builds the gin engine with the request logging, tracing, CORS
// and error envelope middlewares, plus /health and /metrics.
func NewEngine(obsCfg observability.Config, cfg config.Config, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(CORS(cfg.CORS.AllowedOrigins))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	if registry != nil {
		gatherers = append(gatherers, registry)
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	pricing    *config.PricingConfigHolder
	accounts   accountdomain.Service
	ledger     ledgerdomain.Service
	exports    exportdomain.Service
	payments   paymentdomain.Service
	resets     passwordresetdomain.Service
	scans      scandomain.Service
	tokens     *identity.Tokens
	resolver   *identity.Resolver
	authz      authorization.Service
	limiter    *ratelimit.ExportLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Pricing    *config.PricingConfigHolder `optional:"true"`
	Accounts   accountdomain.Service
	Ledger     ledgerdomain.Service
	Exports    exportdomain.Service
	Payments   paymentdomain.Service
	Resets     passwordresetdomain.Service
	Scans      scandomain.Service
	Tokens     *identity.Tokens
	Resolver   *identity.Resolver
	Authz      authorization.Service
	Limiter    *ratelimit.ExportLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		pricing:    p.Pricing,
		accounts:   p.Accounts,
		ledger:     p.Ledger,
		exports:    p.Exports,
		payments:   p.Payments,
		resets:     p.Resets,
		scans:      p.Scans,
		tokens:     p.Tokens,
		resolver:   p.Resolver,
		authz:      p.Authz,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	s.registerAPIRoutes()
	s.registerAdminRoutes()
	s.registerFallback()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/register", s.Register)
	api.POST("/login", s.Login)
	api.POST("/password/forgot", s.ForgotPassword)
	api.POST("/password/reset", s.ResetPassword)

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)

	authed := api.Group("", s.AuthRequired())
	authed.GET("/me", s.Me)
	authed.GET("/transactions", s.ListTransactions)

	// -------- Scans --------
	authed.POST("/scan", s.IngestScan)
	authed.GET("/scans", s.ListScans)

	authed.GET("/emails", s.ListEmails)
	authed.POST("/emails", s.AddEmail)
	authed.POST("/emails/verify", s.VerifyEmail)

	// -------- Exports --------
	authed.GET("/exports", s.ListExports)
	metered := authed.Group("", s.ExportRateLimit())
	metered.POST("/export", s.limitBody(2*s.cfg.Export.MaxPayloadBytes), s.RunExport)
	metered.POST("/exports/:export_id/resend", s.ExportLock(), s.ResendExport)
	metered.GET("/exports/:export_id/files/:filename", s.DownloadExport)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AuthRequired())

	admin.GET("/accounts/:id", s.authorizeAction(authorization.ObjectAccount, authorization.ActionAccountView), s.GetAccount)
	admin.POST("/accounts/:id/grant", s.authorizeAction(authorization.ObjectAccount, authorization.ActionAccountGrant), s.GrantTokens)
	admin.GET("/accounts/:id/transactions", s.authorizeAction(authorization.ObjectLedger, authorization.ActionLedgerView), s.ListAccountTransactions)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
