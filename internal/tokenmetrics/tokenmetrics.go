package tokenmetrics

import (
	"context"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TokenMetrics owns the token-economy registry and its optional pusher.
type TokenMetrics struct {
	registry *prometheus.Registry
	metrics  *metrics
	pusher   Pusher
	log      *zap.Logger
}

func New(registry *prometheus.Registry, pusher Pusher, instanceID, version string, logger *zap.Logger) *TokenMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tm := &TokenMetrics{
		registry: registry,
		metrics:  newMetrics(registry, instanceID, version),
		pusher:   pusher,
		log:      logger.Named("tokenmetrics"),
	}
	return tm
}

// Recorder returns the event sink backed by this registry.
func (t *TokenMetrics) Recorder() Recorder {
	if t == nil {
		return NopRecorder{}
	}
	return &recorder{metrics: t.metrics}
}

func (t *TokenMetrics) Registry() *prometheus.Registry {
	if t == nil {
		return nil
	}
	return t.registry
}

func (t *TokenMetrics) Push(ctx context.Context) error {
	if t == nil || t.pusher == nil {
		return nil
	}
	return t.pusher.Push(ctx, t.registry)
}

// Refresh recomputes the account gauges from the accounts table.
func (t *TokenMetrics) Refresh(ctx context.Context, db *gorm.DB) {
	if t == nil {
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	t.metrics.memoryBytes.Set(float64(mem.Sys))

	if db == nil {
		return
	}
	var row struct {
		Accounts    int64
		Outstanding int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS accounts,
			COALESCE(SUM(CASE WHEN tokens_total > tokens_used THEN tokens_total - tokens_used ELSE 0 END), 0) AS outstanding
		FROM accounts`,
	).Scan(&row).Error
	if err != nil {
		t.log.Warn("refresh account gauges failed", zap.Error(err))
		return
	}
	t.metrics.accountsTotal.Set(float64(row.Accounts))
	t.metrics.outstandingTokens.Set(float64(row.Outstanding))
}
