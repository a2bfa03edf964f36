package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/scanledger/internal/config"
)

const (
	keyExportAccount = "export:account:%s"
	keyExportLock    = "export:lock:%s:%s"
)

// ExportLimiter throttles the metered export endpoints per account.
type ExportLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate    float64
	burst   int
	lockTTL time.Duration
}

// NewExportLimiter returns nil when rate limiting is disabled.
func NewExportLimiter(cfg config.Config) (*ExportLimiter, error) {
	limitCfg := cfg.Limit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	return NewExportLimiterWithClient(client, limitCfg)
}

func NewExportLimiterWithClient(client redis.UniversalClient, limitCfg config.RateLimitConfig) (*ExportLimiter, error) {
	if limitCfg.ExportRate <= 0 || limitCfg.ExportBurst <= 0 {
		return nil, errors.New("export rate limit must be positive")
	}
	lockTTL := limitCfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}

	return &ExportLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.ExportRate,
		burst:   limitCfg.ExportBurst,
		lockTTL: lockTTL,
	}, nil
}

func (l *ExportLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *ExportLimiter) AllowAccount(ctx context.Context, accountID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyExportAccount, strings.TrimSpace(accountID)), l.rate, l.burst)
}

// TryLockExport serializes work on one export of one account.
func (l *ExportLimiter) TryLockExport(ctx context.Context, accountID, exportID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, exportLockKey(accountID, exportID), l.lockTTL)
}

func (l *ExportLimiter) ReleaseExport(ctx context.Context, accountID, exportID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, exportLockKey(accountID, exportID), token)
}

func exportLockKey(accountID, exportID string) string {
	return fmt.Sprintf(keyExportLock, strings.TrimSpace(accountID), strings.TrimSpace(exportID))
}
