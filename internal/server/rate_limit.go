package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/scanledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/scanledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	rateLimitReasonAccountRate       = "account-rate"
	rateLimitReasonExportConcurrency = "export-concurrency"
)

// ExportRateLimit throttles the metered endpoints per account. It is a
// no-op when no limiter is configured.
func (s *Server) ExportRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		account, ok := currentAccount(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		result, err := s.limiter.AllowAccount(ctx, account.ID.String())
		if err != nil {
			logger.FromContext(ctx).Warn("export rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			denyExportRateLimit(c, endpoint, rateLimitReasonAccountRate, retryAfter, s.obsMetrics)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Next()
	}
}

// ExportLock lets one resend of a given export run at a time per account.
func (s *Server) ExportLock() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		account, ok := currentAccount(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		exportID := strings.TrimSpace(c.Param("export_id"))
		if exportID == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		token, allowed, err := s.limiter.TryLockExport(ctx, account.ID.String(), exportID)
		if err != nil {
			logger.FromContext(ctx).Warn("export lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !allowed {
			denyExportRateLimit(c, normalizeRateLimitEndpoint(c), rateLimitReasonExportConcurrency, 1, s.obsMetrics)
			return
		}
		defer func() {
			if err := s.limiter.ReleaseExport(ctx, account.ID.String(), exportID, token); err != nil {
				logger.FromContext(ctx).Warn("export unlock failed", zap.Error(err))
			}
		}()

		c.Next()
	}
}

func denyExportRateLimit(c *gin.Context, endpoint, reason string, retryAfter int, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("export rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, reason, metrics)

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	abortExportError(c, ErrRateLimited)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
