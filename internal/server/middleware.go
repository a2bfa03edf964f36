package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/identity"
	obscontext "github.com/smallbiznis/scanledger/internal/observability/context"
	"github.com/smallbiznis/scanledger/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	headerAuthorization = "Authorization"
	bearerPrefix        = "bearer "
	contextAccountKey   = "account"
)

// AuthRequired resolves the bearer token subject to an account.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerAuthorization))
		if len(raw) <= len(bearerPrefix) || !strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		subject, err := s.tokens.Subject(raw[len(bearerPrefix):])
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		account, err := s.resolver.ResolveSubject(c.Request.Context(), subject)
		if err != nil {
			if errors.Is(err, identity.ErrUnresolved) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			AbortWithError(c, err)
			return
		}

		c.Set(contextAccountKey, account)
		c.Request = c.Request.WithContext(obscontext.WithAccountID(c.Request.Context(), account.ID.String()))
		c.Next()
	}
}

func currentAccount(c *gin.Context) (*accountdomain.Account, bool) {
	value, ok := c.Get(contextAccountKey)
	if !ok {
		return nil, false
	}
	account, ok := value.(*accountdomain.Account)
	return account, ok && account != nil
}

// authorizeAction gates a route on the caller's casbin role.
func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := currentAccount(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authz.Authorize(c.Request.Context(), actor, object, action); err != nil {
			logger.FromContext(c.Request.Context()).Warn("authorization denied",
				zap.String("object", object),
				zap.String("action", action),
				zap.Error(err),
			)
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// CORS allows the configured frontend origins. An empty list disables
// cross-origin access.
func CORS(origins []string) gin.HandlerFunc {
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowed = append(allowed, trimmed)
		}
	}
	if len(allowed) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return cors.New(cors.Config{
		AllowOrigins:     allowed,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", logger.HeaderRequestID},
		ExposeHeaders:    []string{"Content-Disposition", "Retry-After", logger.HeaderRequestID},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}
