package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/scanledger/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/scanledger/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

var signatureHeaders = map[string]string{
	paymentdomain.ProviderStripe: "Stripe-Signature",
}

// HandlePaymentWebhook answers 404 for providers without a registered
// verifier and acknowledges every processed outcome with 200. Only invalid
// deliveries (400) and storage failures (500) ask the provider to retry.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	header, ok := signatureHeaders[provider]
	if !ok || !s.payments.SupportsProvider(provider) {
		AbortWithError(c, paymentdomain.ErrProviderNotFound)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.payments.HandleEvent(c.Request.Context(), provider, payload, c.GetHeader(header))
	if err != nil {
		if !errors.Is(err, paymentdomain.ErrInvalidSignature) && !errors.Is(err, paymentdomain.ErrInvalidPayload) {
			logger.FromContext(c.Request.Context()).Error("payment webhook failed",
				zap.String("provider", provider),
				zap.Error(err),
			)
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": outcome})
}
