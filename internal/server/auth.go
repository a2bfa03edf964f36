package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/config"
	ledgerdomain "github.com/smallbiznis/scanledger/internal/ledger/domain"
	"github.com/smallbiznis/scanledger/internal/observability/logger"
	"go.uber.org/zap"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type AccountResponse struct {
	ID          string           `json:"id"`
	Username    string           `json:"username"`
	Role        string           `json:"role"`
	TokensTotal int64            `json:"tokens_total"`
	TokensUsed  int64            `json:"tokens_used"`
	TokensLeft  int64            `json:"tokens_left"`
	Pricing     *PricingResponse `json:"pricing,omitempty"`
}

// PricingResponse is the current price list: token costs of the metered
// operations and the purchase price of one token in minor currency units.
type PricingResponse struct {
	ExportCost     int64  `json:"export_cost"`
	DownloadCost   int64  `json:"download_cost"`
	TokenUnitPrice int64  `json:"token_unit_price"`
	Currency       string `json:"currency"`
}

func newPricingResponse(p config.PricingConfig) *PricingResponse {
	return &PricingResponse{
		ExportCost:     p.ExportCost,
		DownloadCost:   p.DownloadCost,
		TokenUnitPrice: p.TokenUnitPrice,
		Currency:       p.Currency,
	}
}

func newAccountResponse(a *accountdomain.Account) AccountResponse {
	return AccountResponse{
		ID:          a.ID.String(),
		Username:    a.Username,
		Role:        a.Role,
		TokensTotal: a.TokensTotal,
		TokensUsed:  a.TokensUsed,
		TokensLeft:  ledgerdomain.TokensLeft(a.TokensTotal, a.TokensUsed),
	}
}

type AddEmailRequest struct {
	Email string `json:"email"`
}

type VerifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type ForgotPasswordRequest struct {
	// Identifier is a username or a verified email address.
	Identifier string `json:"identifier"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accounts.Register(c.Request.Context(), accountdomain.RegisterRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       account.ID.String(),
		"username": account.Username,
	})
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accounts.Authenticate(c.Request.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	token, expiresAt, err := s.tokens.Issue(account.ID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	})
}

func (s *Server) Me(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	resp := newAccountResponse(account)
	resp.Pricing = newPricingResponse(s.pricing.Get())
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListTransactions(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req ledgerdomain.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledger.ListTransactions(c.Request.Context(), account.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListEmails(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	emails, err := s.accounts.ListEmails(c.Request.Context(), account.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails})
}

func (s *Server) AddEmail(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req AddEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	address, err := s.accounts.AddEmail(c.Request.Context(), account.ID, req.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, address)
}

func (s *Server) VerifyEmail(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	address, err := s.accounts.VerifyEmail(c.Request.Context(), account.ID, req.Email, req.Code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, address)
}

// ForgotPassword always answers 200 so callers cannot enumerate accounts.
func (s *Server) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.resets.RequestReset(c.Request.Context(), req.Identifier); err != nil {
		logger.FromContext(c.Request.Context()).Error("password reset request failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "If the account exists, a reset link has been sent to its verified email address.",
	})
}

func (s *Server) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.resets.Reset(c.Request.Context(), req.Token, req.Password); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated."})
}
