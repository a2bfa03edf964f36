package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/scanledger/internal/ledger/domain"
)

type GrantTokensRequest struct {
	Tokens int64  `json:"tokens"`
	Reason string `json:"reason"`
}

func (s *Server) GetAccount(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.accounts.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAccountResponse(account))
}

// GrantTokens credits an account outside the payment flow.
func (s *Server) GrantTokens(c *gin.Context) {
	actor, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req GrantTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Tokens <= 0 {
		AbortWithError(c, newValidationError("tokens", "invalid_tokens", "tokens must be positive"))
		return
	}

	entry := ledgerdomain.Entry{
		Source:    ledgerdomain.SourceAdminGrant,
		Reference: actor.ID.String(),
		Metadata: map[string]any{
			"granted_by": actor.Username,
			"reason":     strings.TrimSpace(req.Reason),
		},
	}
	if err := s.ledger.Credit(c.Request.Context(), id, req.Tokens, entry); err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledger.Balance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":   balance.AccountID.String(),
		"tokens_total": balance.Total,
		"tokens_used":  balance.Used,
		"tokens_left":  balance.Left(),
	})
}

func (s *Server) ListAccountTransactions(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req ledgerdomain.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledger.ListTransactions(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := parseOptionalSnowflakeID(c.Param(name))
	if err != nil || id == nil {
		return 0, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	return *id, nil
}
