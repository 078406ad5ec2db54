package handlers

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"issuance-backend/internal/services"
	"issuance-backend/internal/token"
)

// TokenHandler reference token ledger endpoints
type TokenHandler struct {
	settlement *services.SettlementService
}

// NewTokenHandler create token handler
func NewTokenHandler(settlement *services.SettlementService) *TokenHandler {
	return &TokenHandler{settlement: settlement}
}

// ListTokensHandler GET /api/tokens
func (h *TokenHandler) ListTokensHandler(c *gin.Context) {
	infos := h.settlement.Protocol().TokenInfos()
	views := make([]gin.H, 0, len(infos))
	for _, info := range infos {
		views = append(views, gin.H{
			"token":        info,
			"total_supply": amountView(info.TotalSupply, info.Decimals),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"tokens":  views,
	})
}

// GetBalanceHandler GET /api/tokens/:address/balances/:account
// :address accepts a symbol as well.
func (h *TokenHandler) GetBalanceHandler(c *gin.Context) {
	tokenAddr, ok := h.resolve(c)
	if !ok {
		return
	}
	account, ok := addressParam(c, "account")
	if !ok {
		return
	}

	balance, err := h.settlement.Protocol().TokenBalance(tokenAddr, account)
	if err != nil {
		h.tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"balance": balance,
		"display": amountView(balance.Balance, balance.Decimals),
	})
}

// ApproveHandler POST /api/tokens/:address/approve {account, amount}
func (h *TokenHandler) ApproveHandler(c *gin.Context) {
	h.submit(c, services.KindTokenApprove)
}

// TransferHandler POST /api/tokens/:address/transfer {to, amount, from?}
func (h *TokenHandler) TransferHandler(c *gin.Context) {
	h.submit(c, services.KindTokenTransfer)
}

func (h *TokenHandler) submit(c *gin.Context, kind string) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	tokenAddr, ok := h.resolve(c)
	if !ok {
		return
	}
	submitCommand(c, h.settlement, user, kind, func(cmd *services.Command) error {
		cmd.Token = tokenAddr.Hex()
		if kind == services.KindTokenTransfer && cmd.From != "" {
			cmd.Kind = services.KindTokenTransferFrom
		}
		return nil
	})
}

func (h *TokenHandler) resolve(c *gin.Context) (common.Address, bool) {
	addr, err := h.settlement.Protocol().ResolveToken(c.Param("address"))
	if err != nil {
		h.tokenError(c, err)
		return common.Address{}, false
	}
	return addr, true
}

func (h *TokenHandler) tokenError(c *gin.Context, err error) {
	if isNotFound(err, token.ErrUnknownToken) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "TOKEN_NOT_FOUND",
		})
		return
	}
	respondError(c, err)
}
