package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"issuance-backend/internal/models"
	"issuance-backend/internal/repository"
	"issuance-backend/internal/services"
)

// GatewayHandler issuance gateway endpoints
type GatewayHandler struct {
	settlement  *services.SettlementService
	projections repository.ProjectionRepository
}

// NewGatewayHandler create gateway handler. projections may be nil.
func NewGatewayHandler(settlement *services.SettlementService, projections repository.ProjectionRepository) *GatewayHandler {
	return &GatewayHandler{settlement: settlement, projections: projections}
}

// GetGatewayHandler GET /api/gateway
func (h *GatewayHandler) GetGatewayHandler(c *gin.Context) {
	protocol := h.settlement.Protocol()
	state := protocol.GatewayState()
	decimals := protocol.MintToken.Decimals()

	display := gin.H{
		"first_deposit_amount": amountView(state.Params.FirstDepositAmount, decimals),
		"mint_minimum":         amountView(state.Params.MintMinimum, decimals),
	}
	if payout, err := protocol.TokenBalance(state.Params.RedeemAsset, state.Address); err == nil {
		display["liquidity"] = amountView(payout.Balance, payout.Decimals)
		display["redeem_asset_symbol"] = payout.Symbol
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"gateway": state,
		"display": display,
	})
}

// GetQueueHandler GET /api/gateway/queue?offset=&limit=
// With ?status= and a database, settled entries are read from the projection.
func (h *GatewayHandler) GetQueueHandler(c *gin.Context) {
	if status := c.Query("status"); status != "" {
		h.queueHistory(c, models.GatewayQueueStatus(status))
		return
	}

	offset := intQuery(c, "offset", 0)
	limit := intQuery(c, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	protocol := h.settlement.Protocol()
	entries := protocol.QueueEntries(offset, limit)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"total":   protocol.GatewayState().QueueLength,
		"offset":  offset,
		"entries": entries,
	})
}

func (h *GatewayHandler) queueHistory(c *gin.Context, status models.GatewayQueueStatus) {
	switch status {
	case models.GatewayQueueStatusQueued, models.GatewayQueueStatusProcessed, models.GatewayQueueStatusCancelled:
	default:
		badRequest(c, "INVALID_STATUS", "Unknown queue status: "+string(status))
		return
	}
	if h.projections == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Queue history requires a database",
			"code":    "NO_DATABASE",
		})
		return
	}

	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 20)
	entries, total, err := h.projections.FindQueueEntries(c.Request.Context(), status, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"status":    status,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"entries":   entries,
	})
}

// MintHandler POST /api/gateway/mint {asset, amount, account?}
func (h *GatewayHandler) MintHandler(c *gin.Context) {
	h.submit(c, services.KindGatewayInstantMint)
}

// RedeemHandler POST /api/gateway/redeem {amount, account?}
func (h *GatewayHandler) RedeemHandler(c *gin.Context) {
	h.submit(c, services.KindGatewayRedeemRequest)
}

// submit defaults the recipient to the caller.
func (h *GatewayHandler) submit(c *gin.Context, kind string) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	submitCommand(c, h.settlement, user, kind, func(cmd *services.Command) error {
		if cmd.Account == "" {
			cmd.Account = user.Hex()
		}
		return nil
	})
}
