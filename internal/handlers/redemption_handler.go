package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"issuance-backend/internal/repository"
	"issuance-backend/internal/services"
)

// RedemptionHandler delayed vault redemption endpoints
type RedemptionHandler struct {
	settlement  *services.SettlementService
	projections repository.ProjectionRepository
}

// NewRedemptionHandler create redemption handler. projections may be nil
// when the service runs without a database.
func NewRedemptionHandler(settlement *services.SettlementService, projections repository.ProjectionRepository) *RedemptionHandler {
	return &RedemptionHandler{settlement: settlement, projections: projections}
}

// ListRedemptionsHandler GET /api/redemptions/:address
func (h *RedemptionHandler) ListRedemptionsHandler(c *gin.Context) {
	account, ok := addressParam(c, "address")
	if !ok {
		return
	}
	protocol := h.settlement.Protocol()
	decimals := protocol.VaultState().Decimals
	now := protocol.Engine.Now()

	redemptions := protocol.AccountState(account).Redemptions
	views := make([]gin.H, 0, len(redemptions))
	for _, r := range redemptions {
		views = append(views, gin.H{
			"index":        r.Index,
			"assets":       amountView(r.Assets, decimals),
			"shares":       amountView(r.Shares, decimals),
			"queued_at":    r.QueuedAt,
			"claimable_at": r.ClaimableAt,
			"status":       r.Status,
			"claimable":    !r.Processed() && !now.Before(r.ClaimableAt),
		})
	}

	resp := gin.H{
		"success":     true,
		"account":     account.Hex(),
		"redemptions": views,
	}
	if h.projections != nil {
		history, err := h.projections.FindRedemptionsByUser(c.Request.Context(), strings.ToLower(account.Hex()))
		if err != nil {
			respondError(c, err)
			return
		}
		resp["history"] = history
	}
	c.JSON(http.StatusOK, resp)
}

// ClaimHandler POST /api/redemptions/:index/claim
func (h *RedemptionHandler) ClaimHandler(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		badRequest(c, "INVALID_INDEX", "Invalid redemption index: "+c.Param("index"))
		return
	}
	submitCommand(c, h.settlement, user, services.KindRedemptionClaim, func(cmd *services.Command) error {
		cmd.Index = index
		return nil
	})
}
