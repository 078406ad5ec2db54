package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"issuance-backend/internal/services"
)

// VaultHandler staking vault endpoints
type VaultHandler struct {
	settlement *services.SettlementService
}

// NewVaultHandler create vault handler
func NewVaultHandler(settlement *services.SettlementService) *VaultHandler {
	return &VaultHandler{settlement: settlement}
}

// GetVaultHandler GET /api/vault
func (h *VaultHandler) GetVaultHandler(c *gin.Context) {
	state := h.settlement.Protocol().VaultState()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"vault":   state,
		"display": gin.H{
			"total_assets":   amountView(state.TotalAssets, state.Decimals),
			"total_supply":   amountView(state.TotalSupply, state.Decimals),
			"pending_assets": amountView(state.PendingAssets, state.Decimals),
		},
	})
}

// GetAccountHandler GET /api/vault/accounts/:address
func (h *VaultHandler) GetAccountHandler(c *gin.Context) {
	account, ok := addressParam(c, "address")
	if !ok {
		return
	}
	protocol := h.settlement.Protocol()
	decimals := protocol.VaultState().Decimals
	state := protocol.AccountState(account)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"account": state,
		"display": gin.H{
			"shares":          amountView(state.Shares, decimals),
			"share_value":     amountView(state.ShareValue, decimals),
			"asset_balance":   amountView(state.AssetBalance, decimals),
			"gateway_pending": amountView(state.GatewayPending, decimals),
		},
	})
}

// StakeHandler POST /api/vault/stake {amount}
func (h *VaultHandler) StakeHandler(c *gin.Context) {
	h.submit(c, services.KindVaultStake)
}

// StakeForHandler POST /api/vault/stake-for {account, amount}
func (h *VaultHandler) StakeForHandler(c *gin.Context) {
	h.submit(c, services.KindVaultStakeFor)
}

// UnstakeHandler POST /api/vault/unstake {amount} in shares
func (h *VaultHandler) UnstakeHandler(c *gin.Context) {
	h.submit(c, services.KindVaultUnstake)
}

// TransferHandler POST /api/vault/transfer {to, amount}; with from it spends an allowance
func (h *VaultHandler) TransferHandler(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	submitCommand(c, h.settlement, user, services.KindVaultTransfer, func(cmd *services.Command) error {
		if cmd.From != "" {
			cmd.Kind = services.KindVaultTransferFrom
		}
		return nil
	})
}

// ApproveHandler POST /api/vault/approve {account, amount}
func (h *VaultHandler) ApproveHandler(c *gin.Context) {
	h.submit(c, services.KindVaultApprove)
}

func (h *VaultHandler) submit(c *gin.Context, kind string) {
	user, ok := requireUser(c)
	if !ok {
		return
	}
	submitCommand(c, h.settlement, user, kind, nil)
}
