package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"issuance-backend/internal/repository"
	"issuance-backend/internal/services"
)

// AdminCommandRoute binds an admin path to the command it submits.
type AdminCommandRoute struct {
	Path string
	Kind string
}

// AdminCommandRoutes lists the privileged operations exposed under /api/admin.
func AdminCommandRoutes() []AdminCommandRoute {
	return []AdminCommandRoute{
		{"/gateway/process", services.KindGatewayProcess},
		{"/gateway/cancel", services.KindGatewayCancel},
		{"/gateway/pause", services.KindGatewayPause},
		{"/gateway/unpause", services.KindGatewayUnpause},
		{"/gateway/mint-fee-rate", services.KindGatewaySetMintFeeRate},
		{"/gateway/redeem-fee-rate", services.KindGatewaySetRedeemFeeRate},
		{"/gateway/treasury", services.KindGatewaySetTreasury},
		{"/gateway/fee-to", services.KindGatewaySetFeeTo},
		{"/gateway/redeem-asset", services.KindGatewaySetRedeemAsset},
		{"/gateway/first-deposit-amount", services.KindGatewaySetFirstDepositAmount},
		{"/gateway/mint-minimum", services.KindGatewaySetMintMinimum},
		{"/gateway/first-deposit", services.KindGatewaySetFirstDeposit},

		{"/vault/pause", services.KindVaultPause},
		{"/vault/unpause", services.KindVaultUnpause},
		{"/vault/redemption-queue", services.KindVaultSetRedemptionQueue},

		{"/redemptions/delay", services.KindRedemptionSetDelay},
		{"/redemptions/vault", services.KindRedemptionSetVault},
		{"/redemptions/emergency-withdraw", services.KindRedemptionEmergencyWithdraw},

		{"/conversion/config", services.KindConversionSetConfig},
		{"/conversion/remove", services.KindConversionRemoveAsset},

		{"/roles/grant", services.KindAccessGrantRole},
		{"/roles/revoke", services.KindAccessRevokeRole},
		{"/kyc/grant", services.KindKycGrant},
		{"/kyc/revoke", services.KindKycRevoke},

		{"/tokens/mint", services.KindTokenMint},
		{"/tokens/burn", services.KindTokenBurn},
		{"/tokens/ban", services.KindTokenBan},
		{"/tokens/unban", services.KindTokenUnban},
		{"/tokens/pause", services.KindTokenPause},
		{"/tokens/unpause", services.KindTokenUnpause},
		{"/tokens/minter", services.KindTokenSetMinter},
		{"/tokens/cap", services.KindTokenSetCap},
	}
}

// AdminHandler privileged protocol operations, submitted as the configured
// operator address.
type AdminHandler struct {
	settlement *services.SettlementService
	scheduler  *services.SchedulerService
	ops        repository.OperationRepository
	operator   common.Address
	logger     *logrus.Logger
}

// NewAdminHandler create admin handler. ops may be nil without a database.
func NewAdminHandler(settlement *services.SettlementService, scheduler *services.SchedulerService, ops repository.OperationRepository, operator common.Address, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		settlement: settlement,
		scheduler:  scheduler,
		ops:        ops,
		operator:   operator,
		logger:     logger,
	}
}

// Command returns a handler submitting kind with the request body as arguments.
func (h *AdminHandler) Command(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.audit(c, kind)
		submitCommand(c, h.settlement, h.operator, kind, nil)
	}
}

// GenericCommandHandler POST /api/admin/commands {kind, ...}
func (h *AdminHandler) GenericCommandHandler(c *gin.Context) {
	var cmd services.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if !services.IsAdminKind(cmd.Kind) {
		badRequest(c, "NOT_ADMIN_COMMAND", "Command is not an admin operation: "+cmd.Kind)
		return
	}
	h.audit(c, cmd.Kind)

	receipt, err := h.settlement.Submit(c.Request.Context(), h.operator, cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	respondReceipt(c, receipt)
}

// SealBatchHandler POST /api/admin/settlement/seal
func (h *AdminHandler) SealBatchHandler(c *gin.Context) {
	h.audit(c, "settlement.seal")
	batch := h.settlement.SealBatch()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"batch":   batch,
	})
}

// RunKeeperHandler POST /api/admin/keeper/run
func (h *AdminHandler) RunKeeperHandler(c *gin.Context) {
	h.audit(c, "keeper.run")
	processed, err := h.scheduler.RunKeeper(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processed": processed,
		"remaining": h.settlement.Protocol().GatewayState().QueueLength,
	})
}

// GetRolesHandler GET /api/admin/roles
func (h *AdminHandler) GetRolesHandler(c *gin.Context) {
	members := h.settlement.Protocol().RoleMembers()
	roles := make(gin.H, len(members))
	for role, accounts := range members {
		roles[string(role)] = accounts
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"operator": h.operator.Hex(),
		"roles":    roles,
	})
}

// GetReservesHandler GET /api/admin/reserves
func (h *AdminHandler) GetReservesHandler(c *gin.Context) {
	r := h.settlement.Protocol().Reserves()
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"reserves": r,
		"solvent":  r.Solvent(),
	})
}

// ListOperationsHandler GET /api/admin/operations?after=&limit=
func (h *AdminHandler) ListOperationsHandler(c *gin.Context) {
	if !h.requireLog(c) {
		return
	}
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		badRequest(c, "INVALID_CURSOR", "Invalid after: "+c.Query("after"))
		return
	}
	limit := intQuery(c, "limit", 100)
	if limit == 0 || limit > 500 {
		limit = 500
	}

	ops, err := h.ops.ListAfter(c.Request.Context(), after, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{
		"success":    true,
		"operations": ops,
		"sequence":   h.settlement.Sequence(),
	}
	if len(ops) > 0 {
		resp["next"] = ops[len(ops)-1].Sequence
	}
	c.JSON(http.StatusOK, resp)
}

// GetOperationHandler GET /api/admin/operations/:id
func (h *AdminHandler) GetOperationHandler(c *gin.Context) {
	if !h.requireLog(c) {
		return
	}
	op, err := h.ops.GetByOperationID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "Operation not found",
				"code":    "OPERATION_NOT_FOUND",
			})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"operation": op,
	})
}

// ListEventsHandler GET /api/admin/events?component=&name=&account=&page=&page_size=
func (h *AdminHandler) ListEventsHandler(c *gin.Context) {
	if !h.requireLog(c) {
		return
	}
	filter := repository.EventFilter{
		Component: c.Query("component"),
		Name:      c.Query("name"),
		Account:   c.Query("account"),
	}
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 20)

	events, total, err := h.ops.FindEvents(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"events":    events,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *AdminHandler) requireLog(c *gin.Context) bool {
	if h.ops != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"success": false,
		"error":   "Operation log requires a database",
		"code":    "NO_DATABASE",
	})
	return false
}

func (h *AdminHandler) audit(c *gin.Context, action string) {
	username, _ := c.Get("admin_username")
	h.logger.WithFields(logrus.Fields{
		"admin":     username,
		"action":    action,
		"operator":  h.operator.Hex(),
		"client_ip": c.ClientIP(),
	}).Info("Admin operation")
}
