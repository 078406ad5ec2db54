package handlers

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"issuance-backend/internal/services"
	"issuance-backend/internal/settlement"
)

// errorStatus maps a protocol failure to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch settlement.KindOf(err) {
	case settlement.KindAuthorization:
		return http.StatusForbidden, "UNAUTHORIZED_OPERATION"
	case settlement.KindValidation:
		return http.StatusBadRequest, "INVALID_OPERATION"
	case settlement.KindState:
		return http.StatusConflict, "INVALID_STATE"
	case settlement.KindResource:
		return http.StatusUnprocessableEntity, "INSUFFICIENT_RESOURCES"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"error":  err.Error(),
		}).Error("Request failed")
		message = "internal error"
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

func respondReceipt(c *gin.Context, receipt *services.OperationReceipt) {
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"operation_id": receipt.OperationID,
		"sequence":     receipt.Sequence,
		"kind":         receipt.Kind,
		"batch":        receipt.Batch,
		"timestamp":    receipt.Time,
		"result":       receipt.Result,
		"events":       receipt.Events,
	})
}

// submitCommand binds the request body into a command of the given kind and
// submits it as sender. prepare may fill fields taken from the path.
func submitCommand(c *gin.Context, svc *services.SettlementService, sender common.Address, kind string, prepare func(*services.Command) error) {
	var cmd services.Command
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&cmd); err != nil {
			badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
			return
		}
	}
	cmd.Kind = kind
	if prepare != nil {
		if err := prepare(&cmd); err != nil {
			respondError(c, err)
			return
		}
	}

	receipt, err := svc.Submit(c.Request.Context(), sender, cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	respondReceipt(c, receipt)
}

// userAddress returns the wallet address the auth middleware stored.
func userAddress(c *gin.Context) (common.Address, bool) {
	value, ok := c.Get("user_address")
	if !ok {
		return common.Address{}, false
	}
	s, ok := value.(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func requireUser(c *gin.Context) (common.Address, bool) {
	user, ok := userAddress(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication required",
			"code":    "MISSING_USER",
		})
	}
	return user, ok
}

func addressParam(c *gin.Context, name string) (common.Address, bool) {
	value := c.Param(name)
	if !common.IsHexAddress(value) {
		badRequest(c, "INVALID_ADDRESS", "Invalid address: "+value)
		return common.Address{}, false
	}
	return common.HexToAddress(value), true
}

func intQuery(c *gin.Context, name string, def int) int {
	value := c.Query(name)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// formatUnits renders a base-unit amount with the token's decimals.
func formatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// amountView pairs the exact base-unit value with its display form.
func amountView(amount *big.Int, decimals uint8) gin.H {
	raw := "0"
	if amount != nil {
		raw = amount.String()
	}
	return gin.H{"raw": raw, "formatted": formatUnits(amount, decimals)}
}

func isNotFound(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
