package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"issuance-backend/internal/services"
)

// WebSocketHandler upgrades authenticated clients onto the event push stream
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
	secret      []byte
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(pushService *services.WebSocketPushService, secret []byte) *WebSocketHandler {
	return &WebSocketHandler{pushService: pushService, secret: secret}
}

// HandleWebSocket GET /api/ws. Browsers cannot set headers on upgrade
// requests, so the session token may also come as ?token=.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	tokenString := c.Query("token")
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tokenString = strings.TrimPrefix(auth, "Bearer ")
	}
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication required",
			"code":    "MISSING_TOKEN",
		})
		return
	}

	claims, err := ValidateJWTToken(h.secret, tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid or expired token",
			"code":    "INVALID_TOKEN",
		})
		return
	}

	h.pushService.HandleWebSocket(c.Writer, c.Request, claims.UserAddress)
}

// GetStatsHandler GET /api/ws/stats
func (h *WebSocketHandler) GetStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"active_connections": h.pushService.GetActiveConnections(),
	})
}
