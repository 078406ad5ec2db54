package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"issuance-backend/internal/services"
)

// HealthHandler reports liveness and the state of optional dependencies
type HealthHandler struct {
	settlement    *services.SettlementService
	db            *gorm.DB
	natsConnected func() bool
}

// NewHealthHandler db and natsConnected may be nil when those are not configured.
func NewHealthHandler(settlement *services.SettlementService, db *gorm.DB, natsConnected func() bool) *HealthHandler {
	return &HealthHandler{settlement: settlement, db: db, natsConnected: natsConnected}
}

// HealthCheckHandler GET /health
func (h *HealthHandler) HealthCheckHandler(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if h.db != nil {
		checks["database"] = "ok"
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	} else {
		checks["database"] = "disabled"
	}

	if h.natsConnected != nil {
		if h.natsConnected() {
			checks["nats"] = "ok"
		} else {
			checks["nats"] = "disconnected"
		}
	} else {
		checks["nats"] = "disabled"
	}

	health := "ok"
	if status != http.StatusOK {
		health = "degraded"
	}
	c.JSON(status, gin.H{
		"status":   health,
		"service":  "issuance-backend",
		"sequence": h.settlement.Sequence(),
		"batch":    h.settlement.Protocol().Engine.Batch(),
		"checks":   checks,
	})
}
