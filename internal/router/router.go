package router

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"issuance-backend/internal/config"
	"issuance-backend/internal/handlers"
	"issuance-backend/internal/middleware"
	"issuance-backend/internal/repository"
	"issuance-backend/internal/services"
)

// Dependencies are the services the HTTP layer serves. DB, Ops, Projections
// and NATSConnected are nil when the matching backend is not configured.
type Dependencies struct {
	Settlement    *services.SettlementService
	Scheduler     *services.SchedulerService
	Push          *services.WebSocketPushService
	DB            *gorm.DB
	Ops           repository.OperationRepository
	Projections   repository.ProjectionRepository
	NATSConnected func() bool
	Logger        *logrus.Logger
}

// corsMiddleware CORS middleware. An empty allowlist allows every origin.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowAll := len(cfg.AllowedOrigins) == 0
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			if cfg.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		case origin != "":
			logrus.WithFields(logrus.Fields{
				"request_origin": origin,
				"path":           c.Request.URL.Path,
				"method":         c.Request.Method,
				"remote_addr":    c.ClientIP(),
			}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type")
		c.Next()
	}
}

// SetupRouter builds the HTTP API.
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			logger.WithError(err).Warn("Invalid trusted proxies, ignoring")
		}
	}
	r.Use(corsMiddleware(cfg.CORS))

	if len(cfg.Admin.AllowedIPs) > 0 {
		logger.WithFields(logrus.Fields{
			"allowed_ips": cfg.Admin.AllowedIPs,
			"count":       len(cfg.Admin.AllowedIPs),
		}).Info("Admin API IP whitelist configured")
	} else {
		logger.Info("No admin.allowedIPs configured, using localhost-only mode")
	}
	localhostOnly := middleware.NewLocalhostOnly(logger, cfg.Admin.AllowedIPs)
	authMiddleware := middleware.NewAuthMiddleware(logger, []byte(cfg.Auth.JWTSecret))
	adminAuthMiddleware := middleware.NewAdminAuthMiddleware(logger, []byte(cfg.Admin.JWTSecret))

	authHandler := handlers.NewAuthHandler(cfg.Auth)
	adminAuthHandler := handlers.NewAdminAuthHandler(cfg.Admin)
	healthHandler := handlers.NewHealthHandler(deps.Settlement, deps.DB, deps.NATSConnected)
	vaultHandler := handlers.NewVaultHandler(deps.Settlement)
	redemptionHandler := handlers.NewRedemptionHandler(deps.Settlement, deps.Projections)
	gatewayHandler := handlers.NewGatewayHandler(deps.Settlement, deps.Projections)
	tokenHandler := handlers.NewTokenHandler(deps.Settlement)
	adminHandler := handlers.NewAdminHandler(deps.Settlement, deps.Scheduler, deps.Ops, common.HexToAddress(cfg.Admin.Operator), logger)

	// ============ Check ============
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/health", healthHandler.HealthCheckHandler)
	r.GET("/api/health", healthHandler.HealthCheckHandler)

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// ============ Wallet Auth ============
	auth := api.Group("/auth")
	if cfg.Server.AuthRateLimit > 0 {
		auth.Use(middleware.NewRateLimiter(logger, cfg.Server.AuthRateLimit, cfg.Server.AuthRateBurst).Limit())
	}
	auth.POST("/nonce", authHandler.GenerateNonceHandler)
	auth.POST("/login", authHandler.LoginHandler)

	requireAuth := authMiddleware.RequireAuth()

	// ============ Vault ============
	vault := api.Group("/vault")
	vault.GET("", vaultHandler.GetVaultHandler)
	vault.GET("/accounts/:address", vaultHandler.GetAccountHandler)
	vault.POST("/stake", requireAuth, vaultHandler.StakeHandler)
	vault.POST("/stake-for", requireAuth, vaultHandler.StakeForHandler)
	vault.POST("/unstake", requireAuth, vaultHandler.UnstakeHandler)
	vault.POST("/transfer", requireAuth, vaultHandler.TransferHandler)
	vault.POST("/approve", requireAuth, vaultHandler.ApproveHandler)

	// ============ Redemptions ============
	redemptions := api.Group("/redemptions")
	redemptions.GET("/:address", redemptionHandler.ListRedemptionsHandler)
	redemptions.POST("/:index/claim", requireAuth, redemptionHandler.ClaimHandler)

	// ============ Gateway ============
	gateway := api.Group("/gateway")
	gateway.GET("", gatewayHandler.GetGatewayHandler)
	gateway.GET("/queue", gatewayHandler.GetQueueHandler)
	gateway.POST("/mint", requireAuth, gatewayHandler.MintHandler)
	gateway.POST("/redeem", requireAuth, gatewayHandler.RedeemHandler)

	// ============ Tokens ============
	tokens := api.Group("/tokens")
	tokens.GET("", tokenHandler.ListTokensHandler)
	tokens.GET("/:address/balances/:account", tokenHandler.GetBalanceHandler)
	tokens.POST("/:address/approve", requireAuth, tokenHandler.ApproveHandler)
	tokens.POST("/:address/transfer", requireAuth, tokenHandler.TransferHandler)

	// ============ WebSocket ============
	if deps.Push != nil {
		wsHandler := handlers.NewWebSocketHandler(deps.Push, []byte(cfg.Auth.JWTSecret))
		api.GET("/ws", wsHandler.HandleWebSocket)
		api.GET("/ws/stats", localhostOnly.Restrict(), wsHandler.GetStatsHandler)
	}

	// ============ Admin (IP allowlist + TOTP login + admin JWT) ============
	adminAuth := api.Group("/admin/auth", localhostOnly.Restrict())
	if cfg.Server.AuthRateLimit > 0 {
		adminAuth.Use(middleware.NewRateLimiter(logger, cfg.Server.AuthRateLimit, cfg.Server.AuthRateBurst).Limit())
	}
	adminAuth.POST("/login", adminAuthHandler.AdminLoginHandler)
	adminAuth.POST("/totp", adminAuthHandler.GenerateTOTPSecretHandler)

	admin := api.Group("/admin", localhostOnly.Restrict(), adminAuthMiddleware.RequireAdminAuth())
	for _, route := range handlers.AdminCommandRoutes() {
		admin.POST(route.Path, adminHandler.Command(route.Kind))
	}
	admin.POST("/commands", adminHandler.GenericCommandHandler)
	admin.POST("/settlement/seal", adminHandler.SealBatchHandler)
	admin.POST("/keeper/run", adminHandler.RunKeeperHandler)
	admin.GET("/roles", adminHandler.GetRolesHandler)
	admin.GET("/reserves", adminHandler.GetReservesHandler)
	admin.GET("/operations", adminHandler.ListOperationsHandler)
	admin.GET("/operations/:id", adminHandler.GetOperationHandler)
	admin.GET("/events", adminHandler.ListEventsHandler)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "API endpoint not found",
			"path":    c.Request.URL.Path,
			"code":    "NOT_FOUND",
		})
	})

	return r
}
