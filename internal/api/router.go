package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/pkg/config"
	"github.com/fanzplatform/go-mfa-service/pkg/middleware"
)

// NewRouter builds the gin engine with all routes and middleware wired.
func NewRouter(h *Handlers, admin *AdminHandlers, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORS.AllowedOrigins,
		AllowMethods:     cfg.Server.CORS.AllowedMethods,
		AllowHeaders:     cfg.Server.CORS.AllowedHeaders,
		AllowCredentials: cfg.Server.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.Server.CORS.MaxAge) * time.Second,
	}))

	router.GET("/status", h.Status)
	router.GET("/health", h.Status)

	limiter := middleware.NewVerifyRateLimiter(cfg.Server.RateLimit, logger)

	mfa := router.Group("/mfa")
	mfa.Use(middleware.AuthMiddleware(cfg, logger))
	{
		mfa.POST("/totp/setup", h.SetupTOTP)
		mfa.POST("/sms/setup", h.SetupSMS)
		mfa.POST("/webauthn/setup", h.SetupWebAuthn)

		mfa.GET("/devices", h.ListDevices)
		mfa.DELETE("/devices/:id", h.RemoveDevice)
		mfa.GET("/enabled", h.MFAEnabled)
		mfa.GET("/recovery-codes", h.RecoveryCodesRemaining)
		mfa.POST("/recovery-codes", h.RegenerateRecoveryCodes)
		mfa.POST("/challenges", h.CreateChallenge)

		// Code submission endpoints get the per-user rate limit on top of
		// the per-challenge attempt budget.
		verify := mfa.Group("")
		verify.Use(middleware.VerifyRateLimitMiddleware(limiter))
		{
			verify.POST("/totp/verify", h.VerifyTOTPSetup)
			verify.POST("/sms/verify", h.VerifySMSSetup)
			verify.POST("/webauthn/verify", h.VerifyWebAuthnSetup)
			verify.POST("/challenges/:id/verify", h.VerifyChallenge)
		}
	}

	adminGroup := router.Group("/admin/mfa")
	adminGroup.Use(middleware.AdminAuthMiddleware(cfg.Server.AdminToken, logger))
	{
		adminGroup.GET("/stats", admin.Stats)
		adminGroup.GET("/events", admin.Events)
	}

	return router
}
