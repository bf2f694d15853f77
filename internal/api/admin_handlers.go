package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/events"
	"github.com/fanzplatform/go-mfa-service/internal/service"
)

// AdminHandlers contains handlers for internal admin API endpoints
type AdminHandlers struct {
	services *service.Services
	hub      *events.Hub
	logger   *zap.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(services *service.Services, hub *events.Hub, logger *zap.Logger) *AdminHandlers {
	return &AdminHandlers{
		services: services,
		hub:      hub,
		logger:   logger,
	}
}

// Stats returns aggregate device and challenge counts for monitoring
func (h *AdminHandlers) Stats(c *gin.Context) {
	stats, err := h.services.MFA.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to collect stats", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to collect stats"})
		return
	}

	c.JSON(200, gin.H{
		"stats":             stats,
		"event_subscribers": h.hub.SubscriberCount(),
	})
}

// Events upgrades the connection and streams MFA lifecycle events
func (h *AdminHandlers) Events(c *gin.Context) {
	h.hub.HandleConnection(c.Writer, c.Request)
}
