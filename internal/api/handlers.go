package api

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
	"github.com/fanzplatform/go-mfa-service/internal/service"
	"github.com/fanzplatform/go-mfa-service/pkg/config"
	"github.com/fanzplatform/go-mfa-service/pkg/middleware"
)

// Handlers aggregates all HTTP handlers
type Handlers struct {
	services *service.Services
	cfg      *config.Config
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services *service.Services, cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		services: services,
		cfg:      cfg,
		logger:   logger.Named("handlers"),
	}
}

// Status handles the /status endpoint
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "ok",
		"service": "mfa-service",
	})
}

// TOTP handlers

type setupTOTPRequest struct {
	DeviceName string `json:"device_name" binding:"required"`
}

// SetupTOTP begins TOTP enrollment for the authenticated user
func (h *Handlers) SetupTOTP(c *gin.Context) {
	var req setupTOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.services.MFA.SetupTOTP(c.Request.Context(), middleware.UserID(c), req.DeviceName)
	if err != nil {
		h.logger.Error("Failed to start TOTP setup", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to start TOTP setup"})
		return
	}

	c.JSON(200, resp)
}

type verifyTOTPRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Token    string `json:"token" binding:"required"`
}

// VerifyTOTPSetup confirms TOTP enrollment with a token from the
// authenticator app
func (h *Handlers) VerifyTOTPSetup(c *gin.Context) {
	var req verifyTOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.services.MFA.VerifyTOTPSetup(c.Request.Context(), middleware.UserID(c), req.DeviceID, req.Token)
	if err != nil {
		h.serviceError(c, err, "Failed to verify TOTP setup")
		return
	}
	if !ok {
		c.JSON(400, gin.H{"verified": false, "error": "Invalid token"})
		return
	}

	c.JSON(200, gin.H{"verified": true})
}

// SMS handlers

type setupSMSRequest struct {
	DeviceName  string `json:"device_name" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// SetupSMS begins SMS enrollment for the authenticated user
func (h *Handlers) SetupSMS(c *gin.Context) {
	var req setupSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.services.MFA.SetupSMS(c.Request.Context(), middleware.UserID(c), req.DeviceName, req.PhoneNumber)
	if err != nil {
		h.serviceError(c, err, "Failed to start SMS setup")
		return
	}

	c.JSON(200, resp)
}

type verifyCodeRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

// VerifySMSSetup confirms SMS enrollment with the code delivered to the
// phone
func (h *Handlers) VerifySMSSetup(c *gin.Context) {
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.services.MFA.VerifySMSSetup(c.Request.Context(), middleware.UserID(c), req.DeviceID, req.Code)
	if err != nil {
		h.serviceError(c, err, "Failed to verify SMS setup")
		return
	}

	c.JSON(outcomeStatus(outcome), outcome)
}

// WebAuthn handlers

type setupWebAuthnRequest struct {
	DeviceName string `json:"device_name" binding:"required"`
}

// SetupWebAuthn begins passkey enrollment for the authenticated user
func (h *Handlers) SetupWebAuthn(c *gin.Context) {
	var req setupWebAuthnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.services.MFA.SetupWebAuthn(c.Request.Context(), middleware.UserID(c), req.DeviceName)
	if err != nil {
		h.logger.Error("Failed to start WebAuthn setup", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to start WebAuthn setup"})
		return
	}

	c.JSON(200, resp)
}

type verifyWebAuthnRequest struct {
	DeviceID string          `json:"device_id" binding:"required"`
	Response json.RawMessage `json:"response" binding:"required"`
}

// VerifyWebAuthnSetup completes passkey enrollment with the browser's
// attestation response
func (h *Handlers) VerifyWebAuthnSetup(c *gin.Context) {
	var req verifyWebAuthnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.services.MFA.VerifyWebAuthnSetup(c.Request.Context(), middleware.UserID(c), req.DeviceID, req.Response)
	if err != nil {
		h.serviceError(c, err, "Failed to verify WebAuthn setup")
		return
	}

	c.JSON(outcomeStatus(outcome), outcome)
}

// Device handlers

// ListDevices returns the authenticated user's devices with secrets
// stripped
func (h *Handlers) ListDevices(c *gin.Context) {
	devices, err := h.services.MFA.ListDevices(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("Failed to list devices", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to list devices"})
		return
	}

	c.JSON(200, gin.H{"devices": devices})
}

// RemoveDevice deletes one of the authenticated user's devices
func (h *Handlers) RemoveDevice(c *gin.Context) {
	removed, err := h.services.MFA.RemoveDevice(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to remove device", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to remove device"})
		return
	}
	if !removed {
		c.JSON(404, gin.H{"error": "Device not found"})
		return
	}

	c.JSON(200, gin.H{"removed": true})
}

// MFAEnabled reports whether the authenticated user has at least one
// active device
func (h *Handlers) MFAEnabled(c *gin.Context) {
	enabled, err := h.services.MFA.HasMFAEnabled(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("Failed to check MFA status", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to check MFA status"})
		return
	}

	c.JSON(200, gin.H{"enabled": enabled})
}

// RecoveryCodesRemaining reports how many unused recovery codes the
// authenticated user has left
func (h *Handlers) RecoveryCodesRemaining(c *gin.Context) {
	remaining, err := h.services.MFA.RecoveryCodesRemaining(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("Failed to count recovery codes", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to count recovery codes"})
		return
	}

	c.JSON(200, gin.H{"remaining": remaining})
}

// RegenerateRecoveryCodes mints a fresh recovery code set, invalidating
// the previous one
func (h *Handlers) RegenerateRecoveryCodes(c *gin.Context) {
	codes, err := h.services.MFA.GenerateRecoveryCodes(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("Failed to regenerate recovery codes", zap.Error(err))
		c.JSON(500, gin.H{"error": "Failed to regenerate recovery codes"})
		return
	}

	c.JSON(200, gin.H{"recovery_codes": codes})
}

// Challenge handlers

type createChallengeRequest struct {
	DeviceID string `json:"device_id"`
	Recovery bool   `json:"recovery"`
}

// CreateChallenge starts a login verification for the authenticated user
func (h *Handlers) CreateChallenge(c *gin.Context) {
	var req createChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Empty body means default device, own factor
		req = createChallengeRequest{}
	}

	resp, err := h.services.MFA.CreateChallenge(c.Request.Context(), middleware.UserID(c), req.DeviceID, req.Recovery)
	if err != nil {
		h.serviceError(c, err, "Failed to create challenge")
		return
	}

	c.JSON(200, resp)
}

type verifyChallengeRequest struct {
	Code string `json:"code" binding:"required"`
}

// VerifyChallenge resolves a login challenge with the submitted code or
// assertion
func (h *Handlers) VerifyChallenge(c *gin.Context) {
	var req verifyChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.services.MFA.VerifyChallenge(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Code)
	if err != nil {
		h.serviceError(c, err, "Failed to verify challenge")
		return
	}

	c.JSON(outcomeStatus(outcome), outcome)
}

// outcomeStatus maps a verification outcome onto an HTTP status
func outcomeStatus(outcome *domain.VerificationOutcome) int {
	switch outcome.Result {
	case domain.VerificationSuccess:
		return 200
	case domain.VerificationExpired:
		return 410
	case domain.VerificationTooManyAttempts:
		return 429
	case domain.VerificationDeviceNotFound:
		return 404
	default:
		return 400
	}
}

// serviceError maps service-layer sentinel errors onto HTTP statuses
func (h *Handlers) serviceError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrInvalidPhoneNumber):
		c.JSON(400, gin.H{"error": "Invalid phone number format, expected E.164"})
	case errors.Is(err, service.ErrNoDevices):
		c.JSON(400, gin.H{"error": "No MFA devices enrolled"})
	case errors.Is(err, service.ErrNoActiveDevices):
		c.JSON(400, gin.H{"error": "No active MFA devices"})
	case errors.Is(err, service.ErrInvalidDevice):
		c.JSON(400, gin.H{"error": "Invalid or inactive device"})
	case errors.Is(err, service.ErrDeviceNotFound):
		c.JSON(404, gin.H{"error": "Device not found"})
	case errors.Is(err, service.ErrChallengeNotFound):
		c.JSON(404, gin.H{"error": "Challenge not found"})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(500, gin.H{"error": msg})
	}
}
