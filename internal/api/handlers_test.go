package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fanzplatform/go-mfa-service/internal/sms"
	"github.com/fanzplatform/go-mfa-service/internal/storage/memory"
	"github.com/fanzplatform/go-mfa-service/pkg/config"
	"github.com/fanzplatform/go-mfa-service/pkg/middleware"

	"github.com/fanzplatform/go-mfa-service/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testUserID = "user-1"

func setupTestHandlers(t *testing.T) (*Handlers, *gin.Engine, *sms.MockSender) {
	t.Helper()

	logger := zap.NewNop()
	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret: "test-secret",
			Issuer: "test-auth",
		},
		MFA: config.MFAConfig{
			Issuer:      "FANZ",
			ServiceName: "FANZ Unified Platform",
			QRCodeSize:  128,
			TOTPWindow:  1,
			SMSProvider: "mock",
			RecoveryCodes: config.RecoveryCodeConfig{
				Count:    10,
				Length:   8,
				HashCost: bcrypt.MinCost,
			},
			WebAuthn: config.WebAuthnConfig{
				RPID:     "localhost",
				RPName:   "Test App",
				RPOrigin: "http://localhost:8080",
			},
		},
	}

	store := memory.NewStore()
	sender := sms.NewMockSender(logger)
	services, err := service.NewServices(store, cfg, logger, sender, nil)
	if err != nil {
		t.Fatalf("Failed to create services: %v", err)
	}
	handlers := NewHandlers(services, cfg, logger)

	router := gin.New()
	// Stand-in for AuthMiddleware: every request is user-1
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, testUserID)
		c.Next()
	})
	return handlers, router, sender
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return response
}

func TestNewHandlers(t *testing.T) {
	handlers, _, _ := setupTestHandlers(t)
	if handlers == nil {
		t.Fatal("Expected handlers to not be nil")
	}
}

func TestHandlers_Status(t *testing.T) {
	handlers, router, _ := setupTestHandlers(t)
	router.GET("/status", handlers.Status)

	w := doJSON(t, router, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	response := parseResponse(t, w)
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", response["status"])
	}
	if response["service"] != "mfa-service" {
		t.Errorf("Expected service 'mfa-service', got %v", response["service"])
	}
}

func TestHandlers_SetupTOTP(t *testing.T) {
	handlers, router, _ := setupTestHandlers(t)
	router.POST("/totp/setup", handlers.SetupTOTP)

	t.Run("missing device name", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/totp/setup", map[string]string{})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("success", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/totp/setup", map[string]string{
			"device_name": "Phone",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}

		response := parseResponse(t, w)
		if response["secret"] == "" || response["secret"] == nil {
			t.Error("Expected a shared secret in the response")
		}
		if response["otpauth_url"] == nil {
			t.Error("Expected an otpauth URL in the response")
		}
		codes, ok := response["recovery_codes"].([]interface{})
		if !ok || len(codes) != 10 {
			t.Errorf("Expected 10 recovery codes, got %v", response["recovery_codes"])
		}

		device, ok := response["device"].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected device object, got %v", response["device"])
		}
		if device["is_active"] != false {
			t.Error("Expected device to start inactive")
		}
		if device["secret"] != nil {
			t.Error("Expected secret to be redacted from the device object")
		}
	})
}

func TestHandlers_VerifyTOTPSetup(t *testing.T) {
	handlers, router, _ := setupTestHandlers(t)
	router.POST("/totp/setup", handlers.SetupTOTP)
	router.POST("/totp/verify", handlers.VerifyTOTPSetup)

	w := doJSON(t, router, http.MethodPost, "/totp/setup", map[string]string{
		"device_name": "Phone",
	})
	response := parseResponse(t, w)
	secret := response["secret"].(string)
	deviceID := response["device"].(map[string]interface{})["id"].(string)

	t.Run("wrong token", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/totp/verify", map[string]string{
			"device_id": deviceID,
			"token":     "000000",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
		if resp := parseResponse(t, w); resp["verified"] != false {
			t.Errorf("Expected verified false, got %v", resp["verified"])
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/totp/verify", map[string]string{
			"device_id": "no-such-device",
			"token":     "000000",
		})
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := totp.GenerateCode(secret, time.Now())
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		w := doJSON(t, router, http.MethodPost, "/totp/verify", map[string]string{
			"device_id": deviceID,
			"token":     token,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if resp := parseResponse(t, w); resp["verified"] != true {
			t.Errorf("Expected verified true, got %v", resp["verified"])
		}
	})
}

func TestHandlers_SMSSetupFlow(t *testing.T) {
	handlers, router, sender := setupTestHandlers(t)
	router.POST("/sms/setup", handlers.SetupSMS)
	router.POST("/sms/verify", handlers.VerifySMSSetup)

	t.Run("invalid phone number", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/sms/setup", map[string]string{
			"device_name":  "Phone",
			"phone_number": "555-1234",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	var deviceID string
	t.Run("setup masks the number", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/sms/setup", map[string]string{
			"device_name":  "Phone",
			"phone_number": "+14155550171",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}

		response := parseResponse(t, w)
		if response["phone_number"] != "+14****71" {
			t.Errorf("Expected masked number, got %v", response["phone_number"])
		}
		deviceID = response["device"].(map[string]interface{})["id"].(string)
	})

	t.Run("wrong code", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/sms/verify", map[string]string{
			"device_id": deviceID,
			"code":      "000000",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
		response := parseResponse(t, w)
		if response["result"] != "invalid_code" {
			t.Errorf("Expected invalid_code, got %v", response["result"])
		}
		if response["remaining_attempts"] != float64(2) {
			t.Errorf("Expected 2 remaining attempts, got %v", response["remaining_attempts"])
		}
	})

	t.Run("correct code", func(t *testing.T) {
		last, ok := sender.Last()
		if !ok {
			t.Fatal("Expected a captured SMS")
		}
		code := smsCodeFrom(t, last.Body)

		w := doJSON(t, router, http.MethodPost, "/sms/verify", map[string]string{
			"device_id": deviceID,
			"code":      code,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if resp := parseResponse(t, w); resp["result"] != "success" {
			t.Errorf("Expected success, got %v", resp["result"])
		}
	})
}

// smsCodeFrom pulls the 6-digit code out of a captured message body.
func smsCodeFrom(t *testing.T, body string) string {
	t.Helper()

	for i := 0; i+6 <= len(body); i++ {
		code := body[i : i+6]
		digits := true
		for _, r := range code {
			if r < '0' || r > '9' {
				digits = false
				break
			}
		}
		if digits {
			return code
		}
	}
	t.Fatalf("No 6-digit code in message %q", body)
	return ""
}

func TestHandlers_SetupWebAuthn(t *testing.T) {
	handlers, router, _ := setupTestHandlers(t)
	router.POST("/webauthn/setup", handlers.SetupWebAuthn)

	w := doJSON(t, router, http.MethodPost, "/webauthn/setup", map[string]string{
		"device_name": "YubiKey",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	response := parseResponse(t, w)
	if response["challenge_id"] == nil {
		t.Error("Expected a challenge ID")
	}
	options, ok := response["options"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected creation options, got %v", response["options"])
	}
	publicKey, ok := options["publicKey"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected publicKey options, got %v", options)
	}
	rp, ok := publicKey["rp"].(map[string]interface{})
	if !ok || rp["id"] != "localhost" {
		t.Errorf("Expected relying party localhost, got %v", publicKey["rp"])
	}
}

func TestHandlers_VerifyWebAuthnSetup(t *testing.T) {
	handlers, router, _ := setupTestHandlers(t)
	router.POST("/webauthn/setup", handlers.SetupWebAuthn)
	router.POST("/webauthn/verify", handlers.VerifyWebAuthnSetup)

	w := doJSON(t, router, http.MethodPost, "/webauthn/setup", map[string]string{
		"device_name": "YubiKey",
	})
	response := parseResponse(t, w)
	deviceID := response["device"].(map[string]interface{})["id"].(string)

	t.Run("malformed attestation burns an attempt", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/webauthn/verify", map[string]interface{}{
			"device_id": deviceID,
			"response":  map[string]string{"id": "bogus"},
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
		resp := parseResponse(t, w)
		if resp["result"] != "invalid_code" {
			t.Errorf("Expected invalid_code, got %v", resp["result"])
		}
		if resp["remaining_attempts"] != float64(2) {
			t.Errorf("Expected 2 remaining attempts, got %v", resp["remaining_attempts"])
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/webauthn/verify", map[string]interface{}{
			"device_id": "no-such-device",
			"response":  map[string]string{"id": "bogus"},
		})
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}

func TestHandlers_Devices(t *testing.T) {
	handlers, router, _ := setupTestHandlers(t)
	router.POST("/totp/setup", handlers.SetupTOTP)
	router.POST("/totp/verify", handlers.VerifyTOTPSetup)
	router.GET("/devices", handlers.ListDevices)
	router.DELETE("/devices/:id", handlers.RemoveDevice)
	router.GET("/enabled", handlers.MFAEnabled)

	t.Run("empty list", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/devices", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		response := parseResponse(t, w)
		devices, ok := response["devices"].([]interface{})
		if !ok || len(devices) != 0 {
			t.Errorf("Expected empty device list, got %v", response["devices"])
		}
	})

	t.Run("disabled without active devices", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/enabled", nil)
		if resp := parseResponse(t, w); resp["enabled"] != false {
			t.Errorf("Expected enabled false, got %v", resp["enabled"])
		}
	})

	w := doJSON(t, router, http.MethodPost, "/totp/setup", map[string]string{
		"device_name": "Phone",
	})
	setup := parseResponse(t, w)
	secret := setup["secret"].(string)
	deviceID := setup["device"].(map[string]interface{})["id"].(string)

	token, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	doJSON(t, router, http.MethodPost, "/totp/verify", map[string]string{
		"device_id": deviceID,
		"token":     token,
	})

	t.Run("enabled after activation", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/enabled", nil)
		if resp := parseResponse(t, w); resp["enabled"] != true {
			t.Errorf("Expected enabled true, got %v", resp["enabled"])
		}
	})

	t.Run("list redacts secrets", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/devices", nil)
		response := parseResponse(t, w)
		devices := response["devices"].([]interface{})
		if len(devices) != 1 {
			t.Fatalf("Expected 1 device, got %d", len(devices))
		}
		device := devices[0].(map[string]interface{})
		if device["secret"] != nil {
			t.Error("Expected secret to be redacted")
		}
	})

	t.Run("remove unknown device", func(t *testing.T) {
		w := doJSON(t, router, http.MethodDelete, "/devices/no-such-device", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})

	t.Run("remove device", func(t *testing.T) {
		w := doJSON(t, router, http.MethodDelete, fmt.Sprintf("/devices/%s", deviceID), nil)
		if w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}

		w = doJSON(t, router, http.MethodGet, "/enabled", nil)
		if resp := parseResponse(t, w); resp["enabled"] != false {
			t.Errorf("Expected enabled false after removal, got %v", resp["enabled"])
		}
	})
}

func TestHandlers_RecoveryCodes(t *testing.T) {
	handlers, router, _ := setupTestHandlers(t)
	router.GET("/recovery-codes", handlers.RecoveryCodesRemaining)
	router.POST("/recovery-codes", handlers.RegenerateRecoveryCodes)

	t.Run("none before generation", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/recovery-codes", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if resp := parseResponse(t, w); resp["remaining"] != float64(0) {
			t.Errorf("Expected 0 remaining, got %v", resp["remaining"])
		}
	})

	t.Run("regenerate", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/recovery-codes", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		response := parseResponse(t, w)
		codes, ok := response["recovery_codes"].([]interface{})
		if !ok || len(codes) != 10 {
			t.Errorf("Expected 10 recovery codes, got %v", response["recovery_codes"])
		}

		w = doJSON(t, router, http.MethodGet, "/recovery-codes", nil)
		if resp := parseResponse(t, w); resp["remaining"] != float64(10) {
			t.Errorf("Expected 10 remaining, got %v", resp["remaining"])
		}
	})
}

func TestHandlers_ChallengeFlow(t *testing.T) {
	handlers, router, _ := setupTestHandlers(t)
	router.POST("/totp/setup", handlers.SetupTOTP)
	router.POST("/totp/verify", handlers.VerifyTOTPSetup)
	router.POST("/challenges", handlers.CreateChallenge)
	router.POST("/challenges/:id/verify", handlers.VerifyChallenge)

	t.Run("no devices enrolled", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/challenges", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	// Enroll and activate a TOTP device
	w := doJSON(t, router, http.MethodPost, "/totp/setup", map[string]string{
		"device_name": "Phone",
	})
	setup := parseResponse(t, w)
	secret := setup["secret"].(string)
	deviceID := setup["device"].(map[string]interface{})["id"].(string)

	token, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	doJSON(t, router, http.MethodPost, "/totp/verify", map[string]string{
		"device_id": deviceID,
		"token":     token,
	})

	var challengeID string
	t.Run("create challenge", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/challenges", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		response := parseResponse(t, w)
		if response["type"] != "totp" {
			t.Errorf("Expected totp challenge, got %v", response["type"])
		}
		challengeID, _ = response["challenge_id"].(string)
		if challengeID == "" {
			t.Fatal("Expected a challenge ID")
		}
	})

	t.Run("missing code", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/challenges/"+challengeID+"/verify", map[string]string{})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("wrong code", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/challenges/"+challengeID+"/verify", map[string]string{
			"code": "000000",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
		if resp := parseResponse(t, w); resp["result"] != "invalid_code" {
			t.Errorf("Expected invalid_code, got %v", resp["result"])
		}
	})

	t.Run("correct code", func(t *testing.T) {
		token, err := totp.GenerateCode(secret, time.Now())
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		w := doJSON(t, router, http.MethodPost, "/challenges/"+challengeID+"/verify", map[string]string{
			"code": token,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if resp := parseResponse(t, w); resp["result"] != "success" {
			t.Errorf("Expected success, got %v", resp["result"])
		}
	})

	t.Run("challenge is single use", func(t *testing.T) {
		token, err := totp.GenerateCode(secret, time.Now())
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		w := doJSON(t, router, http.MethodPost, "/challenges/"+challengeID+"/verify", map[string]string{
			"code": token,
		})
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 for replay, got %d", w.Code)
		}
	})

	t.Run("attempt budget exhausts the challenge", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/challenges", nil)
		challengeID := parseResponse(t, w)["challenge_id"].(string)

		for i := 0; i < 3; i++ {
			doJSON(t, router, http.MethodPost, "/challenges/"+challengeID+"/verify", map[string]string{
				"code": "000000",
			})
		}
		w = doJSON(t, router, http.MethodPost, "/challenges/"+challengeID+"/verify", map[string]string{
			"code": "000000",
		})
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("Expected 429, got %d", w.Code)
		}
		if resp := parseResponse(t, w); resp["result"] != "too_many_attempts" {
			t.Errorf("Expected too_many_attempts, got %v", resp["result"])
		}
	})
}
