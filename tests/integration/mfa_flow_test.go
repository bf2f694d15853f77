package integration

import (
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/fanzplatform/go-mfa-service/pkg/config"
)

var codePattern = regexp.MustCompile(`\d{6}`)

func TestStatusEndpoint(t *testing.T) {
	h := NewTestHarness(t)

	resp, body := h.Do(http.MethodGet, "/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if body["service"] != "mfa-service" {
		t.Errorf("Expected service 'mfa-service', got %v", body["service"])
	}
}

func TestAuthenticationRequired(t *testing.T) {
	h := NewTestHarness(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/mfa/devices"},
		{http.MethodGet, "/mfa/enabled"},
		{http.MethodPost, "/mfa/totp/setup"},
		{http.MethodPost, "/mfa/challenges"},
	}
	for _, p := range paths {
		resp, _ := h.Do(p.method, p.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", p.method, p.path, resp.StatusCode)
		}
	}

	resp, _ := h.Do(http.MethodGet, "/mfa/devices", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for garbage token, got %d", resp.StatusCode)
	}
}

func TestTOTPEnrollmentAndLogin(t *testing.T) {
	h := NewTestHarness(t)
	token := h.UserToken("user-1")

	// Enroll
	resp, setup := h.Do(http.MethodPost, "/mfa/totp/setup", token, map[string]string{
		"device_name": "Phone",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Setup: expected 200, got %d", resp.StatusCode)
	}
	secret := setup["secret"].(string)
	deviceID := setup["device"].(map[string]interface{})["id"].(string)

	// Not enabled until the enrollment is confirmed
	_, body := h.Do(http.MethodGet, "/mfa/enabled", token, nil)
	if body["enabled"] != false {
		t.Error("Expected MFA to be disabled before confirmation")
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("Failed to generate code: %v", err)
	}
	resp, body = h.Do(http.MethodPost, "/mfa/totp/verify", token, map[string]string{
		"device_id": deviceID,
		"token":     code,
	})
	if resp.StatusCode != http.StatusOK || body["verified"] != true {
		t.Fatalf("Verify: expected verified, got %d %v", resp.StatusCode, body)
	}

	_, body = h.Do(http.MethodGet, "/mfa/enabled", token, nil)
	if body["enabled"] != true {
		t.Error("Expected MFA to be enabled after confirmation")
	}

	// Login challenge round trip
	resp, challenge := h.Do(http.MethodPost, "/mfa/challenges", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Challenge: expected 200, got %d", resp.StatusCode)
	}
	if challenge["type"] != "totp" {
		t.Errorf("Expected totp challenge, got %v", challenge["type"])
	}
	challengeID := challenge["challenge_id"].(string)

	code, err = totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("Failed to generate code: %v", err)
	}
	resp, body = h.Do(http.MethodPost, "/mfa/challenges/"+challengeID+"/verify", token, map[string]string{
		"code": code,
	})
	if resp.StatusCode != http.StatusOK || body["result"] != "success" {
		t.Fatalf("Expected success, got %d %v", resp.StatusCode, body)
	}

	// A completed challenge cannot be replayed
	resp, _ = h.Do(http.MethodPost, "/mfa/challenges/"+challengeID+"/verify", token, map[string]string{
		"code": code,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for replay, got %d", resp.StatusCode)
	}
}

func TestSMSEnrollmentAndLogin(t *testing.T) {
	h := NewTestHarness(t)
	token := h.UserToken("user-1")

	resp, setup := h.Do(http.MethodPost, "/mfa/sms/setup", token, map[string]string{
		"device_name":  "Phone",
		"phone_number": "+14155550171",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Setup: expected 200, got %d", resp.StatusCode)
	}
	deviceID := setup["device"].(map[string]interface{})["id"].(string)
	if setup["phone_number"] != "+14****71" {
		t.Errorf("Expected masked number, got %v", setup["phone_number"])
	}

	last, ok := h.SMS.Last()
	if !ok {
		t.Fatal("Expected a captured SMS")
	}
	resp, body := h.Do(http.MethodPost, "/mfa/sms/verify", token, map[string]string{
		"device_id": deviceID,
		"code":      codePattern.FindString(last.Body),
	})
	if resp.StatusCode != http.StatusOK || body["result"] != "success" {
		t.Fatalf("Verify: expected success, got %d %v", resp.StatusCode, body)
	}

	// Login sends a fresh code to the enrolled number
	resp, challenge := h.Do(http.MethodPost, "/mfa/challenges", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Challenge: expected 200, got %d", resp.StatusCode)
	}
	challengeID := challenge["challenge_id"].(string)

	last, _ = h.SMS.Last()
	resp, body = h.Do(http.MethodPost, "/mfa/challenges/"+challengeID+"/verify", token, map[string]string{
		"code": codePattern.FindString(last.Body),
	})
	if resp.StatusCode != http.StatusOK || body["result"] != "success" {
		t.Fatalf("Expected success, got %d %v", resp.StatusCode, body)
	}
}

func TestRecoveryCodeLogin(t *testing.T) {
	h := NewTestHarness(t)
	token := h.UserToken("user-1")

	_, setup := h.Do(http.MethodPost, "/mfa/totp/setup", token, map[string]string{
		"device_name": "Phone",
	})
	secret := setup["secret"].(string)
	deviceID := setup["device"].(map[string]interface{})["id"].(string)
	codes := setup["recovery_codes"].([]interface{})

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("Failed to generate code: %v", err)
	}
	h.Do(http.MethodPost, "/mfa/totp/verify", token, map[string]string{
		"device_id": deviceID,
		"token":     code,
	})

	resp, challenge := h.Do(http.MethodPost, "/mfa/challenges", token, map[string]interface{}{
		"recovery": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Challenge: expected 200, got %d", resp.StatusCode)
	}
	if challenge["type"] != "recovery_code" {
		t.Errorf("Expected recovery_code challenge, got %v", challenge["type"])
	}
	challengeID := challenge["challenge_id"].(string)

	recoveryCode := codes[0].(string)
	resp, body := h.Do(http.MethodPost, "/mfa/challenges/"+challengeID+"/verify", token, map[string]string{
		"code": recoveryCode,
	})
	if resp.StatusCode != http.StatusOK || body["result"] != "success" {
		t.Fatalf("Expected success, got %d %v", resp.StatusCode, body)
	}

	_, body = h.Do(http.MethodGet, "/mfa/recovery-codes", token, nil)
	if body["remaining"] != float64(9) {
		t.Errorf("Expected 9 codes remaining, got %v", body["remaining"])
	}

	// Codes are single use
	resp, challenge = h.Do(http.MethodPost, "/mfa/challenges", token, map[string]interface{}{
		"recovery": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Challenge: expected 200, got %d", resp.StatusCode)
	}
	resp, body = h.Do(http.MethodPost, "/mfa/challenges/"+challenge["challenge_id"].(string)+"/verify", token, map[string]string{
		"code": recoveryCode,
	})
	if resp.StatusCode != http.StatusBadRequest || body["result"] != "invalid_code" {
		t.Errorf("Expected invalid_code for spent code, got %d %v", resp.StatusCode, body)
	}
}

func TestUserIsolation(t *testing.T) {
	h := NewTestHarness(t)
	alice := h.UserToken("alice")
	mallory := h.UserToken("mallory")

	_, setup := h.Do(http.MethodPost, "/mfa/totp/setup", alice, map[string]string{
		"device_name": "Phone",
	})
	deviceID := setup["device"].(map[string]interface{})["id"].(string)

	// Another user cannot see or remove the device
	_, body := h.Do(http.MethodGet, "/mfa/devices", mallory, nil)
	if devices := body["devices"].([]interface{}); len(devices) != 0 {
		t.Errorf("Expected no devices for other user, got %d", len(devices))
	}
	resp, _ := h.Do(http.MethodDelete, "/mfa/devices/"+deviceID, mallory, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for foreign device removal, got %d", resp.StatusCode)
	}
}

func TestAdminEndpoints(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("requires admin token", func(t *testing.T) {
		resp, _ := h.Do(http.MethodGet, "/admin/mfa/stats", "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", resp.StatusCode)
		}
		resp, _ = h.Do(http.MethodGet, "/admin/mfa/stats", "wrong-token", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("stats", func(t *testing.T) {
		resp, body := h.Do(http.MethodGet, "/admin/mfa/stats", adminToken, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if _, ok := body["stats"].(map[string]interface{}); !ok {
			t.Errorf("Expected stats object, got %v", body["stats"])
		}
	})
}

func TestVerifyRateLimiting(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AdminToken: adminToken,
			RateLimit: config.RateLimitConfig{
				Enabled:        true,
				MaxAttempts:    2,
				WindowSeconds:  60,
				LockoutSeconds: 300,
			},
			CORS: config.CORSConfig{
				AllowedOrigins:   []string{"http://localhost:8080"},
				AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Authorization", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           300,
			},
		},
		Storage: config.StorageConfig{Type: "memory"},
		JWT:     config.JWTConfig{Secret: "test-secret-key-for-integration-tests"},
		MFA: config.MFAConfig{
			Issuer:      "FANZ",
			ServiceName: "FANZ Unified Platform",
			QRCodeSize:  128,
			TOTPWindow:  1,
			SMSProvider: "mock",
			RecoveryCodes: config.RecoveryCodeConfig{Count: 10, Length: 8, HashCost: bcrypt.MinCost},
			WebAuthn: config.WebAuthnConfig{
				RPID:     "localhost",
				RPName:   "Test App",
				RPOrigin: "http://localhost:8080",
			},
		},
	}
	h := NewTestHarness(t, WithConfig(cfg))
	token := h.UserToken("user-1")

	_, setup := h.Do(http.MethodPost, "/mfa/totp/setup", token, map[string]string{
		"device_name": "Phone",
	})
	deviceID := setup["device"].(map[string]interface{})["id"].(string)

	// Burst is MaxAttempts/2 = 1: the second submission is throttled
	resp, _ := h.Do(http.MethodPost, "/mfa/totp/verify", token, map[string]string{
		"device_id": deviceID,
		"token":     "000000",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 for wrong token, got %d", resp.StatusCode)
	}

	resp, body := h.Do(http.MethodPost, "/mfa/totp/verify", token, map[string]string{
		"device_id": deviceID,
		"token":     "000000",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", resp.StatusCode)
	}
	if body["error"] != "rate_limit_exceeded" {
		t.Errorf("Expected rate_limit_exceeded, got %v", body["error"])
	}
}
