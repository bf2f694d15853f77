package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fanzplatform/go-mfa-service/internal/api"
	"github.com/fanzplatform/go-mfa-service/internal/events"
	"github.com/fanzplatform/go-mfa-service/internal/service"
	"github.com/fanzplatform/go-mfa-service/internal/sms"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
	"github.com/fanzplatform/go-mfa-service/internal/storage/memory"
	"github.com/fanzplatform/go-mfa-service/pkg/config"
)

const adminToken = "test-admin-token"

// TestHarness provides a complete test environment with an HTTP server,
// configured services, and helper methods for making API requests.
type TestHarness struct {
	T       *testing.T
	Server  *httptest.Server
	Config  *config.Config
	Router  *gin.Engine
	Storage storage.Store
	SMS     *sms.MockSender
	Logger  *zap.Logger

	// Client is a pre-configured HTTP client for making requests
	Client *http.Client

	// BaseURL is the URL of the test server
	BaseURL string
}

// TestHarnessOption configures the test harness
type TestHarnessOption func(*TestHarness)

// WithConfig sets a custom config for the test harness
func WithConfig(cfg *config.Config) TestHarnessOption {
	return func(h *TestHarness) {
		h.Config = cfg
	}
}

// NewTestHarness creates a new test harness with a running test server
func NewTestHarness(t *testing.T, opts ...TestHarnessOption) *TestHarness {
	t.Helper()

	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()

	h := &TestHarness{
		T:      t,
		Logger: logger,
		Client: &http.Client{},
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.Config == nil {
		h.Config = &config.Config{
			Server: config.ServerConfig{
				Host:       "localhost",
				Port:       8080,
				AdminToken: adminToken,
				RateLimit: config.RateLimitConfig{
					// Generous limits so flow tests never trip the limiter
					Enabled:        true,
					MaxAttempts:    1000,
					WindowSeconds:  60,
					LockoutSeconds: 1,
				},
				CORS: config.CORSConfig{
					AllowedOrigins:   []string{"http://localhost:8080"},
					AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
					AllowedHeaders:   []string{"Authorization", "Content-Type"},
					AllowCredentials: true,
					MaxAge:           300,
				},
			},
			Storage: config.StorageConfig{
				Type: "memory",
			},
			JWT: config.JWTConfig{
				Secret: "test-secret-key-for-integration-tests",
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
	}

	h.Storage = memory.NewStore()
	h.SMS = sms.NewMockSender(logger)

	services, err := service.NewServices(h.Storage, h.Config, logger, h.SMS, nil)
	if err != nil {
		t.Fatalf("Failed to create services: %v", err)
	}

	hub := events.NewHub(logger)
	t.Cleanup(hub.Close)

	handlers := api.NewHandlers(services, h.Config, logger)
	admin := api.NewAdminHandlers(services, hub, logger)
	h.Router = api.NewRouter(handlers, admin, h.Config, logger)

	h.Server = httptest.NewServer(h.Router)
	h.BaseURL = h.Server.URL
	t.Cleanup(h.Server.Close)

	return h
}

// UserToken mints a caller JWT for the given user ID.
func (h *TestHarness) UserToken(userID string) string {
	h.T.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(h.Config.JWT.Secret))
	if err != nil {
		h.T.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

// Do makes an HTTP request against the test server. A non-empty bearer
// token is attached as the Authorization header.
func (h *TestHarness) Do(method, path, bearer string, body any) (*http.Response, map[string]interface{}) {
	h.T.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.T.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, h.BaseURL+path, reader)
	if err != nil {
		h.T.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		h.T.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		h.T.Fatalf("Failed to read response body: %v", err)
	}

	var parsed map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			h.T.Fatalf("Failed to parse response %q: %v", raw, err)
		}
	}
	return resp, parsed
}
