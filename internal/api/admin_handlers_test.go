package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/events"
)

func setupAdminTestHandlers(t *testing.T) (*AdminHandlers, *Handlers, *gin.Engine) {
	t.Helper()

	handlers, router, _ := setupTestHandlers(t)
	hub := events.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)

	admin := NewAdminHandlers(handlers.services, hub, zap.NewNop())
	return admin, handlers, router
}

func TestNewAdminHandlers(t *testing.T) {
	admin, _, _ := setupAdminTestHandlers(t)
	if admin == nil {
		t.Fatal("Expected handlers to not be nil")
	}
	if admin.hub == nil {
		t.Error("Expected hub to be set")
	}
}

func TestAdminHandlers_Stats(t *testing.T) {
	admin, handlers, router := setupAdminTestHandlers(t)
	router.GET("/admin/mfa/stats", admin.Stats)
	router.POST("/totp/setup", handlers.SetupTOTP)
	router.POST("/totp/verify", handlers.VerifyTOTPSetup)

	t.Run("empty store", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/admin/mfa/stats", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		response := parseResponse(t, w)
		stats, ok := response["stats"].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected stats object, got %v", response["stats"])
		}
		if stats["total_devices"] != float64(0) {
			t.Errorf("Expected 0 devices, got %v", stats["total_devices"])
		}
		if response["event_subscribers"] != float64(0) {
			t.Errorf("Expected 0 subscribers, got %v", response["event_subscribers"])
		}
	})

	t.Run("counts active devices", func(t *testing.T) {
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

		w = doJSON(t, router, http.MethodGet, "/admin/mfa/stats", nil)
		response := parseResponse(t, w)
		stats := response["stats"].(map[string]interface{})
		if stats["total_devices"] != float64(1) {
			t.Errorf("Expected 1 device, got %v", stats["total_devices"])
		}
		if stats["total_users"] != float64(1) {
			t.Errorf("Expected 1 user, got %v", stats["total_users"])
		}
	})
}

func TestAdminHandlers_Events(t *testing.T) {
	admin, _, router := setupAdminTestHandlers(t)
	router.GET("/admin/mfa/events", admin.Events)

	// A plain GET without the upgrade headers must not panic; the
	// upgrader rejects it.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/mfa/events", nil)
	router.ServeHTTP(w, req)
	if w.Code == http.StatusOK {
		t.Errorf("Expected upgrade failure, got %d", w.Code)
	}
}
