// Package service implements the MFA protocol state machine: device
// enrollment, login-time challenges, recovery codes, and housekeeping.
package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
	"github.com/fanzplatform/go-mfa-service/internal/sms"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
	"github.com/fanzplatform/go-mfa-service/pkg/config"
)

// Challenge lifetimes. Setup windows are tight; login windows match the
// SMS code validity communicated to the user.
const (
	smsSetupChallengeTTL      = 5 * time.Minute
	webauthnSetupChallengeTTL = time.Minute
	loginChallengeTTL         = 5 * time.Minute
)

// MFAService is the stateful core: it owns the device registry, the
// challenge engine, and the recovery code vault, all behind the storage
// interfaces.
type MFAService struct {
	store    storage.Store
	cfg      *config.Config
	logger   *zap.Logger
	sender   sms.Sender
	notifier Notifier
	webauthn *webauthn.WebAuthn
}

// NewMFAService creates a new MFAService.
func NewMFAService(store storage.Store, cfg *config.Config, logger *zap.Logger, sender sms.Sender, notifier Notifier) (*MFAService, error) {
	wconfig := &webauthn.Config{
		RPDisplayName: cfg.MFA.WebAuthn.RPName,
		RPID:          cfg.MFA.WebAuthn.RPID,
		RPOrigins:     []string{cfg.MFA.WebAuthn.RPOrigin},
		Timeouts: webauthn.TimeoutsConfig{
			Registration: webauthn.TimeoutConfig{Enforce: true, Timeout: 60 * time.Second},
			Login:        webauthn.TimeoutConfig{Enforce: true, Timeout: 60 * time.Second},
		},
	}

	wa, err := webauthn.New(wconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn: %w", err)
	}

	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &MFAService{
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("mfa-service"),
		sender:   sender,
		notifier: notifier,
		webauthn: wa,
	}, nil
}

func (s *MFAService) emit(eventType, userID, deviceID string, factor domain.FactorType) {
	s.notifier.Notify(Event{
		Type:     eventType,
		UserID:   userID,
		DeviceID: deviceID,
		Factor:   factor,
		At:       time.Now(),
	})
}

// generateSMSCode returns a 6-digit numeric code from a cryptographically
// secure source.
func generateSMSCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate sms code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

const recoveryCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateRandomCode returns a length-character code drawn uniformly
// from the uppercase-alphanumeric alphabet.
func generateRandomCode(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(recoveryCodeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		out[i] = recoveryCodeAlphabet[n.Int64()]
	}
	return string(out), nil
}
