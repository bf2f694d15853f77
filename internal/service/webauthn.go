package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
)

// webauthnUser adapts a user and their registered credentials to the
// webauthn.User interface. The user ID doubles as the user handle.
type webauthnUser struct {
	id          string
	name        string
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte                         { return []byte(u.id) }
func (u *webauthnUser) WebAuthnName() string                       { return u.name }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.name }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// webauthnUserFor loads the user's active webauthn credentials into an
// adapter for the library.
func (s *MFAService) webauthnUserFor(ctx context.Context, userID string) (*webauthnUser, error) {
	devices, err := s.store.Devices().GetAllByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}

	user := &webauthnUser{id: userID, name: userID}
	for _, device := range devices {
		if device.Type != domain.FactorWebAuthn || !device.IsActive || device.Credential == nil {
			continue
		}
		user.credentials = append(user.credentials, device.Credential.AsLibraryCredential())
	}
	return user, nil
}

// WebauthnSetup is returned from SetupWebAuthn. Options is the
// credential-creation payload handed verbatim to the browser.
type WebauthnSetup struct {
	Device      *domain.Device               `json:"device"`
	ChallengeID string                       `json:"challenge_id"`
	Options     *protocol.CredentialCreation `json:"options"`
	ExpiresAt   time.Time                    `json:"expires_at"`
}

// SetupWebAuthn begins passkey enrollment: it creates an inactive device
// and a one-minute setup challenge carrying the registration session.
func (s *MFAService) SetupWebAuthn(ctx context.Context, userID, deviceName string) (*WebauthnSetup, error) {
	user, err := s.webauthnUserFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	options, session, err := s.webauthn.BeginRegistration(user,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.CrossPlatform,
			UserVerification:        protocol.VerificationPreferred,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin webauthn registration: %w", err)
	}

	device := &domain.Device{
		ID:     domain.NewDeviceID(),
		UserID: userID,
		Type:   domain.FactorWebAuthn,
		Name:   deviceName,
	}
	if err := s.registerDevice(ctx, device); err != nil {
		return nil, err
	}

	challenge, err := s.storeWebauthnChallenge(ctx, device, session, true)
	if err != nil {
		return nil, err
	}

	s.emit(EventSetupStarted, userID, device.ID, domain.FactorWebAuthn)
	s.logger.Info("WebAuthn setup started",
		zap.String("user_id", userID),
		zap.String("device_id", device.ID),
	)

	return &WebauthnSetup{
		Device:      device.Redacted(),
		ChallengeID: challenge.ID,
		Options:     options,
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// VerifyWebAuthnSetup completes passkey enrollment with the browser's
// attestation response. A malformed or unverifiable response burns an
// attempt; success stores the credential, activates the device, and
// consumes the challenge.
func (s *MFAService) VerifyWebAuthnSetup(ctx context.Context, userID, deviceID string, response []byte) (*domain.VerificationOutcome, error) {
	device, err := s.ownedDevice(ctx, userID, deviceID, domain.FactorWebAuthn)
	if err != nil {
		return nil, err
	}

	challenge, err := s.store.Challenges().FindSetup(ctx, deviceID, domain.FactorWebAuthn)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to load setup challenge: %w", err)
	}

	if outcome, err := s.gateChallenge(ctx, challenge); outcome != nil || err != nil {
		return outcome, err
	}

	updated, err := s.store.Challenges().RecordAttempt(ctx, challenge.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	session, err := sessionFromChallenge(updated)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		s.logger.Debug("webauthn attestation parse failed", zap.Error(err))
		return &domain.VerificationOutcome{
			Result:            domain.VerificationInvalidCode,
			RemainingAttempts: updated.RemainingAttempts(),
		}, nil
	}

	user := &webauthnUser{id: userID, name: userID}
	credential, err := s.webauthn.CreateCredential(user, *session, parsed)
	if err != nil {
		s.logger.Debug("webauthn attestation verification failed", zap.Error(err))
		return &domain.VerificationOutcome{
			Result:            domain.VerificationInvalidCode,
			RemainingAttempts: updated.RemainingAttempts(),
		}, nil
	}

	device.Credential = domain.CredentialFromLibrary(credential)
	if err := s.activateDevice(ctx, device); err != nil {
		return nil, err
	}

	completed, err := s.store.Challenges().Complete(ctx, challenge.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete challenge: %w", err)
	}
	if !completed {
		return nil, ErrChallengeNotFound
	}
	return &domain.VerificationOutcome{Result: domain.VerificationSuccess}, nil
}

// gateChallenge applies the expiry and exhaustion rules shared by all
// challenge verification paths. A non-nil outcome means the challenge was
// rejected (and deleted); nil/nil means proceed.
func (s *MFAService) gateChallenge(ctx context.Context, challenge *domain.Challenge) (*domain.VerificationOutcome, error) {
	if challenge.IsExpired() {
		if err := s.store.Challenges().Delete(ctx, challenge.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to delete expired challenge: %w", err)
		}
		return &domain.VerificationOutcome{Result: domain.VerificationExpired}, nil
	}
	if challenge.Exhausted() {
		if err := s.store.Challenges().Delete(ctx, challenge.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to delete exhausted challenge: %w", err)
		}
		return &domain.VerificationOutcome{Result: domain.VerificationTooManyAttempts}, nil
	}
	return nil, nil
}

// storeWebauthnChallenge persists a challenge carrying the library's
// serialized session data in the nonce field.
func (s *MFAService) storeWebauthnChallenge(ctx context.Context, device *domain.Device, session *webauthn.SessionData, setup bool) (*domain.Challenge, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize webauthn session: %w", err)
	}

	ttl := loginChallengeTTL
	if setup {
		ttl = webauthnSetupChallengeTTL
	}
	challenge := &domain.Challenge{
		ID:          domain.NewChallengeID(),
		UserID:      device.UserID,
		DeviceID:    device.ID,
		Type:        domain.FactorWebAuthn,
		Nonce:       string(raw),
		ExpiresAt:   time.Now().Add(ttl),
		MaxAttempts: domain.DefaultMaxAttempts,
		Setup:       setup,
		CreatedAt:   time.Now(),
	}
	if err := s.store.Challenges().Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	return challenge, nil
}

// sessionFromChallenge recovers the registration or login session stored
// alongside a webauthn challenge.
func sessionFromChallenge(challenge *domain.Challenge) (*webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(challenge.Nonce), &session); err != nil {
		return nil, fmt.Errorf("failed to decode webauthn session: %w", err)
	}
	return &session, nil
}
