package service

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
	"github.com/fanzplatform/go-mfa-service/internal/sms"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
)

// ChallengeDescriptor is what the caller gets back from CreateChallenge.
// It never carries the code or any secret material; Options is populated
// for webauthn challenges only.
type ChallengeDescriptor struct {
	ChallengeID string                        `json:"challenge_id"`
	Type        domain.FactorType             `json:"type"`
	DeviceName  string                        `json:"device_name"`
	PhoneNumber string                        `json:"phone_number,omitempty"`
	Options     *protocol.CredentialAssertion `json:"options,omitempty"`
	ExpiresAt   time.Time                     `json:"expires_at"`
}

// CreateChallenge starts a login verification for the user. With an empty
// deviceID the first active device (by enrollment order) is used. With
// recovery set, the challenge verifies against the user's recovery codes
// instead of the device's own factor.
func (s *MFAService) CreateChallenge(ctx context.Context, userID, deviceID string, recovery bool) (*ChallengeDescriptor, error) {
	devices, err := s.store.Devices().GetAllByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	var active []*domain.Device
	for _, device := range devices {
		if device.IsActive {
			active = append(active, device)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoActiveDevices
	}

	var device *domain.Device
	if deviceID == "" {
		device = active[0]
	} else {
		for _, d := range active {
			if d.ID == deviceID {
				device = d
				break
			}
		}
		if device == nil {
			return nil, ErrInvalidDevice
		}
	}

	desc, err := s.createChallengeFor(ctx, device, recovery)
	if err != nil {
		return nil, err
	}

	s.emit(EventChallengeCreated, userID, device.ID, desc.Type)
	s.logger.Info("challenge created",
		zap.String("user_id", userID),
		zap.String("device_id", device.ID),
		zap.String("challenge_id", desc.ChallengeID),
		zap.String("type", string(desc.Type)),
	)
	return desc, nil
}

func (s *MFAService) createChallengeFor(ctx context.Context, device *domain.Device, recovery bool) (*ChallengeDescriptor, error) {
	if recovery {
		challenge := &domain.Challenge{
			ID:          domain.NewChallengeID(),
			UserID:      device.UserID,
			DeviceID:    device.ID,
			Type:        domain.FactorRecoveryCode,
			ExpiresAt:   time.Now().Add(loginChallengeTTL),
			MaxAttempts: domain.DefaultMaxAttempts,
			CreatedAt:   time.Now(),
		}
		if err := s.store.Challenges().Create(ctx, challenge); err != nil {
			return nil, fmt.Errorf("failed to store challenge: %w", err)
		}
		return &ChallengeDescriptor{
			ChallengeID: challenge.ID,
			Type:        domain.FactorRecoveryCode,
			DeviceName:  device.Name,
			ExpiresAt:   challenge.ExpiresAt,
		}, nil
	}

	switch device.Type {
	case domain.FactorTOTP:
		challenge := &domain.Challenge{
			ID:          domain.NewChallengeID(),
			UserID:      device.UserID,
			DeviceID:    device.ID,
			Type:        domain.FactorTOTP,
			ExpiresAt:   time.Now().Add(loginChallengeTTL),
			MaxAttempts: domain.DefaultMaxAttempts,
			CreatedAt:   time.Now(),
		}
		if err := s.store.Challenges().Create(ctx, challenge); err != nil {
			return nil, fmt.Errorf("failed to store challenge: %w", err)
		}
		return &ChallengeDescriptor{
			ChallengeID: challenge.ID,
			Type:        domain.FactorTOTP,
			DeviceName:  device.Name,
			ExpiresAt:   challenge.ExpiresAt,
		}, nil

	case domain.FactorSMS:
		challenge, err := s.sendSMSChallenge(ctx, device, false)
		if err != nil {
			return nil, err
		}
		return &ChallengeDescriptor{
			ChallengeID: challenge.ID,
			Type:        domain.FactorSMS,
			DeviceName:  device.Name,
			PhoneNumber: sms.MaskPhone(device.PhoneNumber),
			ExpiresAt:   challenge.ExpiresAt,
		}, nil

	case domain.FactorWebAuthn:
		if device.Credential == nil {
			return nil, ErrInvalidDevice
		}
		user := &webauthnUser{
			id:          device.UserID,
			name:        device.UserID,
			credentials: []webauthn.Credential{device.Credential.AsLibraryCredential()},
		}
		cred := device.Credential.AsLibraryCredential()
		options, session, err := s.webauthn.BeginLogin(user,
			webauthn.WithAllowedCredentials([]protocol.CredentialDescriptor{cred.Descriptor()}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to begin webauthn login: %w", err)
		}
		challenge, err := s.storeWebauthnChallenge(ctx, device, session, false)
		if err != nil {
			return nil, err
		}
		return &ChallengeDescriptor{
			ChallengeID: challenge.ID,
			Type:        domain.FactorWebAuthn,
			DeviceName:  device.Name,
			Options:     options,
			ExpiresAt:   challenge.ExpiresAt,
		}, nil

	default:
		return nil, ErrInvalidDevice
	}
}

// VerifyChallenge resolves a login challenge with the submitted code (or,
// for webauthn, the browser's assertion response JSON). Expiry and
// exhaustion delete the challenge; a wrong code burns an attempt and the
// challenge survives with its remaining budget; success consumes the
// challenge exactly once.
func (s *MFAService) VerifyChallenge(ctx context.Context, userID, challengeID, code string) (*domain.VerificationOutcome, error) {
	challenge, err := s.store.Challenges().GetByID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	// Setup challenges are only consumable through their own verify path,
	// and a challenge is invisible to anyone but its owner.
	if challenge.Setup || challenge.IsCompleted || challenge.UserID != userID {
		return nil, ErrChallengeNotFound
	}

	if outcome, err := s.gateChallenge(ctx, challenge); outcome != nil || err != nil {
		return outcome, err
	}

	updated, err := s.store.Challenges().RecordAttempt(ctx, challengeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	device, err := s.store.Devices().GetByID(ctx, updated.DeviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The device is gone; the challenge can never succeed.
			if derr := s.store.Challenges().Delete(ctx, challengeID); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
				return nil, fmt.Errorf("failed to delete orphaned challenge: %w", derr)
			}
			return &domain.VerificationOutcome{Result: domain.VerificationDeviceNotFound}, nil
		}
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	ok, err := s.verifyAgainstDevice(ctx, updated, device, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &domain.VerificationOutcome{
			Result:            domain.VerificationInvalidCode,
			RemainingAttempts: updated.RemainingAttempts(),
		}, nil
	}

	completed, err := s.store.Challenges().Complete(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete challenge: %w", err)
	}
	if !completed {
		return nil, ErrChallengeNotFound
	}

	device.Touch()
	if err := s.store.Devices().Update(ctx, device); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("failed to record device usage",
			zap.String("device_id", device.ID),
			zap.Error(err),
		)
	}

	s.emit(EventVerificationSucceeded, updated.UserID, device.ID, updated.Type)
	s.logger.Info("challenge verified",
		zap.String("user_id", updated.UserID),
		zap.String("challenge_id", challengeID),
		zap.String("type", string(updated.Type)),
	)
	return &domain.VerificationOutcome{Result: domain.VerificationSuccess}, nil
}

func (s *MFAService) verifyAgainstDevice(ctx context.Context, challenge *domain.Challenge, device *domain.Device, code string) (bool, error) {
	switch challenge.Type {
	case domain.FactorTOTP:
		return s.validateTOTP(device.Secret, code, time.Now())

	case domain.FactorSMS:
		return subtle.ConstantTimeCompare([]byte(challenge.Code), []byte(code)) == 1, nil

	case domain.FactorWebAuthn:
		return s.verifyWebauthnAssertion(ctx, challenge, device, code)

	case domain.FactorRecoveryCode:
		return s.consumeRecoveryCode(ctx, challenge.UserID, code)

	default:
		return false, ErrInvalidDevice
	}
}

func (s *MFAService) verifyWebauthnAssertion(ctx context.Context, challenge *domain.Challenge, device *domain.Device, response string) (bool, error) {
	if device.Credential == nil {
		return false, ErrInvalidDevice
	}

	session, err := sessionFromChallenge(challenge)
	if err != nil {
		return false, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader([]byte(response)))
	if err != nil {
		s.logger.Debug("webauthn assertion parse failed", zap.Error(err))
		return false, nil
	}

	user := &webauthnUser{
		id:          device.UserID,
		name:        device.UserID,
		credentials: []webauthn.Credential{device.Credential.AsLibraryCredential()},
	}
	credential, err := s.webauthn.ValidateLogin(user, *session, parsed)
	if err != nil {
		s.logger.Debug("webauthn assertion verification failed", zap.Error(err))
		return false, nil
	}

	if credential.Authenticator.CloneWarning {
		s.logger.Warn("webauthn clone warning",
			zap.String("user_id", device.UserID),
			zap.String("device_id", device.ID),
		)
		return false, nil
	}

	device.Credential.Authenticator.SignCount = credential.Authenticator.SignCount
	return true, nil
}
