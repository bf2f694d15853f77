package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
	"github.com/fanzplatform/go-mfa-service/internal/sms"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
)

// SMSSetup is returned from SetupSMS. The phone number is masked; the
// verification code travels out of band only.
type SMSSetup struct {
	Device      *domain.Device `json:"device"`
	ChallengeID string         `json:"challenge_id"`
	PhoneNumber string         `json:"phone_number"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// SetupSMS begins SMS enrollment: it validates the phone number, creates
// an inactive device, and sends a six-digit code bound to a short-lived
// setup challenge.
func (s *MFAService) SetupSMS(ctx context.Context, userID, deviceName, phoneNumber string) (*SMSSetup, error) {
	if !domain.ValidPhoneNumber(phoneNumber) {
		return nil, ErrInvalidPhoneNumber
	}

	device := &domain.Device{
		ID:          domain.NewDeviceID(),
		UserID:      userID,
		Type:        domain.FactorSMS,
		Name:        deviceName,
		PhoneNumber: phoneNumber,
	}
	if err := s.registerDevice(ctx, device); err != nil {
		return nil, err
	}

	challenge, err := s.sendSMSChallenge(ctx, device, true)
	if err != nil {
		return nil, err
	}

	s.emit(EventSetupStarted, userID, device.ID, domain.FactorSMS)
	s.logger.Info("SMS setup started",
		zap.String("user_id", userID),
		zap.String("device_id", device.ID),
		zap.String("phone", sms.MaskPhone(phoneNumber)),
	)

	return &SMSSetup{
		Device:      device.Redacted(),
		ChallengeID: challenge.ID,
		PhoneNumber: sms.MaskPhone(phoneNumber),
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// VerifySMSSetup confirms enrollment against the pending setup challenge.
// An expired or exhausted challenge is deleted and reported as such; a
// wrong code burns an attempt. On match the device is activated and the
// challenge is consumed.
func (s *MFAService) VerifySMSSetup(ctx context.Context, userID, deviceID, code string) (*domain.VerificationOutcome, error) {
	device, err := s.ownedDevice(ctx, userID, deviceID, domain.FactorSMS)
	if err != nil {
		return nil, err
	}

	challenge, err := s.store.Challenges().FindSetup(ctx, deviceID, domain.FactorSMS)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to load setup challenge: %w", err)
	}

	outcome, err := s.checkChallengeCode(ctx, challenge, code)
	if err != nil {
		return nil, err
	}
	if outcome.Result != domain.VerificationSuccess {
		return outcome, nil
	}

	if err := s.activateDevice(ctx, device); err != nil {
		return nil, err
	}
	return outcome, nil
}

// sendSMSChallenge generates a code, delivers it to the device's phone
// number, and persists the challenge. Setup challenges are tagged so
// login verification can never consume them.
func (s *MFAService) sendSMSChallenge(ctx context.Context, device *domain.Device, setup bool) (*domain.Challenge, error) {
	code, err := generateSMSCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate sms code: %w", err)
	}

	message := fmt.Sprintf("Your %s verification code is: %s. Valid for 5 minutes.", s.cfg.MFA.Issuer, code)
	if err := s.sender.Send(ctx, device.PhoneNumber, message); err != nil {
		return nil, fmt.Errorf("failed to send sms: %w", err)
	}

	ttl := loginChallengeTTL
	if setup {
		ttl = smsSetupChallengeTTL
	}
	challenge := &domain.Challenge{
		ID:          domain.NewChallengeID(),
		UserID:      device.UserID,
		DeviceID:    device.ID,
		Type:        domain.FactorSMS,
		Code:        code,
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

// checkChallengeCode runs the shared outcome ladder for code-bearing
// challenges: expiry and exhaustion delete the challenge, a wrong code
// burns an attempt, and a match consumes the challenge at most once.
func (s *MFAService) checkChallengeCode(ctx context.Context, challenge *domain.Challenge, code string) (*domain.VerificationOutcome, error) {
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

	if subtle.ConstantTimeCompare([]byte(updated.Code), []byte(code)) != 1 {
		return &domain.VerificationOutcome{
			Result:            domain.VerificationInvalidCode,
			RemainingAttempts: updated.RemainingAttempts(),
		}, nil
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
