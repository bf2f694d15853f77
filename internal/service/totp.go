package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
)

// TOTP parameters are the RFC 6238 defaults every authenticator app
// understands.
const (
	totpPeriod     = 30
	totpDigits     = otp.DigitsSix
	totpSecretSize = 32
)

// TOTPSetup is returned from SetupTOTP. The secret, the QR code, and the
// recovery codes are shown to the user exactly once here and are never
// retrievable again.
type TOTPSetup struct {
	Device        *domain.Device `json:"device"`
	Secret        string         `json:"secret"`
	OTPAuthURL    string         `json:"otpauth_url"`
	QRCode        string         `json:"qr_code"` // data:image/png;base64 URI
	RecoveryCodes []string       `json:"recovery_codes"`
}

// SetupTOTP begins TOTP enrollment: it generates a fresh secret, creates
// an inactive device, renders the scannable enrollment QR, and issues a
// fresh recovery code set for the user.
func (s *MFAService) SetupTOTP(ctx context.Context, userID, deviceName string) (*TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.MFA.Issuer,
		AccountName: fmt.Sprintf("%s:%s", s.cfg.MFA.ServiceName, userID),
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	device := &domain.Device{
		ID:     domain.NewDeviceID(),
		UserID: userID,
		Type:   domain.FactorTOTP,
		Name:   deviceName,
		Secret: key.Secret(),
		Metadata: map[string]any{
			"algorithm": "SHA1",
			"digits":    6,
			"period":    totpPeriod,
		},
	}

	if err := s.registerDevice(ctx, device); err != nil {
		return nil, err
	}

	qrCode, err := renderQRCode(key, s.cfg.MFA.QRCodeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}

	recoveryCodes, err := s.GenerateRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.emit(EventSetupStarted, userID, device.ID, domain.FactorTOTP)
	s.logger.Info("TOTP setup started",
		zap.String("user_id", userID),
		zap.String("device_id", device.ID),
	)

	return &TOTPSetup{
		Device:        device.Redacted(),
		Secret:        key.Secret(),
		OTPAuthURL:    key.URL(),
		QRCode:        qrCode,
		RecoveryCodes: recoveryCodes,
	}, nil
}

// VerifyTOTPSetup confirms enrollment: the submitted token is checked
// against the device secret with the configured drift window and, on
// match, the device is activated. Verification is stateless against the
// secret; no challenge object is involved.
func (s *MFAService) VerifyTOTPSetup(ctx context.Context, userID, deviceID, token string) (bool, error) {
	device, err := s.ownedDevice(ctx, userID, deviceID, domain.FactorTOTP)
	if err != nil {
		return false, err
	}

	ok, err := s.validateTOTP(device.Secret, token, time.Now())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := s.activateDevice(ctx, device); err != nil {
		return false, err
	}
	return true, nil
}

// validateTOTP checks a token against a secret, accepting the current
// 30-second step plus the configured skew on either side.
func (s *MFAService) validateTOTP(secret, token string, at time.Time) (bool, error) {
	ok, err := totp.ValidateCustom(token, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      s.cfg.MFA.TOTPWindow,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate totp: %w", err)
	}
	return ok, nil
}

// renderQRCode rasterizes the otpauth:// key as a data-URI PNG.
func renderQRCode(key *otp.Key, size int) (string, error) {
	img, err := key.Image(size, size)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
