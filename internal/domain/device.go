package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// FactorType identifies the kind of second factor a device provides.
type FactorType string

const (
	FactorTOTP         FactorType = "totp"
	FactorSMS          FactorType = "sms"
	FactorWebAuthn     FactorType = "webauthn"
	FactorRecoveryCode FactorType = "recovery_code"
)

// FactorTypes lists every factor type, in the order stats are reported.
func FactorTypes() []FactorType {
	return []FactorType{FactorTOTP, FactorSMS, FactorWebAuthn, FactorRecoveryCode}
}

// Device is a registered second factor for a user. A device is created
// inactive by enrollment and only becomes usable for login challenges
// after its setup verification succeeds.
type Device struct {
	ID     string     `json:"id" bson:"_id"`
	UserID string     `json:"user_id" bson:"user_id"`
	Type   FactorType `json:"type" bson:"type"`
	Name   string     `json:"name" bson:"name"`

	// Secret holds the base32 TOTP shared secret. Never exposed to callers.
	Secret string `json:"secret,omitempty" bson:"secret,omitempty"`

	// PhoneNumber is the E.164 destination for SMS devices.
	PhoneNumber string `json:"phone_number,omitempty" bson:"phone_number,omitempty"`

	// Credential holds the WebAuthn credential for webauthn devices.
	Credential *WebauthnCredential `json:"credential,omitempty" bson:"credential,omitempty"`

	IsActive   bool       `json:"is_active" bson:"is_active"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" bson:"last_used_at,omitempty"`

	// Metadata carries factor-specific parameters (TOTP digits/period,
	// WebAuthn attestation type).
	Metadata map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// NewDeviceID generates a unique device identifier.
func NewDeviceID() string {
	return uuid.NewString()
}

// Touch stamps the device as just used.
func (d *Device) Touch() {
	now := time.Now()
	d.LastUsedAt = &now
}

// Redacted returns a copy of the device safe for external exposure: the
// TOTP secret and the WebAuthn public key are always stripped.
func (d *Device) Redacted() *Device {
	out := *d
	out.Secret = ""
	if d.Credential != nil {
		cred := *d.Credential
		cred.PublicKey = nil
		out.Credential = &cred
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

var phoneRegexp = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidPhoneNumber reports whether s is an E.164 phone number.
func ValidPhoneNumber(s string) bool {
	return phoneRegexp.MatchString(s)
}

// DeviceStats is a read-only snapshot of the device registry for
// operational monitoring.
type DeviceStats struct {
	TotalUsers    int64                `json:"total_users"`
	TotalDevices  int64                `json:"total_devices"`
	DevicesByType map[FactorType]int64 `json:"devices_by_type"`
}
