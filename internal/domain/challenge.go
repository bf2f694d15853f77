package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is the attempt budget every challenge starts with.
const DefaultMaxAttempts = 3

// Challenge is a single time-boxed, attempt-limited verification window
// against one device. Challenges are short-lived: they are deleted on
// completion, expiry, or attempt exhaustion, and swept periodically.
type Challenge struct {
	ID       string     `json:"id" bson:"_id"`
	UserID   string     `json:"user_id" bson:"user_id"`
	DeviceID string     `json:"device_id" bson:"device_id"`
	Type     FactorType `json:"type" bson:"type"`

	// Code is the expected SMS code. TOTP challenges carry no code; they
	// are verified live against the device secret.
	Code string `json:"-" bson:"code,omitempty"`

	// Nonce is the WebAuthn session challenge (base64url).
	Nonce string `json:"-" bson:"nonce,omitempty"`

	ExpiresAt   time.Time `json:"expires_at" bson:"expires_at"`
	Attempts    int       `json:"attempts" bson:"attempts"`
	MaxAttempts int       `json:"max_attempts" bson:"max_attempts"`
	IsCompleted bool      `json:"is_completed" bson:"is_completed"`

	// Setup distinguishes enrollment verification challenges from
	// login verification challenges.
	Setup bool `json:"setup" bson:"setup"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// NewChallengeID generates a unique challenge identifier.
func NewChallengeID() string {
	return uuid.NewString()
}

// IsExpired reports whether the challenge has outlived its TTL.
func (c *Challenge) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// Exhausted reports whether the attempt budget is spent.
func (c *Challenge) Exhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// RemainingAttempts returns how many attempts are left.
func (c *Challenge) RemainingAttempts() int {
	if n := c.MaxAttempts - c.Attempts; n > 0 {
		return n
	}
	return 0
}

// VerificationResult classifies the outcome of a challenge verification.
type VerificationResult string

const (
	VerificationSuccess         VerificationResult = "success"
	VerificationInvalidCode     VerificationResult = "invalid_code"
	VerificationExpired         VerificationResult = "expired"
	VerificationTooManyAttempts VerificationResult = "too_many_attempts"
	VerificationDeviceNotFound  VerificationResult = "device_not_found"
)

// VerificationOutcome is returned to the caller for every verification.
// End-user mismatches are values, never errors, so the authentication
// layer can render them uniformly.
type VerificationOutcome struct {
	Result            VerificationResult `json:"result"`
	RemainingAttempts int                `json:"remaining_attempts,omitempty"`
}
