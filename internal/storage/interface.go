package storage

import (
	"context"
	"errors"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabase      = errors.New("database error")
)

// DeviceStore defines the interface for MFA device storage operations
type DeviceStore interface {
	// Create creates a new device
	Create(ctx context.Context, device *domain.Device) error

	// GetByID retrieves a device by ID
	GetByID(ctx context.Context, id string) (*domain.Device, error)

	// GetAllByUser retrieves all devices for a user, ordered by creation time
	GetAllByUser(ctx context.Context, userID string) ([]*domain.Device, error)

	// Update updates a device
	Update(ctx context.Context, device *domain.Device) error

	// Delete deletes a device owned by userID. Returns ErrNotFound when the
	// device does not exist or belongs to another user.
	Delete(ctx context.Context, userID, id string) error

	// Stats returns aggregate device counts for monitoring
	Stats(ctx context.Context) (*domain.DeviceStats, error)
}

// ChallengeStore defines the interface for verification challenge storage.
// RecordAttempt and Complete are the two operations the state machine's
// safety properties hang on; implementations must make them atomic.
type ChallengeStore interface {
	// Create creates a new challenge
	Create(ctx context.Context, challenge *domain.Challenge) error

	// GetByID retrieves a challenge by ID
	GetByID(ctx context.Context, id string) (*domain.Challenge, error)

	// RecordAttempt atomically increments the challenge's attempt counter
	// and returns the updated challenge. The check-then-increment sequence
	// must not interleave with concurrent callers.
	RecordAttempt(ctx context.Context, id string) (*domain.Challenge, error)

	// Complete atomically deletes the challenge, reporting whether this
	// caller removed it. At-most-once completion hinges on this.
	Complete(ctx context.Context, id string) (bool, error)

	// Delete deletes a challenge
	Delete(ctx context.Context, id string) error

	// DeleteExpired deletes all expired challenges
	DeleteExpired(ctx context.Context) error

	// DeleteByDevice deletes all challenges referencing a device
	DeleteByDevice(ctx context.Context, deviceID string) error

	// FindSetup retrieves the uncompleted setup challenge for a device
	FindSetup(ctx context.Context, deviceID string, factor domain.FactorType) (*domain.Challenge, error)

	// Count returns the number of outstanding challenges
	Count(ctx context.Context) (int64, error)
}

// RecoveryCodeStore defines the interface for one-time recovery code
// storage. Codes are stored as hashes only.
type RecoveryCodeStore interface {
	// Replace installs a fresh hash set for the user, discarding any prior set
	Replace(ctx context.Context, set *domain.RecoveryCodeSet) error

	// GetHashes retrieves the user's current hashes (empty slice if none)
	GetHashes(ctx context.Context, userID string) ([]string, error)

	// Remove atomically removes one hash if present, reporting whether this
	// caller removed it. The user's entry is dropped once the set empties.
	Remove(ctx context.Context, userID, hash string) (bool, error)

	// Count returns how many unused codes the user has left
	Count(ctx context.Context, userID string) (int, error)

	// DeleteByUser removes the user's entire set
	DeleteByUser(ctx context.Context, userID string) error
}

// Store aggregates all storage interfaces
type Store interface {
	Devices() DeviceStore
	Challenges() ChallengeStore
	RecoveryCodes() RecoveryCodeStore

	// Close closes the storage connection
	Close() error

	// Ping checks if the storage is alive
	Ping(ctx context.Context) error
}
