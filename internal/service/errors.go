package service

import "errors"

var (
	// ErrInvalidPhoneNumber is returned when SMS enrollment is attempted
	// with a number that is not E.164.
	ErrInvalidPhoneNumber = errors.New("invalid phone number format, expected E.164")

	// ErrChallengeNotFound means no matching challenge exists.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeExpired means the challenge outlived its TTL. The
	// challenge is deleted when this is detected; the failure is terminal.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrTooManyAttempts means the attempt budget is exhausted. Also
	// terminal; the challenge is deleted.
	ErrTooManyAttempts = errors.New("too many attempts")

	// ErrDeviceNotFound means the device does not exist or is owned by
	// another user.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoDevices is raised when a challenge is requested for a user
	// with no enrolled devices. Caller misuse, not end-user input error.
	ErrNoDevices = errors.New("no mfa devices found for user")

	// ErrNoActiveDevices is raised when a challenge is requested but no
	// device has completed enrollment.
	ErrNoActiveDevices = errors.New("no active mfa devices found")

	// ErrInvalidDevice is raised when the requested device does not
	// belong to the user or is not active.
	ErrInvalidDevice = errors.New("invalid or inactive mfa device")

	// ErrVerificationFailed means a WebAuthn ceremony could not be
	// completed against the stored credential.
	ErrVerificationFailed = errors.New("verification failed")
)
