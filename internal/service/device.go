package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
)

// registerDevice persists a freshly constructed, inactive device.
// For SMS devices the phone number must already be E.164.
func (s *MFAService) registerDevice(ctx context.Context, device *domain.Device) error {
	if device.Type == domain.FactorSMS && !domain.ValidPhoneNumber(device.PhoneNumber) {
		return ErrInvalidPhoneNumber
	}

	device.IsActive = false
	device.CreatedAt = time.Now()

	if err := s.store.Devices().Create(ctx, device); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// activateDevice flips the device to active after a successful setup
// verification and stamps last use.
func (s *MFAService) activateDevice(ctx context.Context, device *domain.Device) error {
	device.IsActive = true
	device.Touch()

	if err := s.store.Devices().Update(ctx, device); err != nil {
		return fmt.Errorf("failed to activate device: %w", err)
	}

	s.emit(EventDeviceActivated, device.UserID, device.ID, device.Type)
	s.logger.Info("MFA device activated",
		zap.String("user_id", device.UserID),
		zap.String("device_id", device.ID),
		zap.String("type", string(device.Type)),
	)
	return nil
}

// ownedDevice fetches a device and checks ownership and factor type.
// Mismatches surface as not-found so callers cannot probe foreign devices.
func (s *MFAService) ownedDevice(ctx context.Context, userID, deviceID string, factor domain.FactorType) (*domain.Device, error) {
	device, err := s.store.Devices().GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if device.UserID != userID || device.Type != factor {
		return nil, ErrDeviceNotFound
	}
	return device, nil
}

// ListDevices returns the user's devices with secret material redacted.
func (s *MFAService) ListDevices(ctx context.Context, userID string) ([]*domain.Device, error) {
	devices, err := s.store.Devices().GetAllByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	out := make([]*domain.Device, 0, len(devices))
	for _, device := range devices {
		out = append(out, device.Redacted())
	}
	return out, nil
}

// RemoveDevice deletes the user's device. It returns false, without
// error, when the device does not exist or belongs to another user.
// Outstanding challenges for the device are invalidated in the same
// operation so no verifiable challenge survives the removal.
func (s *MFAService) RemoveDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	device, err := s.store.Devices().GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get device: %w", err)
	}
	if device.UserID != userID {
		return false, nil
	}

	if err := s.store.Devices().Delete(ctx, userID, deviceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete device: %w", err)
	}

	if err := s.store.Challenges().DeleteByDevice(ctx, deviceID); err != nil {
		return true, fmt.Errorf("failed to cascade challenge deletion: %w", err)
	}

	s.emit(EventDeviceRemoved, userID, deviceID, device.Type)
	s.logger.Info("MFA device removed",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
		zap.String("type", string(device.Type)),
	)
	return true, nil
}

// HasMFAEnabled reports whether the user has at least one active device.
func (s *MFAService) HasMFAEnabled(ctx context.Context, userID string) (bool, error) {
	devices, err := s.store.Devices().GetAllByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to list devices: %w", err)
	}

	for _, device := range devices {
		if device.IsActive {
			return true, nil
		}
	}
	return false, nil
}

// Stats is a read-only operational snapshot.
type Stats struct {
	domain.DeviceStats
	ActiveChallenges int64 `json:"active_challenges"`
}

// GetStats aggregates device and challenge counts for monitoring.
func (s *MFAService) GetStats(ctx context.Context) (*Stats, error) {
	deviceStats, err := s.store.Devices().Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate device stats: %w", err)
	}

	challenges, err := s.store.Challenges().Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count challenges: %w", err)
	}

	return &Stats{
		DeviceStats:      *deviceStats,
		ActiveChallenges: challenges,
	}, nil
}
