package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
)

// Store implements an in-memory storage
type Store struct {
	devices       *DeviceStore
	challenges    *ChallengeStore
	recoveryCodes *RecoveryCodeStore
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		devices:       &DeviceStore{data: make(map[string]*domain.Device)},
		challenges:    &ChallengeStore{data: make(map[string]*domain.Challenge)},
		recoveryCodes: &RecoveryCodeStore{data: make(map[string]*domain.RecoveryCodeSet)},
	}
}

func (s *Store) Devices() storage.DeviceStore             { return s.devices }
func (s *Store) Challenges() storage.ChallengeStore       { return s.challenges }
func (s *Store) RecoveryCodes() storage.RecoveryCodeStore { return s.recoveryCodes }
func (s *Store) Close() error                             { return nil }
func (s *Store) Ping(ctx context.Context) error           { return nil }

// DeviceStore implements in-memory device storage
type DeviceStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Device
}

func cloneDevice(d *domain.Device) *domain.Device {
	out := *d
	if d.Credential != nil {
		cred := *d.Credential
		out.Credential = &cred
	}
	if d.LastUsedAt != nil {
		t := *d.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out
}

func (s *DeviceStore) Create(ctx context.Context, device *domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[device.ID]; exists {
		return storage.ErrAlreadyExists
	}

	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now()
	}
	s.data[device.ID] = cloneDevice(device)
	return nil
}

func (s *DeviceStore) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneDevice(device), nil
}

func (s *DeviceStore) GetAllByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*domain.Device, 0)
	for _, device := range s.data {
		if device.UserID == userID {
			devices = append(devices, cloneDevice(device))
		}
	}
	// Map iteration order is not stable; callers rely on creation order.
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].CreatedAt.Before(devices[j].CreatedAt)
	})
	return devices, nil
}

func (s *DeviceStore) Update(ctx context.Context, device *domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[device.ID]; !exists {
		return storage.ErrNotFound
	}

	s.data[device.ID] = cloneDevice(device)
	return nil
}

func (s *DeviceStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, exists := s.data[id]
	if !exists || device.UserID != userID {
		return storage.ErrNotFound
	}

	delete(s.data, id)
	return nil
}

func (s *DeviceStore) Stats(ctx context.Context) (*domain.DeviceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.DeviceStats{
		DevicesByType: make(map[domain.FactorType]int64),
	}
	for _, t := range domain.FactorTypes() {
		stats.DevicesByType[t] = 0
	}

	users := make(map[string]struct{})
	for _, device := range s.data {
		users[device.UserID] = struct{}{}
		stats.TotalDevices++
		if device.IsActive {
			stats.DevicesByType[device.Type]++
		}
	}
	stats.TotalUsers = int64(len(users))
	return stats, nil
}

// ChallengeStore implements in-memory challenge storage
type ChallengeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Challenge
}

func cloneChallenge(c *domain.Challenge) *domain.Challenge {
	out := *c
	return &out
}

func (s *ChallengeStore) Create(ctx context.Context, challenge *domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[challenge.ID]; exists {
		return storage.ErrAlreadyExists
	}

	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now()
	}
	s.data[challenge.ID] = cloneChallenge(challenge)
	return nil
}

func (s *ChallengeStore) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	challenge, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneChallenge(challenge), nil
}

func (s *ChallengeStore) RecordAttempt(ctx context.Context, id string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	challenge.Attempts++
	return cloneChallenge(challenge), nil
}

func (s *ChallengeStore) Complete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id]; !exists {
		return false, nil
	}

	delete(s.data, id)
	return true, nil
}

func (s *ChallengeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

func (s *ChallengeStore) DeleteExpired(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, challenge := range s.data {
		if now.After(challenge.ExpiresAt) {
			delete(s.data, id)
		}
	}
	return nil
}

func (s *ChallengeStore) DeleteByDevice(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, challenge := range s.data {
		if challenge.DeviceID == deviceID {
			delete(s.data, id)
		}
	}
	return nil
}

func (s *ChallengeStore) FindSetup(ctx context.Context, deviceID string, factor domain.FactorType) (*domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, challenge := range s.data {
		if challenge.DeviceID == deviceID && challenge.Type == factor && challenge.Setup && !challenge.IsCompleted {
			return cloneChallenge(challenge), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *ChallengeStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.data)), nil
}

// RecoveryCodeStore implements in-memory recovery code storage
type RecoveryCodeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RecoveryCodeSet
}

func (s *RecoveryCodeStore) Replace(ctx context.Context, set *domain.RecoveryCodeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &domain.RecoveryCodeSet{
		UserID:      set.UserID,
		Hashes:      append([]string(nil), set.Hashes...),
		GeneratedAt: set.GeneratedAt,
	}
	if stored.GeneratedAt.IsZero() {
		stored.GeneratedAt = time.Now()
	}
	s.data[set.UserID] = stored
	return nil
}

func (s *RecoveryCodeStore) GetHashes(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, exists := s.data[userID]
	if !exists {
		return []string{}, nil
	}
	return append([]string(nil), set.Hashes...), nil
}

func (s *RecoveryCodeStore) Remove(ctx context.Context, userID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, exists := s.data[userID]
	if !exists {
		return false, nil
	}

	for i, h := range set.Hashes {
		if h == hash {
			set.Hashes = append(set.Hashes[:i], set.Hashes[i+1:]...)
			if len(set.Hashes) == 0 {
				delete(s.data, userID)
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *RecoveryCodeStore) Count(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, exists := s.data[userID]
	if !exists {
		return 0, nil
	}
	return len(set.Hashes), nil
}

func (s *RecoveryCodeStore) DeleteByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, userID)
	return nil
}
