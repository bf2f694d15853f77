package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
	"github.com/fanzplatform/go-mfa-service/internal/storage/memory"
	"github.com/fanzplatform/go-mfa-service/pkg/config"
)

func TestChallengeCleanupWorker(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	expired := &domain.Challenge{
		ID:          domain.NewChallengeID(),
		UserID:      "user-1",
		DeviceID:    "device-1",
		Type:        domain.FactorSMS,
		ExpiresAt:   time.Now().Add(-time.Minute),
		MaxAttempts: domain.DefaultMaxAttempts,
		CreatedAt:   time.Now().Add(-10 * time.Minute),
	}
	live := &domain.Challenge{
		ID:          domain.NewChallengeID(),
		UserID:      "user-1",
		DeviceID:    "device-1",
		Type:        domain.FactorSMS,
		ExpiresAt:   time.Now().Add(5 * time.Minute),
		MaxAttempts: domain.DefaultMaxAttempts,
		CreatedAt:   time.Now(),
	}
	for _, c := range []*domain.Challenge{expired, live} {
		if err := store.Challenges().Create(ctx, c); err != nil {
			t.Fatalf("Failed to create challenge: %v", err)
		}
	}

	worker := NewChallengeCleanupWorker(config.ChallengeCleanupConfig{
		Enabled:         true,
		IntervalSeconds: 3600,
	}, store, zap.NewNop())

	// Start runs an immediate sweep before the first tick
	worker.Start()
	worker.Stop()

	if _, err := store.Challenges().GetByID(ctx, expired.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected expired challenge to be swept, got %v", err)
	}
	if _, err := store.Challenges().GetByID(ctx, live.ID); err != nil {
		t.Errorf("Expected live challenge to survive, got %v", err)
	}
}

func TestChallengeCleanupWorkerDisabled(t *testing.T) {
	store := memory.NewStore()

	worker := NewChallengeCleanupWorker(config.ChallengeCleanupConfig{
		Enabled: false,
	}, store, zap.NewNop())

	// Start and Stop are no-ops when disabled
	worker.Start()
	worker.Stop()
}

func TestChallengeCleanupDefaults(t *testing.T) {
	cfg := config.ChallengeCleanupConfig{Enabled: true}
	cfg.SetDefaults()
	if cfg.IntervalSeconds != 60 {
		t.Errorf("Expected 60 second default interval, got %d", cfg.IntervalSeconds)
	}
}
