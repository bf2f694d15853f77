package service

import (
	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/sms"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
	"github.com/fanzplatform/go-mfa-service/pkg/config"
)

// Services aggregates all application services
type Services struct {
	MFA              *MFAService
	ChallengeCleanup *ChallengeCleanupWorker
}

// NewServices creates a new Services instance
func NewServices(store storage.Store, cfg *config.Config, logger *zap.Logger, sender sms.Sender, notifier Notifier) (*Services, error) {
	mfaSvc, err := NewMFAService(store, cfg, logger, sender, notifier)
	if err != nil {
		return nil, err
	}

	return &Services{
		MFA:              mfaSvc,
		ChallengeCleanup: NewChallengeCleanupWorker(cfg.MFA.ChallengeCleanup, store, logger),
	}, nil
}

// Start starts background workers
func (s *Services) Start() {
	if s.ChallengeCleanup != nil {
		s.ChallengeCleanup.Start()
	}
}

// Stop gracefully stops background workers
func (s *Services) Stop() {
	if s.ChallengeCleanup != nil {
		s.ChallengeCleanup.Stop()
	}
}
