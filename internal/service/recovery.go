package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
)

// GenerateRecoveryCodes mints a fresh recovery code set for the user and
// replaces any previous set. Plaintext codes are returned to the caller
// exactly once; only bcrypt hashes are kept at rest.
func (s *MFAService) GenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	count := s.cfg.MFA.RecoveryCodes.Count
	length := s.cfg.MFA.RecoveryCodes.Length

	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		code, err := generateRandomCode(length)
		if err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.MFA.RecoveryCodes.HashCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}
		hashes[i] = string(hash)
	}

	set := &domain.RecoveryCodeSet{
		UserID:      userID,
		Hashes:      hashes,
		GeneratedAt: time.Now(),
	}
	if err := s.store.RecoveryCodes().Replace(ctx, set); err != nil {
		return nil, fmt.Errorf("failed to store recovery codes: %w", err)
	}

	s.logger.Info("recovery codes generated",
		zap.String("user_id", userID),
		zap.Int("count", count),
	)
	return codes, nil
}

// RecoveryCodesRemaining reports how many unused recovery codes the user
// still holds.
func (s *MFAService) RecoveryCodesRemaining(ctx context.Context, userID string) (int, error) {
	n, err := s.store.RecoveryCodes().Count(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count recovery codes: %w", err)
	}
	return n, nil
}

// consumeRecoveryCode checks the submitted code against the user's stored
// hashes and, on match, removes that hash so the code can never be used
// again. The store removal is the arbiter under concurrency: only the
// caller whose removal lands gets true.
func (s *MFAService) consumeRecoveryCode(ctx context.Context, userID, code string) (bool, error) {
	hashes, err := s.store.RecoveryCodes().GetHashes(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load recovery codes: %w", err)
	}

	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
			continue
		}
		removed, err := s.store.RecoveryCodes().Remove(ctx, userID, hash)
		if err != nil {
			return false, fmt.Errorf("failed to consume recovery code: %w", err)
		}
		return removed, nil
	}
	return false, nil
}
