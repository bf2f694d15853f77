// Package backend selects and constructs the storage implementation
// configured for this deployment.
package backend

import (
	"context"
	"fmt"

	"github.com/fanzplatform/go-mfa-service/internal/storage"
	"github.com/fanzplatform/go-mfa-service/internal/storage/memory"
	"github.com/fanzplatform/go-mfa-service/internal/storage/mongodb"
	"github.com/fanzplatform/go-mfa-service/pkg/config"
)

// Type defines the type of storage backend
type Type string

const (
	// TypeMemory uses in-memory storage (for testing/development)
	TypeMemory Type = "memory"
	// TypeMongoDB uses MongoDB storage (for production)
	TypeMongoDB Type = "mongodb"
)

// New creates a storage backend based on the configuration
func New(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch Type(cfg.Storage.Type) {
	case TypeMemory:
		return memory.NewStore(), nil
	case TypeMongoDB:
		store, err := mongodb.NewStore(ctx, &cfg.Storage.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to create mongodb store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Storage.Type)
	}
}
