package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
)

// RecoveryCodeStore implements MongoDB recovery code storage. One document
// per user, keyed by user id, holding the outstanding hashes.
type RecoveryCodeStore struct {
	collection *mongo.Collection
}

func (s *RecoveryCodeStore) Replace(ctx context.Context, set *domain.RecoveryCodeSet) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": set.UserID}, set, opts)
	if err != nil {
		return fmt.Errorf("failed to replace recovery codes: %w", err)
	}
	return nil
}

func (s *RecoveryCodeStore) GetHashes(ctx context.Context, userID string) ([]string, error) {
	var set domain.RecoveryCodeSet
	err := s.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&set)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to get recovery codes: %w", err)
	}
	return set.Hashes, nil
}

// Remove pulls a single hash server-side. ModifiedCount tells us whether
// this caller was the one that consumed it.
func (s *RecoveryCodeStore) Remove(ctx context.Context, userID, hash string) (bool, error) {
	result, err := s.collection.UpdateOne(
		ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"hashes": hash}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove recovery code: %w", err)
	}
	if result.ModifiedCount == 0 {
		return false, nil
	}

	// Drop the document once the set empties
	_, err = s.collection.DeleteOne(ctx, bson.M{"_id": userID, "hashes": bson.M{"$size": 0}})
	if err != nil {
		return true, fmt.Errorf("failed to prune empty recovery set: %w", err)
	}
	return true, nil
}

func (s *RecoveryCodeStore) Count(ctx context.Context, userID string) (int, error) {
	hashes, err := s.GetHashes(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(hashes), nil
}

func (s *RecoveryCodeStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete recovery codes: %w", err)
	}
	return nil
}
