package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fanzplatform/go-mfa-service/internal/domain"
	"github.com/fanzplatform/go-mfa-service/internal/storage"
)

// DeviceStore implements MongoDB device storage
type DeviceStore struct {
	collection *mongo.Collection
}

func (s *DeviceStore) Create(ctx context.Context, device *domain.Device) error {
	_, err := s.collection.InsertOne(ctx, device)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (s *DeviceStore) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	var device domain.Device
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&device)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (s *DeviceStore) GetAllByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer cursor.Close(ctx)

	devices := make([]*domain.Device, 0)
	for cursor.Next(ctx) {
		var device domain.Device
		if err := cursor.Decode(&device); err != nil {
			return nil, fmt.Errorf("failed to decode device: %w", err)
		}
		devices = append(devices, &device)
	}
	return devices, cursor.Err()
}

func (s *DeviceStore) Update(ctx context.Context, device *domain.Device) error {
	result, err := s.collection.ReplaceOne(ctx, bson.M{"_id": device.ID}, device)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *DeviceStore) Delete(ctx context.Context, userID, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if result.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *DeviceStore) Stats(ctx context.Context) (*domain.DeviceStats, error) {
	stats := &domain.DeviceStats{
		DevicesByType: make(map[domain.FactorType]int64),
	}
	for _, t := range domain.FactorTypes() {
		stats.DevicesByType[t] = 0
	}

	total, err := s.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}
	stats.TotalDevices = total

	users, err := s.collection.Distinct(ctx, "user_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	stats.TotalUsers = int64(len(users))

	cursor, err := s.collection.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"is_active": true}}},
		{{Key: "$group", Value: bson.M{"_id": "$type", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate device types: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var row struct {
			Type  domain.FactorType `bson:"_id"`
			Count int64             `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode type count: %w", err)
		}
		stats.DevicesByType[row.Type] = row.Count
	}
	return stats, cursor.Err()
}
