package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"featurevotes/internal/models"

	"github.com/redis/go-redis/v9"
)

const catalogKey = "feature_votes:catalog"

type RedisStore struct {
	Client *redis.Client
}

func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func (s *RedisStore) Close() error {
	if s.Client != nil {
		return s.Client.Close()
	}
	return nil
}

// StoreCatalog caches the full product list as returned by the collaborator.
func (s *RedisStore) StoreCatalog(ctx context.Context, products []models.FeatureProduct, ttl time.Duration) error {
	data, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	if err := s.Client.Set(ctx, catalogKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set catalog in redis: %w", err)
	}
	return nil
}

// GetCatalog returns the cached product list, or nil on a cache miss.
func (s *RedisStore) GetCatalog(ctx context.Context) ([]models.FeatureProduct, error) {
	val, err := s.Client.Get(ctx, catalogKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get catalog from redis: %w", err)
	}

	var products []models.FeatureProduct
	if err := json.Unmarshal([]byte(val), &products); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog from redis: %w", err)
	}
	return products, nil
}

func (s *RedisStore) InvalidateCatalog(ctx context.Context) error {
	if err := s.Client.Del(ctx, catalogKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete catalog from redis: %w", err)
	}
	return nil
}
