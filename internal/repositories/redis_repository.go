package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"nkit/internal/models"
)

// RedisRepository caches schema snapshots and revoked token IDs.
type RedisRepository struct {
	rdb         *redis.Client
	snapshotTTL time.Duration
}

func NewRedisRepository(rdb *redis.Client, snapshotTTL time.Duration) *RedisRepository {
	return &RedisRepository{rdb: rdb, snapshotTTL: snapshotTTL}
}

func snapshotKey(name string) string {
	return "schema:" + name
}

// LoadSnapshot returns the cached schema of the named database, or nil when
// nothing is cached.
func (r *RedisRepository) LoadSnapshot(ctx context.Context, name string) (*models.Database, error) {
	data, err := r.rdb.Get(ctx, snapshotKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read schema snapshot: %w", err)
	}

	var db models.Database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("failed to decode schema snapshot: %w", err)
	}
	db.BuildRelations()
	return &db, nil
}

func (r *RedisRepository) StoreSnapshot(ctx context.Context, db *models.Database) error {
	data, err := json.Marshal(db)
	if err != nil {
		return fmt.Errorf("failed to encode schema snapshot: %w", err)
	}
	return r.rdb.Set(ctx, snapshotKey(db.Name), data, r.snapshotTTL).Err()
}

func (r *RedisRepository) DeleteSnapshot(ctx context.Context, name string) error {
	return r.rdb.Del(ctx, snapshotKey(name)).Err()
}

func (r *RedisRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	key := "blacklist:" + jti
	exists, err := r.rdb.Exists(ctx, key).Result()
	return exists == 1, err
}

// Blacklist revokes a token ID until the token would have expired anyway.
func (r *RedisRepository) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	key := "blacklist:" + jti
	return r.rdb.Set(ctx, key, "true", ttl).Err()
}
