package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisArtifactStore is the warm tier. Blobs and their metadata live
// under separate keys; both expire together when a TTL is configured.
type RedisArtifactStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisArtifactStore(client *redis.Client) *RedisArtifactStore {
	return &RedisArtifactStore{client: client, prefix: "artifact"}
}

// WithTTL sets an expiry for warm entries (zero = keep forever).
func (r *RedisArtifactStore) WithTTL(ttl time.Duration) *RedisArtifactStore {
	r.ttl = ttl
	return r
}

func (r *RedisArtifactStore) dataKey(id RefId) string { return r.prefix + ":data:" + string(id) }
func (r *RedisArtifactStore) metaKey(id RefId) string { return r.prefix + ":meta:" + string(id) }

func (r *RedisArtifactStore) Save(ctx context.Context, data []byte) (RefId, error) {
	id := NewRefId()
	return id, r.put(ctx, id, data, "application/octet-stream")
}

func (r *RedisArtifactStore) SaveWithID(ctx context.Context, id RefId, data []byte) error {
	return r.put(ctx, id, data, "application/octet-stream")
}

func (r *RedisArtifactStore) SaveWithType(ctx context.Context, data []byte, contentType string) (RefId, error) {
	id := NewRefId()
	return id, r.put(ctx, id, data, contentType)
}

func (r *RedisArtifactStore) put(ctx context.Context, id RefId, data []byte, contentType string) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.dataKey(id), data, r.ttl)
	pipe.HSet(ctx, r.metaKey(id),
		"content_type", contentType,
		"size", len(data),
		"created_at", time.Now().UTC().Format(time.RFC3339),
	)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.metaKey(id), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save artifact: %w", err)
	}
	return nil
}

func (r *RedisArtifactStore) Load(ctx context.Context, id RefId) ([]byte, error) {
	data, err := r.client.Get(ctx, r.dataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis load artifact: %w", err)
	}
	return data, nil
}

func (r *RedisArtifactStore) Delete(ctx context.Context, id RefId) error {
	return r.client.Del(ctx, r.dataKey(id), r.metaKey(id)).Err()
}

func (r *RedisArtifactStore) Exists(ctx context.Context, id RefId) (bool, error) {
	n, err := r.client.Exists(ctx, r.dataKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisArtifactStore) Metadata(ctx context.Context, id RefId) (*ArtifactMetadata, error) {
	vals, err := r.client.HGetAll(ctx, r.metaKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	meta := &ArtifactMetadata{ContentType: vals["content_type"], Tier: TierWarm}
	fmt.Sscanf(vals["size"], "%d", &meta.Size)
	if t, err := time.Parse(time.RFC3339, vals["created_at"]); err == nil {
		meta.CreatedAt = t
	}
	return meta, nil
}

func (r *RedisArtifactStore) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
