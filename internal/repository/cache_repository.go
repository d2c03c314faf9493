package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/rosterly/enrol-recon-api/pkg/errors"
)

// CacheRepository stores batch summaries in Redis so review polling does not
// hit Postgres on every request.
type CacheRepository struct {
	client *redis.Client
}

// NewCacheRepository constructs the repository.
func NewCacheRepository(client *redis.Client) *CacheRepository {
	return &CacheRepository{client: client}
}

func batchSummaryKey(tenantID, batchID string) string {
	return fmt.Sprintf("import:batch:%s:%s:summary", tenantID, batchID)
}

// GetJSON reads a cached value into dest. Returns ErrCacheMiss when absent.
// All methods are nil-safe so a missing Redis degrades to database reads.
func (r *CacheRepository) GetJSON(ctx context.Context, key string, dest interface{}) error {
	if r == nil || r.client == nil {
		return appErrors.ErrCacheMiss
	}
	payload, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return appErrors.ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("cache decode: %w", err)
	}
	return nil
}

// SetJSON writes a value with a TTL. Cache failures are reported, never fatal.
func (r *CacheRepository) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r == nil || r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate removes a key after any mutation of the underlying batch.
func (r *CacheRepository) Invalidate(ctx context.Context, key string) error {
	if r == nil || r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// BatchSummaryKey exposes the cache key layout to the service layer.
func (r *CacheRepository) BatchSummaryKey(tenantID, batchID string) string {
	return batchSummaryKey(tenantID, batchID)
}
