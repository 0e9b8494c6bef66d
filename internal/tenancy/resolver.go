package tenancy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// Source loads and updates tenants from durable storage.
type Source interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*Tenant, error)
	UpdateCalendarProvider(ctx context.Context, tenantID uuid.UUID, provider CalendarProvider) error
}

// Resolver answers tenant settings lookups with a Redis read-through cache.
type Resolver struct {
	source Source
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewResolver builds a resolver. A nil redis client disables caching.
func NewResolver(source Source, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *Resolver {
	if source == nil {
		panic("tenancy: source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{source: source, redis: redisClient, ttl: ttl, logger: logger}
}

func cacheKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant:config:%s", tenantID)
}

// Resolve returns the tenant's settings. Cache failures fall through to the source.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID) (*Tenant, error) {
	if r.redis != nil {
		data, err := r.redis.Get(ctx, cacheKey(tenantID)).Bytes()
		switch {
		case err == nil:
			var t Tenant
			if jsonErr := json.Unmarshal(data, &t); jsonErr == nil {
				return &t, nil
			}
			r.logger.Warn("tenant cache entry unreadable", "tenant_id", tenantID)
		case err != redis.Nil:
			r.logger.Warn("tenant cache read failed", "tenant_id", tenantID, "error", err)
		}
	}

	t, err := r.source.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if r.redis != nil {
		if data, err := json.Marshal(t); err == nil {
			if err := r.redis.Set(ctx, cacheKey(tenantID), data, r.ttl).Err(); err != nil {
				r.logger.Warn("tenant cache write failed", "tenant_id", tenantID, "error", err)
			}
		}
	}
	return t, nil
}

// CalendarProvider returns only the provider mode.
func (r *Resolver) CalendarProvider(ctx context.Context, tenantID uuid.UUID) (CalendarProvider, error) {
	t, err := r.Resolve(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return t.CalendarProvider, nil
}

// SetCalendarProvider validates and stores the mode, then drops the cached entry.
func (r *Resolver) SetCalendarProvider(ctx context.Context, tenantID uuid.UUID, raw string) (CalendarProvider, error) {
	provider, err := ParseCalendarProvider(raw)
	if err != nil {
		return "", err
	}
	if err := r.source.UpdateCalendarProvider(ctx, tenantID, provider); err != nil {
		return "", err
	}
	r.Invalidate(ctx, tenantID)
	r.logger.Info("tenant calendar provider updated", "tenant_id", tenantID, "provider", provider)
	return provider, nil
}

// Invalidate removes the cached tenant entry.
func (r *Resolver) Invalidate(ctx context.Context, tenantID uuid.UUID) {
	if r.redis == nil {
		return
	}
	if err := r.redis.Del(ctx, cacheKey(tenantID)).Err(); err != nil {
		r.logger.Warn("tenant cache invalidate failed", "tenant_id", tenantID, "error", err)
	}
}
