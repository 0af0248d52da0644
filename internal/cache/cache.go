// Package cache implements a read-through Redis cache for class-by-id and
// class-by-scope lookups, ambient infrastructure gated by CACHE_ENABLED and
// never a business-logic dependency: every caller can run with it disabled.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/models"
	redisclient "github.com/foxford/dispatchd/pkg/redis"
)

// ClassLoader is satisfied by internal/store.Store's read paths.
type ClassLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Class, error)
	FindByScope(ctx context.Context, audience, scope string) (*models.Class, error)
}

// Cache wraps a ClassLoader with an optional Redis read-through layer.
type Cache struct {
	next   ClassLoader
	redis  *redisclient.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New builds a Cache. Pass a nil redis client to run uncached (CACHE_ENABLED=0).
func New(next ClassLoader, redis *redisclient.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{next: next, redis: redis, ttl: ttl, logger: logger}
}

// FindByID is a read-through cache in front of ClassLoader.FindByID.
func (c *Cache) FindByID(ctx context.Context, id uuid.UUID) (*models.Class, error) {
	if c.redis == nil {
		return c.next.FindByID(ctx, id)
	}
	key := "class:id:" + id.String()
	if cls, ok := c.get(ctx, key); ok {
		return cls, nil
	}
	cls, err := c.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, cls)
	return cls, nil
}

// FindByScope is a read-through cache in front of ClassLoader.FindByScope.
func (c *Cache) FindByScope(ctx context.Context, audience, scope string) (*models.Class, error) {
	if c.redis == nil {
		return c.next.FindByScope(ctx, audience, scope)
	}
	key := "class:scope:" + audience + ":" + scope
	if cls, ok := c.get(ctx, key); ok {
		return cls, nil
	}
	cls, err := c.next.FindByScope(ctx, audience, scope)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, cls)
	return cls, nil
}

// Invalidate drops cached entries for a class after it is mutated.
func (c *Cache) Invalidate(ctx context.Context, cls *models.Class) {
	if c.redis == nil || cls == nil {
		return
	}
	c.redis.Del(ctx, "class:id:"+cls.ID.String(), "class:scope:"+cls.Audience+":"+cls.Scope)
}

func (c *Cache) get(ctx context.Context, key string) (*models.Class, bool) {
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var cls models.Class
	if err := json.Unmarshal(val, &cls); err != nil {
		c.logger.Warn("cache entry unmarshal failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &cls, true
}

func (c *Cache) set(ctx context.Context, key string, cls *models.Class) {
	buf, err := json.Marshal(cls)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, buf, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
