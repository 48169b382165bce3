package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/study-hub/internal/config"
	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/txn"
)

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// notificationBackend is the store the counter sits in front of
type notificationBackend interface {
	Save(ctx context.Context, notification *models.Notification) error
	CountUnread(ctx context.Context, accountID string) (int, error)
	ListByAccount(ctx context.Context, accountID string, checked bool) ([]*models.Notification, error)
	MarkRead(ctx context.Context, accountID string, ids []string) (int, error)
}

// UnreadCounter caches the per-account unread notification count in Redis.
// Writes drop the cached value once their unit of work commits. Redis
// failures degrade to reading the backing store.
type UnreadCounter struct {
	next  notificationBackend
	cache *RedisCache
	ttl   time.Duration
}

// NewUnreadCounter wraps next with a count cache
func NewUnreadCounter(next notificationBackend, cache *RedisCache, ttl time.Duration) *UnreadCounter {
	return &UnreadCounter{next: next, cache: cache, ttl: ttl}
}

func unreadKey(accountID string) string {
	return "notifications:unread:" + accountID
}

// CountUnread returns the cached count or loads and caches it
func (c *UnreadCounter) CountUnread(ctx context.Context, accountID string) (int, error) {
	key := unreadKey(accountID)
	cached, err := c.cache.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if n, convErr := strconv.Atoi(cached); convErr == nil {
			return n, nil
		}
	case !errors.Is(err, redis.Nil):
		logging.FromContext(ctx).WithField("key", key).WithError(err).Warn("Unread count cache read failed")
	}

	n, err := c.next.CountUnread(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if err := c.cache.client.Set(ctx, key, n, c.ttl).Err(); err != nil {
		logging.FromContext(ctx).WithField("key", key).WithError(err).Warn("Unread count cache write failed")
	}
	return n, nil
}

// Save stores the notification and invalidates the recipient's count
func (c *UnreadCounter) Save(ctx context.Context, notification *models.Notification) error {
	if err := c.next.Save(ctx, notification); err != nil {
		return err
	}
	c.invalidate(ctx, notification.AccountID)
	return nil
}

// ListByAccount is not cached
func (c *UnreadCounter) ListByAccount(ctx context.Context, accountID string, checked bool) ([]*models.Notification, error) {
	return c.next.ListByAccount(ctx, accountID, checked)
}

// MarkRead checks notifications and invalidates the count when any changed
func (c *UnreadCounter) MarkRead(ctx context.Context, accountID string, ids []string) (int, error) {
	n, err := c.next.MarkRead(ctx, accountID, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidate(ctx, accountID)
	}
	return n, nil
}

func (c *UnreadCounter) invalidate(ctx context.Context, accountID string) {
	key := unreadKey(accountID)
	txn.AfterCommit(ctx, func(ctx context.Context) {
		if err := c.cache.client.Del(ctx, key).Err(); err != nil {
			logging.FromContext(ctx).WithField("key", key).WithError(err).Warn("Unread count cache invalidation failed")
		}
	})
}
