package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	sessionCachePrefix = "session:active:"
	defaultSessionTTL  = 24 * time.Hour
)

// SessionCache keeps each user's active session in Redis so a restarted
// process can resume without hitting the store
type SessionCache struct {
	client *Client
	ttl    time.Duration
}

// NewSessionCache creates a new session cache
func NewSessionCache(client *Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionCache{client: client, ttl: ttl}
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("%s%d", sessionCachePrefix, userID)
}

// Get retrieves the cached session of a user. A miss returns nil, nil.
func (c *SessionCache) Get(ctx context.Context, userID int64) (*domain.Session, error) {
	data, err := c.client.rdb.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached session: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// Set caches a session, refreshing its TTL
func (c *SessionCache) Set(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return c.client.rdb.Set(ctx, sessionKey(s.UserID), data, c.ttl).Err()
}

// Invalidate removes the cached session of a user
func (c *SessionCache) Invalidate(ctx context.Context, userID int64) error {
	return c.client.rdb.Del(ctx, sessionKey(userID)).Err()
}

// FlushAll removes all cached sessions
func (c *SessionCache) FlushAll(ctx context.Context) (int64, error) {
	pattern := sessionCachePrefix + "*"
	var cursor uint64
	var deleted int64

	for {
		keys, nextCursor, err := c.client.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			count, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += count
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}
