package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupTTL = 36 * time.Hour

// NotificationLedger records which lifecycle notifications have been claimed.
// Key format: notify:<discord_id>:<lifecycle_kind>:<token>
type NotificationLedger struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewNotificationLedger creates a ledger whose claims expire after ttl.
// If ttl <= 0, defaultDedupTTL is used.
func NewNotificationLedger(client redis.Cmdable, ttl time.Duration) *NotificationLedger {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &NotificationLedger{client: client, ttl: ttl}
}

// Claim atomically reserves key. It reports false when another sender
// already holds the claim.
func (l *NotificationLedger) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(key), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("notification claim: %w", err)
	}
	return ok, nil
}

// Release drops a claim so a failed delivery can be retried.
func (l *NotificationLedger) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("notification release: %w", err)
	}
	return nil
}

func (l *NotificationLedger) key(k string) string {
	return "notify:" + k
}
