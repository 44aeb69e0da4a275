package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis serializes payment processing per order across server instances:
// a user-initiated confirm call and an asynchronous webhook racing on the
// same order take the same lock. It also keeps TTL-keyed markers for seen
// webhook transactions. All state lives in redis, never in process memory,
// so it survives restarts and is shared between replicas.
type Redis struct {
	Client  *redis.Client
	LockTTL time.Duration
}

func NewRedis(client *redis.Client, lockTTL time.Duration) *Redis {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Redis{Client: client, LockTTL: lockTTL}
}

func orderLockKey(orderID int64) string {
	return fmt.Sprintf("order_lock:%d", orderID)
}

// AcquireOrderLock takes the per-order lock. The token identifies the owner
// so an expired lock reclaimed by another request cannot be released by the
// original holder.
func (r *Redis) AcquireOrderLock(ctx context.Context, orderID int64, token string) (bool, error) {
	return r.Client.SetNX(ctx, orderLockKey(orderID), token, r.LockTTL).Result()
}

// ReleaseOrderLock releases the lock only if still held by token.
func (r *Redis) ReleaseOrderLock(ctx context.Context, orderID int64, token string) error {
	key := orderLockKey(orderID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already expired
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err = r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// MarkTransactionSeen records a gateway transaction id with a TTL and
// reports whether it was new. The order's status remains the source of
// truth for idempotency; this marker just lets the webhook path skip work
// on rapid duplicate deliveries.
func (r *Redis) MarkTransactionSeen(ctx context.Context, transactionID string, ttl time.Duration) (bool, error) {
	key := "webhook_txn:" + transactionID
	return r.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}
