package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	orderredis "bar-orders/internal/order/redis"
)

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: host + ":" + port.Port()})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestOrderLock(t *testing.T) {
	client := startRedis(t)
	lock := orderredis.NewRedis(client, 30*time.Second)
	ctx := context.Background()

	locked, err := lock.AcquireOrderLock(ctx, 55, "token-a")
	require.NoError(t, err)
	assert.True(t, locked)

	// Second acquirer loses while the lock is held.
	locked, err = lock.AcquireOrderLock(ctx, 55, "token-b")
	require.NoError(t, err)
	assert.False(t, locked)

	// A different order is independent.
	locked, err = lock.AcquireOrderLock(ctx, 56, "token-c")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, lock.ReleaseOrderLock(ctx, 55, "token-a"))

	locked, err = lock.AcquireOrderLock(ctx, 55, "token-b")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestReleaseOrderLockOwnership(t *testing.T) {
	client := startRedis(t)
	lock := orderredis.NewRedis(client, 30*time.Second)
	ctx := context.Background()

	locked, err := lock.AcquireOrderLock(ctx, 55, "token-a")
	require.NoError(t, err)
	require.True(t, locked)

	// A non-owner release is a silent no-op; the lock stays held.
	require.NoError(t, lock.ReleaseOrderLock(ctx, 55, "token-b"))
	locked, err = lock.AcquireOrderLock(ctx, 55, "token-c")
	require.NoError(t, err)
	assert.False(t, locked)

	// Releasing an expired or absent lock does not error.
	require.NoError(t, lock.ReleaseOrderLock(ctx, 999, "token-x"))
}

func TestMarkTransactionSeen(t *testing.T) {
	client := startRedis(t)
	lock := orderredis.NewRedis(client, 30*time.Second)
	ctx := context.Background()

	fresh, err := lock.MarkTransactionSeen(ctx, "txn-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = lock.MarkTransactionSeen(ctx, "txn-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh, "duplicate delivery is reported as already seen")

	fresh, err = lock.MarkTransactionSeen(ctx, "txn-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
}
