package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestReserveCommitRelease(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	created, err := c.SeedInventory(ctx, "classic", "A", 5000)
	require.NoError(t, err)
	assert.True(t, created)

	ok, err := c.ReserveStock(ctx, "classic", "A", 2000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ReserveStock(ctx, "classic", "A", 3500)
	require.NoError(t, err)
	assert.False(t, ok, "only 3000 left")

	available, reserved, err := c.GetInventory(ctx, "classic", "A")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), available)
	assert.Equal(t, int64(2000), reserved)

	require.NoError(t, c.CommitStock(ctx, "classic", "A", 1500))
	require.NoError(t, c.ReleaseStock(ctx, "classic", "A", 1000))

	available, reserved, err = c.GetInventory(ctx, "classic", "A")
	require.NoError(t, err)
	assert.Equal(t, int64(3500), available, "release is capped at what is still reserved")
	assert.Equal(t, int64(0), reserved)
}

func TestReserveUnmanagedProduct(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.ReserveStock(ctx, "salam", "ghost", 1000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("inventory:salam:ghost"))
}

func TestSeedInventoryNeverOverwrites(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.SeedInventory(ctx, "salam", "B", 1000)
	require.NoError(t, err)
	_, err = c.ReserveStock(ctx, "salam", "B", 400)
	require.NoError(t, err)

	created, err := c.SeedInventory(ctx, "salam", "B", 9000)
	require.NoError(t, err)
	assert.False(t, created)

	available, reserved, err := c.GetInventory(ctx, "salam", "B")
	require.NoError(t, err)
	assert.Equal(t, int64(600), available)
	assert.Equal(t, int64(400), reserved)
}

func TestAllowSlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 10; i++ {
		ok, err := c.Allow(ctx, "rl:payment:1.2.3.4", 10, time.Minute, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i+1)
	}

	ok, err := c.Allow(ctx, "rl:payment:1.2.3.4", 10, time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Allow(ctx, "rl:payment:5.6.7.8", 10, time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "other clients have their own window")

	// The first hit slides out after a minute.
	ok, err = c.Allow(ctx, "rl:payment:1.2.3.4", 10, time.Minute, now.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordInWindow(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 1; i <= 3; i++ {
		n, err := c.RecordInWindow(ctx, "lf:alice", 15*time.Minute, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	n, err := c.RecordInWindow(ctx, "lf:alice", 15*time.Minute, now.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLockAndMarkOnce(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "stale-draft-sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "stale-draft-sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute)
	ok, err = c.AcquireLock(ctx, "stale-draft-sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	first, err := c.MarkOnce(ctx, "alert:login:alice", time.Minute)
	require.NoError(t, err)
	second, err := c.MarkOnce(ctx, "alert:login:alice", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}
