package tools

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

func exerciseDedupe(t *testing.T, d Dedupe) {
	t.Helper()
	ctx := context.Background()
	id := protocol.ToolCallID(ksuid.New().String())

	c, err := d.Claim(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ClaimNew, c.State)

	c, err = d.Claim(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ClaimInFlight, c.State)

	require.NoError(t, d.Complete(ctx, id, "Step 2 marked complete"))

	c, err = d.Claim(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ClaimDone, c.State)
	assert.Equal(t, "Step 2 marked complete", c.Result)

	require.NoError(t, d.Release(ctx, id))
	c, err = d.Claim(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ClaimNew, c.State)
	require.NoError(t, d.Release(ctx, id))
}

func TestMemoryDedupe(t *testing.T) {
	exerciseDedupe(t, NewMemoryDedupe(time.Minute))
}

func TestMemoryDedupeExpiry(t *testing.T) {
	d := NewMemoryDedupe(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := d.Claim(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, d.Len())

	c, err := d.Claim(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ClaimNew, c.State)
}

func TestRedisDedupe(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	exerciseDedupe(t, NewRedisDedupe(client, "tradeschool:test:", time.Minute))
}
