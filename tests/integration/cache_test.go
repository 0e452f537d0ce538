package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/remediation-engine/internal/cache"
)

func TestRedisCache(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	setup := SetupContainers(t)
	defer setup.Cleanup()

	client, err := cache.NewRedisClient(cache.RedisConfig{
		Addr:   setup.RedisAddr,
		Prefix: "remedy-test:",
	})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "suggestion:alt-text:abc", []byte("add alt text"), time.Minute))

		got, err := client.Get(ctx, "suggestion:alt-text:abc")
		require.NoError(t, err)
		assert.Equal(t, []byte("add alt text"), got)
	})

	t.Run("Miss", func(t *testing.T) {
		_, err := client.Get(ctx, "suggestion:missing")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "short-lived", []byte("x"), 200*time.Millisecond))

		_, err := client.Get(ctx, "short-lived")
		require.NoError(t, err)

		time.Sleep(400 * time.Millisecond)
		_, err = client.Get(ctx, "short-lived")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "doomed", []byte("x"), time.Minute))
		require.NoError(t, client.Delete(ctx, "doomed"))

		_, err := client.Get(ctx, "doomed")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})
}
