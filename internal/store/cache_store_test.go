package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	server := miniredis.RunT(t)
	store := NewRedisStore(server.Addr(), testLogger())
	t.Cleanup(func() { store.Close() })
	return server, store
}

func TestRedisStoreSetGet(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	assert.True(t, store.Set(ctx, "product:p1", `{"name":"widget"}`))
	assert.Equal(t, `{"name":"widget"}`, store.Get(ctx, "product:p1"))
}

func TestRedisStoreGetMissing(t *testing.T) {
	_, store := newTestRedisStore(t)

	assert.Equal(t, "", store.Get(context.Background(), "product:absent"))
}

func TestRedisStoreDel(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	assert.True(t, store.Set(ctx, "product:p1", "v"))
	assert.True(t, store.Del(ctx, "product:p1"))
	assert.Equal(t, "", store.Get(ctx, "product:p1"))

	// Deleting an absent key still succeeds.
	assert.True(t, store.Del(ctx, "product:p1"))
}

func TestRedisStoreUnreachable(t *testing.T) {
	server, store := newTestRedisStore(t)
	ctx := context.Background()

	require.True(t, store.Set(ctx, "product:p1", "v"))
	server.Close()

	// A dead cache degrades: writes report failure, reads miss.
	assert.False(t, store.Set(ctx, "product:p2", "v"))
	assert.False(t, store.Del(ctx, "product:p1"))
	assert.Equal(t, "", store.Get(ctx, "product:p1"))
	assert.Error(t, store.Ping(ctx))
}
