package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
)

func TestScopedKey(t *testing.T) {
	assert.Equal(t, "idem:alice:k1", scopedKey("alice", "k1"))
}

func TestIdempotencyStoreIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, Config{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	store := NewIdempotencyStore(client, time.Minute)
	key := uuid.NewString()

	rec, reserved, err := store.Begin(ctx, "alice", key)
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Nil(t, rec)

	rec, reserved, err = store.Begin(ctx, "alice", key)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.True(t, rec.Pending)

	// 不同使用者的相同 key 互不影響
	_, reserved, err = store.Begin(ctx, "bob1", key)
	require.NoError(t, err)
	assert.True(t, reserved)
	require.NoError(t, store.Abort(ctx, "bob1", key))

	want := &domain.IdempotencyRecord{Status: 200, Body: []byte(`{"ok":true}`)}
	require.NoError(t, store.Complete(ctx, "alice", key, want))
	rec, reserved, err = store.Begin(ctx, "alice", key)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, want, rec)

	require.NoError(t, store.Abort(ctx, "alice", key))
	_, reserved, err = store.Begin(ctx, "alice", key)
	require.NoError(t, err)
	assert.True(t, reserved)
	require.NoError(t, store.Abort(ctx, "alice", key))
}
