package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/types"
)

func newTestLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Addr = mr.Addr()
	cfg.Cooldown = time.Minute

	l, err := NewLedger(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func TestReserveFirstRequest(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.Reserve(context.Background(), "user@example.com", types.ChannelEmail)
	require.NoError(t, err)
}

func TestReserveDuplicateRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "user@example.com", types.ChannelEmail))

	err := l.Reserve(ctx, "user@example.com", types.ChannelEmail)
	require.Error(t, err)
	assert.Equal(t, types.ErrDuplicateRequest, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestReserveDifferentChannelsIndependent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "08012345678", types.ChannelPhone))
	require.NoError(t, l.Reserve(ctx, "08012345678", types.ChannelEmail))
}

func TestReserveAfterCooldown(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "user@example.com", types.ChannelEmail))

	mr.FastForward(2 * time.Minute)

	require.NoError(t, l.Reserve(ctx, "user@example.com", types.ChannelEmail))
}

func TestReleaseClearsCooldown(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "user@example.com", types.ChannelEmail))
	require.NoError(t, l.Release(ctx, "user@example.com", types.ChannelEmail))
	require.NoError(t, l.Reserve(ctx, "user@example.com", types.ChannelEmail))
}

func TestNilLedgerPassthrough(t *testing.T) {
	var l *Ledger
	ctx := context.Background()

	assert.NoError(t, l.Reserve(ctx, "user@example.com", types.ChannelEmail))
	assert.NoError(t, l.Release(ctx, "user@example.com", types.ChannelEmail))
	assert.NoError(t, l.Ping(ctx))
	assert.NoError(t, l.Close())
}

func TestClosedLedgerRejects(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Close())

	err := l.Reserve(context.Background(), "user@example.com", types.ChannelEmail)
	require.Error(t, err)
}

func TestLedgerKeyHashesIdentifier(t *testing.T) {
	key := ledgerKey("user@example.com", types.ChannelEmail)
	assert.False(t, strings.Contains(key, "user@example.com"),
		"identifier must not appear in clear text in redis keys")
	assert.Contains(t, key, "otpflow:ledger:email:")

	// Same input, same key; different input, different key.
	assert.Equal(t, key, ledgerKey("user@example.com", types.ChannelEmail))
	assert.NotEqual(t, key, ledgerKey("other@example.com", types.ChannelEmail))
}
