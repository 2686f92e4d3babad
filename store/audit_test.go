package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/types"
)

func newTestStore(t *testing.T) *AuditStore {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = ":memory:"
	s, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := types.OTPRequest{Identifier: "user@example.com", Channel: types.ChannelEmail}
	result := &types.OTPResult{
		SessionID: "sess-1",
		Channel:   types.ChannelEmail,
		Duration:  1200 * time.Millisecond,
		Timings: []types.StepTiming{
			{Step: "navigate", Duration: 800 * time.Millisecond, Attempts: 1},
		},
	}
	require.NoError(t, s.RecordSuccess(ctx, req, result))

	attempts, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	got := attempts[0]
	assert.Equal(t, OutcomeSucceeded, got.Outcome)
	assert.Equal(t, "email", got.Channel)
	assert.EqualValues(t, 1200, got.DurationMS)
	assert.Contains(t, got.Timings, "navigate")
	assert.Empty(t, got.ErrorCode)
}

func TestRecordFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := types.OTPRequest{Identifier: "080-1234-5678", Channel: types.ChannelPhone}
	cause := types.NewError(types.ErrSelectorNotFound, "selector not visible").WithStep("login")
	require.NoError(t, s.RecordFailure(ctx, req, 3*time.Second, cause))

	attempts, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	got := attempts[0]
	assert.Equal(t, OutcomeFailed, got.Outcome)
	assert.Equal(t, string(types.ErrSelectorNotFound), got.ErrorCode)
	assert.Equal(t, "login", got.FailedStep)
	assert.EqualValues(t, 3000, got.DurationMS)
}

func TestIdentifierNeverStoredInClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const identifier = "secret-user@example.com"
	req := types.OTPRequest{Identifier: identifier, Channel: types.ChannelEmail}
	require.NoError(t, s.RecordFailure(ctx, req, time.Second, types.NewError(types.ErrTimeout, "timed out")))

	attempts, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	assert.NotContains(t, attempts[0].IdentifierHash, "@")
	assert.False(t, strings.Contains(attempts[0].IdentifierHash, identifier))
	assert.Len(t, attempts[0].IdentifierHash, 32)
	assert.Equal(t, HashIdentifier(identifier), attempts[0].IdentifierHash)
}

func TestRecentOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req := types.OTPRequest{Identifier: "u@example.com", Channel: types.ChannelEmail}
		require.NoError(t, s.RecordFailure(ctx, req, time.Duration(i)*time.Second, types.NewError(types.ErrTimeout, "t")))
		time.Sleep(2 * time.Millisecond)
	}

	attempts, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	// 最新记录在前
	assert.EqualValues(t, 4000, attempts[0].DurationMS)

	attempts, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, attempts, 5)
}

func TestRecentClampsOversizedLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := types.OTPRequest{Identifier: "u@example.com", Channel: types.ChannelEmail}
	for i := 0; i < 60; i++ {
		require.NoError(t, s.RecordSuccess(ctx, req, &types.OTPResult{
			SessionID: "s",
			Channel:   types.ChannelEmail,
			Duration:  time.Second,
		}))
	}

	// 超过上限的 limit 收敛到上限（500）而不是重置为默认值（50）
	attempts, err := s.Recent(ctx, 10000)
	require.NoError(t, err)
	assert.Len(t, attempts, 60)
}

func TestPrune(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = ":memory:"
	cfg.Retention = time.Hour
	s, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	old := Attempt{
		IdentifierHash: HashIdentifier("old@example.com"),
		Channel:        "email",
		Outcome:        OutcomeFailed,
		CreatedAt:      time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, s.db.Create(&old).Error)
	require.NoError(t, s.RecordSuccess(ctx, types.OTPRequest{Identifier: "new@example.com", Channel: types.ChannelEmail}, &types.OTPResult{SessionID: "s"}))

	deleted, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	remaining, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *AuditStore
	ctx := context.Background()

	assert.NoError(t, s.RecordSuccess(ctx, types.OTPRequest{}, &types.OTPResult{}))
	assert.NoError(t, s.RecordFailure(ctx, types.OTPRequest{}, 0, types.NewError(types.ErrTimeout, "t")))
	attempts, err := s.Recent(ctx, 10)
	assert.NoError(t, err)
	assert.Nil(t, attempts)
	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close())
}
