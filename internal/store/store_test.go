package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := BlockRecord{
		Address:          "203.0.113.5",
		BlockedAt:        now,
		DurationSeconds:  3600,
		ScheduledUnblock: now.Add(time.Hour),
	}
	require.NoError(t, s.UpsertBlock(ctx, rec))

	got, err := s.GetBlock(ctx, "203.0.113.5")
	require.NoError(t, err)
	require.Equal(t, rec.Address, got.Address)
	require.Equal(t, rec.DurationSeconds, got.DurationSeconds)
	require.True(t, rec.BlockedAt.Equal(got.BlockedAt))
	require.True(t, rec.ScheduledUnblock.Equal(got.ScheduledUnblock))
}

func TestUpsertBlockReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertBlock(ctx, BlockRecord{Address: "1.2.3.4", BlockedAt: now, DurationSeconds: 60, ScheduledUnblock: now.Add(time.Minute)}))
	require.NoError(t, s.UpsertBlock(ctx, BlockRecord{Address: "1.2.3.4", BlockedAt: now, DurationSeconds: 120, ScheduledUnblock: now.Add(2 * time.Minute)}))

	got, err := s.GetBlock(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 120, got.DurationSeconds)

	all, err := s.ListBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGetBlockNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBlock(context.Background(), "9.9.9.9")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertBlock(ctx, BlockRecord{Address: "1.2.3.4", BlockedAt: now, DurationSeconds: 60, ScheduledUnblock: now.Add(time.Minute)}))
	require.NoError(t, s.DeleteBlock(ctx, "1.2.3.4"))

	_, err := s.GetBlock(ctx, "1.2.3.4")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveAllExpiredReturnsOnlyExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertBlock(ctx, BlockRecord{Address: "expired.1", BlockedAt: now.Add(-time.Hour), DurationSeconds: 60, ScheduledUnblock: now.Add(-time.Minute)}))
	require.NoError(t, s.UpsertBlock(ctx, BlockRecord{Address: "expired.2", BlockedAt: now.Add(-time.Hour), DurationSeconds: 60, ScheduledUnblock: now}))
	require.NoError(t, s.UpsertBlock(ctx, BlockRecord{Address: "active", BlockedAt: now, DurationSeconds: 3600, ScheduledUnblock: now.Add(time.Hour)}))

	expired, err := s.RemoveAllExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)

	remaining, err := s.ListBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "active", remaining[0].Address)
}

func TestHistoryTagsComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addrID := "11111111-1111-1111-1111-111111111111"
	now := time.Now().UTC()

	require.NoError(t, s.InsertHistory(ctx, addrID, now, "connection attempt"))
	require.NoError(t, s.InsertHistory(ctx, addrID, now.Add(time.Second), "login failed"))

	history, err := s.ListHistory(ctx, addrID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "connection attempt", history[0].Message)

	require.NoError(t, s.InsertTag(ctx, addrID, "suspicious"))
	require.NoError(t, s.InsertTag(ctx, addrID, "suspicious"))

	tags, err := s.ListTags(ctx, addrID)
	require.NoError(t, err)
	require.Equal(t, []string{"suspicious"}, tags)

	require.NoError(t, s.DeleteTag(ctx, addrID, "suspicious"))
	tags, err = s.ListTags(ctx, addrID)
	require.NoError(t, err)
	require.Empty(t, tags)

	require.NoError(t, s.InsertComment(ctx, addrID, now, "flagged by ops"))
	comments, err := s.ListComments(ctx, addrID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.Equal(t, "flagged by ops", comments[0].Comment)
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertBlock(ctx, BlockRecord{Address: "1.2.3.4", BlockedAt: now, DurationSeconds: 60, ScheduledUnblock: now.Add(time.Minute)}))
	require.NoError(t, s.InsertHistory(ctx, "addr-1", now, "login failed"))
	require.NoError(t, s.InsertHistory(ctx, "addr-1", now.Add(time.Second), "ok"))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.RecentFails)
	require.False(t, stats.LastSeen.IsZero())
}
