package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkcal/internal/model"
)

func newTestStore(t *testing.T, fetchTTL, displayTTL time.Duration) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "events.db"), fetchTTL, displayTTL, time.UTC)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEvents(base time.Time) []model.Event {
	return []model.Event{
		{
			SourceID:    "main",
			UID:         "standup",
			InstanceKey: base.Format(time.RFC3339Nano),
			Summary:     "Standup",
			Start:       base,
			End:         base.Add(30 * time.Minute),
		},
		{
			SourceID:    "main",
			UID:         "review",
			InstanceKey: base.Add(2 * time.Hour).Format(time.RFC3339Nano),
			Summary:     "Review",
			Location:    "Room 2",
			Start:       base.Add(2 * time.Hour),
			End:         base.Add(3 * time.Hour),
		},
		{
			SourceID:    "main",
			UID:         "offsite",
			InstanceKey: "day",
			Summary:     "Offsite",
			AllDay:      true,
			Start:       base.Truncate(24 * time.Hour).Add(48 * time.Hour),
			End:         base.Truncate(24 * time.Hour).Add(72 * time.Hour),
		},
	}
}

func TestStoreEmptyIsNeverFresh(t *testing.T) {
	s := newTestStore(t, time.Hour, 2*time.Hour)

	assert.False(t, s.IsFresh())
	assert.True(t, s.LastUpdate().IsZero())

	st := s.Status()
	assert.True(t, st.IsStale)
	assert.True(t, st.LastUpdate.IsZero())
}

func TestStoreReplaceEvents(t *testing.T) {
	s := newTestStore(t, time.Hour, 2*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceEvents(ctx, sampleEvents(base)))

	assert.True(t, s.IsFresh())
	assert.False(t, s.LastUpdate().IsZero())
	assert.False(t, s.Status().IsStale)

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalEvents)
	assert.True(t, sum.IsFresh)
}

func TestStoreReplaceIsFullSwap(t *testing.T) {
	s := newTestStore(t, time.Hour, 2*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceEvents(ctx, sampleEvents(base)))
	require.NoError(t, s.ReplaceEvents(ctx, sampleEvents(base)[:1]))

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalEvents, "replace must drop events absent from the new set")
}

func TestStoreFreshAndStaleAreIndependent(t *testing.T) {
	// fetch window already expired, display window effectively unbounded:
	// the daemon should re-fetch but keep showing cached data without the
	// stale banner.
	s := newTestStore(t, 1*time.Nanosecond, 24*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.ReplaceEvents(ctx, sampleEvents(base)))
	time.Sleep(2 * time.Millisecond)

	assert.False(t, s.IsFresh(), "fetch TTL expired")
	assert.False(t, s.Status().IsStale, "display TTL has not")
}

func TestStoreEventsInRange(t *testing.T) {
	s := newTestStore(t, time.Hour, 2*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.ReplaceEvents(ctx, sampleEvents(base)))

	got, err := s.EventsInRange(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Standup", got[0].Summary)
	assert.True(t, got[0].Start.Equal(base))

	// An event overlapping the range boundary is included.
	got, err = s.EventsInRange(ctx, base.Add(15*time.Minute), base.Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Standup", got[0].Summary)

	got, err = s.EventsInRange(ctx, base.Add(-48*time.Hour), base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreTodaysEvents(t *testing.T) {
	s := newTestStore(t, time.Hour, 2*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.ReplaceEvents(ctx, sampleEvents(base)))

	got, err := s.TodaysEvents(ctx, base.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Standup", got[0].Summary, "ordered by start time")
	assert.Equal(t, "Review", got[1].Summary)
}

func TestStoreRoundTripsEventFields(t *testing.T) {
	s := newTestStore(t, time.Hour, 2*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.ReplaceEvents(ctx, sampleEvents(base)))

	got, err := s.EventsInRange(ctx, base, base.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)

	review := got[1]
	assert.Equal(t, "main", review.SourceID)
	assert.Equal(t, "review", review.UID)
	assert.Equal(t, "Room 2", review.Location)
	assert.False(t, review.AllDay)
	assert.True(t, review.End.Equal(base.Add(3*time.Hour)))
}

func TestStoreClearAll(t *testing.T) {
	s := newTestStore(t, time.Hour, 2*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.ReplaceEvents(ctx, sampleEvents(base)))

	n, err := s.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.False(t, s.IsFresh())
	assert.True(t, s.LastUpdate().IsZero())

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.TotalEvents)
}

func TestStoreUsageBeforeInitialize(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "events.db"), time.Hour, time.Hour, time.UTC)

	assert.False(t, s.IsFresh())
	require.Error(t, s.ReplaceEvents(context.Background(), nil))
	_, err := s.EventsInRange(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
}

func TestStoreCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t, time.Hour, time.Hour)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
