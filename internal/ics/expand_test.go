package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expandWindow(start, end time.Time) ExpandConfig {
	return ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      start,
		RangeEnd:        end,
	}
}

func TestExpandSingleEventInRange(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := ParsedEvent{
		Source:  testSource,
		UID:     "single",
		Summary: "One-off",
		Start:   start,
		End:     start.Add(time.Hour),
	}

	res, err := Expand([]ParsedEvent{ev}, expandWindow(start.Add(-24*time.Hour), start.Add(24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Empty(t, res.TruncatedUIDs)

	got := res.Events[0]
	assert.Equal(t, "single", got.UID)
	assert.Equal(t, "test", got.SourceID)
	assert.True(t, got.Start.Equal(start))
	assert.NotEmpty(t, got.InstanceKey)
}

func TestExpandSingleEventOutsideRange(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := ParsedEvent{UID: "single", Start: start, End: start.Add(time.Hour)}

	res, err := Expand([]ParsedEvent{ev}, expandWindow(start.Add(48*time.Hour), start.Add(72*time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, res.Events)
}

func TestExpandDailyRecurrence(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := ParsedEvent{
		Source:   testSource,
		UID:      "daily",
		Summary:  "Standup",
		Start:    start,
		End:      start.Add(30 * time.Minute),
		RawRRule: "FREQ=DAILY;COUNT=10",
	}

	// Window covers the first 5 days only.
	res, err := Expand([]ParsedEvent{ev}, expandWindow(start, start.Add(5*24*time.Hour-time.Hour)))
	require.NoError(t, err)
	require.Len(t, res.Events, 5)

	for i, got := range res.Events {
		want := start.Add(time.Duration(i) * 24 * time.Hour)
		assert.True(t, got.Start.Equal(want), "occurrence %d", i)
		assert.Equal(t, 30*time.Minute, got.End.Sub(got.Start), "duration preserved")
	}
}

func TestExpandWeeklyWithExDate(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // a Monday
	ev := ParsedEvent{
		Source:   testSource,
		UID:      "weekly",
		Summary:  "Weekly Sync",
		Start:    start,
		End:      start.Add(time.Hour),
		RawRRule: "FREQ=WEEKLY;BYDAY=MO;COUNT=4",
		ExDates:  []time.Time{start.Add(7 * 24 * time.Hour)}, // skip week 2
	}

	res, err := Expand([]ParsedEvent{ev}, expandWindow(start, start.Add(40*24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, res.Events, 3, "EXDATE removes exactly one occurrence")

	for _, got := range res.Events {
		assert.False(t, got.Start.Equal(start.Add(7*24*time.Hour)), "excluded date must not appear")
	}
}

func TestExpandRecurrenceOverride(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	movedInstance := start.Add(7 * 24 * time.Hour)
	movedStart := movedInstance.Add(4 * time.Hour)

	base := ParsedEvent{
		Source:   testSource,
		UID:      "weekly",
		Summary:  "Weekly Sync",
		Start:    start,
		End:      start.Add(time.Hour),
		RawRRule: "FREQ=WEEKLY;BYDAY=MO;COUNT=3",
	}
	override := ParsedEvent{
		Source:     testSource,
		UID:        "weekly",
		Summary:    "Weekly Sync (moved)",
		Start:      movedStart,
		End:        movedStart.Add(time.Hour),
		Recurrence: &movedInstance,
		IsOverride: true,
	}

	res, err := Expand([]ParsedEvent{base, override}, expandWindow(start, start.Add(30*24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, res.Events, 3)

	var moved int
	for _, got := range res.Events {
		if got.Summary == "Weekly Sync (moved)" {
			moved++
			assert.True(t, got.Start.Equal(movedStart), "override supplies the new start")
		}
	}
	assert.Equal(t, 1, moved, "exactly one instance is overridden")
}

func TestExpandAllDayRecurrence(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ev := ParsedEvent{
		Source:   testSource,
		UID:      "chore",
		Summary:  "Trash Day",
		AllDay:   true,
		Start:    start,
		End:      start.Add(24 * time.Hour),
		RawRRule: "FREQ=WEEKLY;COUNT=2",
	}

	res, err := Expand([]ParsedEvent{ev}, expandWindow(start, start.Add(30*24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, res.Events, 2)

	for _, got := range res.Events {
		assert.True(t, got.AllDay)
		assert.Equal(t, 24*time.Hour, got.End.Sub(got.Start))
		assert.Zero(t, got.Start.Hour())
	}
}

func TestExpandOccurrenceCap(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := ParsedEvent{
		Source:   testSource,
		UID:      "runaway",
		Start:    start,
		End:      start.Add(time.Hour),
		RawRRule: "FREQ=DAILY",
	}

	cfg := expandWindow(start, start.Add(365*24*time.Hour))
	cfg.MaxOccurrencesPerEvent = 10

	res, err := Expand([]ParsedEvent{ev}, cfg)
	require.NoError(t, err)
	assert.Len(t, res.Events, 10)
	assert.Equal(t, []string{"runaway"}, res.TruncatedUIDs)
}

func TestExpandBadRRuleIsSkipped(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	bad := ParsedEvent{UID: "bad", Start: start, End: start.Add(time.Hour), RawRRule: "FREQ=NEVERLY"}
	good := ParsedEvent{UID: "good", Start: start, End: start.Add(time.Hour)}

	res, err := Expand([]ParsedEvent{bad, good}, expandWindow(start.Add(-time.Hour), start.Add(time.Hour)))
	require.NoError(t, err)
	require.Len(t, res.Events, 1, "an unparseable RRULE drops that event only")
	assert.Equal(t, "good", res.Events[0].UID)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	now := time.Now()
	_, err := Expand(nil, expandWindow(now, now.Add(-time.Hour)))
	require.Error(t, err)
}

func TestExpandInstanceKeysAreUnique(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := ParsedEvent{
		Source:   testSource,
		UID:      "daily",
		Start:    start,
		End:      start.Add(time.Hour),
		RawRRule: "FREQ=DAILY;COUNT=5",
	}

	res, err := Expand([]ParsedEvent{ev}, expandWindow(start, start.Add(10*24*time.Hour)))
	require.NoError(t, err)
	require.Len(t, res.Events, 5)

	seen := make(map[string]bool)
	for _, got := range res.Events {
		key := got.SourceID + "|" + got.UID + "|" + got.InstanceKey
		assert.False(t, seen[key], "instance key %s repeated", key)
		seen[key] = true
	}
}
