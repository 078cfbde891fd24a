package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTimeOfDay(t *testing.T, s string) TimeOfDay {
	t.Helper()
	tod, err := ParseTimeOfDay(s)
	require.NoError(t, err)
	return tod
}

func testRule(t *testing.T, start, end string, durationMin int) ScheduleRule {
	t.Helper()
	return ScheduleRule{
		StartTime:       mustTimeOfDay(t, start),
		EndTime:         mustTimeOfDay(t, end),
		SlotDurationMin: durationMin,
		StrictCapacity:  1,
		Available:       true,
	}
}

func TestMaterializeDay(t *testing.T) {
	// A Monday.
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

	t.Run("fits whole slots only", func(t *testing.T) {
		// 45 minutes at 15-minute duration: three slots, no partial fourth.
		rule := testRule(t, "09:00", "09:45", 15)

		windows := MaterializeDay(rule, day, time.UTC)

		require.Len(t, windows, 3)
		assert.Equal(t, time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC), windows[0].Start)
		assert.Equal(t, time.Date(2026, time.March, 2, 9, 15, 0, 0, time.UTC), windows[1].Start)
		assert.Equal(t, time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC), windows[2].Start)
		assert.Equal(t, time.Date(2026, time.March, 2, 9, 45, 0, 0, time.UTC), windows[2].End)
	})

	t.Run("drops trailing partial slot", func(t *testing.T) {
		// 50 minutes at 15-minute duration: still three slots.
		rule := testRule(t, "09:00", "09:50", 15)

		windows := MaterializeDay(rule, day, time.UTC)

		require.Len(t, windows, 3)
		assert.Equal(t, time.Date(2026, time.March, 2, 9, 45, 0, 0, time.UTC), windows[2].End)
	})

	t.Run("substitutes default duration", func(t *testing.T) {
		rule := testRule(t, "09:00", "10:00", 0)

		windows := MaterializeDay(rule, day, time.UTC)

		require.Len(t, windows, 4)
		assert.Equal(t, 15*time.Minute, windows[0].End.Sub(windows[0].Start))
	})

	t.Run("negative duration also degrades to default", func(t *testing.T) {
		rule := testRule(t, "09:00", "09:30", -5)

		windows := MaterializeDay(rule, day, time.UTC)

		require.Len(t, windows, 2)
	})

	t.Run("unavailable rule yields nothing", func(t *testing.T) {
		rule := testRule(t, "09:00", "17:00", 15)
		rule.Available = false

		assert.Empty(t, MaterializeDay(rule, day, time.UTC))
	})

	t.Run("window shorter than one slot yields nothing", func(t *testing.T) {
		rule := testRule(t, "09:00", "09:10", 15)

		assert.Empty(t, MaterializeDay(rule, day, time.UTC))
	})

	t.Run("max slots per day caps the output", func(t *testing.T) {
		rule := testRule(t, "09:00", "17:00", 15)
		max := 5
		rule.MaxSlotsPerDay = &max

		windows := MaterializeDay(rule, day, time.UTC)

		require.Len(t, windows, 5)
		assert.Equal(t, time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC), windows[4].Start)
	})

	t.Run("wall clock interpreted in location timezone", func(t *testing.T) {
		tz, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		rule := testRule(t, "09:00", "10:00", 30)

		windows := MaterializeDay(rule, day, tz)

		require.Len(t, windows, 2)
		// 09:00 EST is 14:00 UTC, and the output is UTC.
		assert.Equal(t, time.Date(2026, time.March, 2, 14, 0, 0, 0, time.UTC), windows[0].Start)
		assert.Equal(t, time.UTC, windows[0].Start.Location())
	})

	t.Run("deterministic", func(t *testing.T) {
		rule := testRule(t, "08:00", "12:00", 20)

		first := MaterializeDay(rule, day, time.UTC)
		second := MaterializeDay(rule, day, time.UTC)

		assert.Equal(t, first, second)
	})
}
