package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mondayRule(t *testing.T, locID uuid.UUID) ScheduleRule {
	t.Helper()
	return ScheduleRule{
		ID:              uuid.New(),
		LocationID:      locID,
		Weekday:         time.Monday,
		StartTime:       mustTimeOfDay(t, "09:00"),
		EndTime:         mustTimeOfDay(t, "10:00"),
		SlotDurationMin: 30,
		StrictCapacity:  1,
		Available:       true,
	}
}

func planSlots(plan ReconcilePlan) []time.Time {
	starts := make([]time.Time, 0, len(plan.Create))
	for _, s := range plan.Create {
		starts = append(starts, s.StartAt)
	}
	return starts
}

func TestBuildPlan(t *testing.T) {
	locID := uuid.New()
	// Monday through Tuesday.
	monday := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)

	t.Run("creates missing slots", func(t *testing.T) {
		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         tuesday,
			Rules:      []ScheduleRule{mondayRule(t, locID)},
		})

		require.Len(t, plan.Create, 2)
		assert.Empty(t, plan.Delete)
		assert.Equal(t, []time.Time{
			monday.Add(9 * time.Hour),
			monday.Add(9*time.Hour + 30*time.Minute),
		}, planSlots(plan))

		for _, s := range plan.Create {
			assert.Equal(t, locID, s.LocationID)
			assert.Equal(t, SlotAvailable, s.Status)
			assert.Zero(t, s.StrictCount)
			assert.Equal(t, 1, s.StrictCapacity)
		}
	})

	t.Run("idempotent when slots already match", func(t *testing.T) {
		rule := mondayRule(t, locID)
		existing := []Slot{
			{ID: uuid.New(), LocationID: locID, StartAt: monday.Add(9 * time.Hour), Status: SlotAvailable},
			{ID: uuid.New(), LocationID: locID, StartAt: monday.Add(9*time.Hour + 30*time.Minute), Status: SlotAvailable},
		}

		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         tuesday,
			Rules:      []ScheduleRule{rule},
			Existing:   existing,
		})

		assert.True(t, plan.Empty())
	})

	t.Run("deletes slots the schedule no longer implies", func(t *testing.T) {
		stale := Slot{ID: uuid.New(), LocationID: locID, StartAt: monday.Add(11 * time.Hour), Status: SlotAvailable}

		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         monday,
			Rules:      []ScheduleRule{mondayRule(t, locID)},
			Existing:   []Slot{stale},
		})

		assert.Equal(t, []uuid.UUID{stale.ID}, plan.Delete)
		assert.Len(t, plan.Create, 2)
	})

	t.Run("booked slots survive any schedule change", func(t *testing.T) {
		booked := Slot{ID: uuid.New(), LocationID: locID, StartAt: monday.Add(11 * time.Hour), Status: SlotBooked}

		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         monday,
			Rules:      nil, // schedule wiped entirely
			Existing:   []Slot{booked},
		})

		assert.Empty(t, plan.Delete)
		assert.Empty(t, plan.Create)
	})

	t.Run("emergency blocked slots are deleted when not implied", func(t *testing.T) {
		blocked := Slot{ID: uuid.New(), LocationID: locID, StartAt: monday.Add(11 * time.Hour), Status: SlotEmergencyBlock}

		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         monday,
			Existing:   []Slot{blocked},
		})

		assert.Equal(t, []uuid.UUID{blocked.ID}, plan.Delete)
	})

	t.Run("blackout suppresses the whole day", func(t *testing.T) {
		// Blackout covers one hour of Monday afternoon; the morning slots go too.
		blackout := BlackoutPeriod{
			LocationID: locID,
			StartAt:    monday.Add(14 * time.Hour),
			EndAt:      monday.Add(15 * time.Hour),
		}
		existing := []Slot{
			{ID: uuid.New(), LocationID: locID, StartAt: monday.Add(9 * time.Hour), Status: SlotAvailable},
		}

		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         monday,
			Rules:      []ScheduleRule{mondayRule(t, locID)},
			Blackouts:  []BlackoutPeriod{blackout},
			Existing:   existing,
		})

		assert.Len(t, plan.Delete, 1)
		assert.Empty(t, plan.Create)
	})

	t.Run("blackout on another day leaves the plan alone", func(t *testing.T) {
		blackout := BlackoutPeriod{
			LocationID: locID,
			StartAt:    tuesday.Add(9 * time.Hour),
			EndAt:      tuesday.Add(17 * time.Hour),
		}

		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         monday,
			Rules:      []ScheduleRule{mondayRule(t, locID)},
			Blackouts:  []BlackoutPeriod{blackout},
		})

		assert.Len(t, plan.Create, 2)
	})

	t.Run("removing a blackout recreates the day", func(t *testing.T) {
		// Same inputs as the blackout case but with the blackout gone: the
		// deleted slots come back.
		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         monday,
			Rules:      []ScheduleRule{mondayRule(t, locID)},
		})

		require.Len(t, plan.Create, 2)
		assert.Equal(t, monday.Add(9*time.Hour), plan.Create[0].StartAt)
	})

	t.Run("rule marked unavailable clears its day", func(t *testing.T) {
		rule := mondayRule(t, locID)
		rule.Available = false
		existing := []Slot{
			{ID: uuid.New(), LocationID: locID, StartAt: monday.Add(9 * time.Hour), Status: SlotAvailable},
		}

		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         monday,
			Rules:      []ScheduleRule{rule},
			Existing:   existing,
		})

		assert.Len(t, plan.Delete, 1)
		assert.Empty(t, plan.Create)
	})

	t.Run("capacity change recreates only missing starts", func(t *testing.T) {
		rule := mondayRule(t, locID)
		rule.StrictCapacity = 3
		existing := []Slot{
			{ID: uuid.New(), LocationID: locID, StartAt: monday.Add(9 * time.Hour), Status: SlotAvailable, StrictCapacity: 1},
		}

		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         monday,
			Rules:      []ScheduleRule{rule},
			Existing:   existing,
		})

		// The existing start is kept as-is; only the second window is created,
		// with the rule's current capacity.
		require.Len(t, plan.Create, 1)
		assert.Equal(t, monday.Add(9*time.Hour+30*time.Minute), plan.Create[0].StartAt)
		assert.Equal(t, 3, plan.Create[0].StrictCapacity)
		assert.Empty(t, plan.Delete)
	})

	t.Run("creates are ordered by start time", func(t *testing.T) {
		rules := []ScheduleRule{mondayRule(t, locID)}
		tuesdayRule := mondayRule(t, locID)
		tuesdayRule.Weekday = time.Tuesday
		rules = append(rules, tuesdayRule)

		plan := BuildPlan(ReconcileInput{
			LocationID: locID,
			TZ:         time.UTC,
			From:       monday,
			To:         tuesday,
			Rules:      rules,
		})

		require.Len(t, plan.Create, 4)
		for i := 1; i < len(plan.Create); i++ {
			assert.True(t, plan.Create[i-1].StartAt.Before(plan.Create[i].StartAt))
		}
	})
}

func TestDayBlackedOut(t *testing.T) {
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		startAt time.Time
		endAt   time.Time
		want    bool
	}{
		{"inside the day", day.Add(10 * time.Hour), day.Add(12 * time.Hour), true},
		{"spans the day", day.AddDate(0, 0, -1), day.AddDate(0, 0, 2), true},
		{"ends at midnight exclusive", day.Add(-2 * time.Hour), day, false},
		{"starts at next midnight", day.AddDate(0, 0, 1), day.AddDate(0, 0, 1).Add(time.Hour), false},
		{"overlaps the tail", day.Add(23 * time.Hour), day.Add(25 * time.Hour), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := dayBlackedOut(day, time.UTC, []BlackoutPeriod{{StartAt: tc.startAt, EndAt: tc.endAt}})
			assert.Equal(t, tc.want, got)
		})
	}
}
