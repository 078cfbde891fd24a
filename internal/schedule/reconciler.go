package schedule

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ReconcileInput is everything a plan needs: current rules and blackouts plus
// the persisted slots for the range. Injected per call so planning stays a
// function of its inputs.
type ReconcileInput struct {
	LocationID uuid.UUID
	TZ         *time.Location
	From       time.Time // first calendar day, inclusive
	To         time.Time // last calendar day, inclusive
	Rules      []ScheduleRule
	Blackouts  []BlackoutPeriod
	Existing   []Slot
}

// ReconcilePlan is the minimal set of changes that brings the persisted slots
// into agreement with the schedule.
type ReconcilePlan struct {
	Create []Slot
	Delete []uuid.UUID
}

func (p ReconcilePlan) Empty() bool {
	return len(p.Create) == 0 && len(p.Delete) == 0
}

// BuildPlan diffs the ideal slot set against the persisted one.
//
// For each day in [From, To]: the ideal set is empty when the day intersects a
// blackout or no available rule exists for its weekday, otherwise it is the
// materialized windows for the day's rule. Persisted slots in available,
// emergency_block, or unavailable status whose start is not ideal are deleted;
// ideal starts with no persisted slot are created as available with the rule's
// capacity. Booked slots are never touched, whatever the schedule now says:
// a confirmed booking survives the rule change that would have removed it.
func BuildPlan(in ReconcileInput) ReconcilePlan {
	byWeekday := make(map[time.Weekday]ScheduleRule, len(in.Rules))
	for _, r := range in.Rules {
		byWeekday[r.Weekday] = r
	}

	type idealSlot struct {
		window   SlotWindow
		capacity int
	}
	ideal := make(map[int64]idealSlot)

	from := dayStart(in.From, in.TZ)
	to := dayStart(in.To, in.TZ)

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if dayBlackedOut(day, in.TZ, in.Blackouts) {
			continue
		}
		rule, ok := byWeekday[day.Weekday()]
		if !ok || !rule.Available {
			continue
		}
		for _, w := range MaterializeDay(rule, day, in.TZ) {
			ideal[w.Start.Unix()] = idealSlot{window: w, capacity: rule.StrictCapacity}
		}
	}

	existingByStart := make(map[int64]Slot, len(in.Existing))
	for _, s := range in.Existing {
		existingByStart[s.StartAt.Unix()] = s
	}

	var plan ReconcilePlan

	for _, s := range in.Existing {
		if s.Status == SlotBooked {
			continue
		}
		if _, ok := ideal[s.StartAt.Unix()]; !ok {
			plan.Delete = append(plan.Delete, s.ID)
		}
	}

	for key, is := range ideal {
		if _, ok := existingByStart[key]; ok {
			continue
		}
		plan.Create = append(plan.Create, Slot{
			ID:             uuid.New(),
			LocationID:     in.LocationID,
			StartAt:        is.window.Start,
			EndAt:          is.window.End,
			Status:         SlotAvailable,
			StrictCount:    0,
			StrictCapacity: is.capacity,
		})
	}

	sort.Slice(plan.Create, func(i, j int) bool {
		return plan.Create[i].StartAt.Before(plan.Create[j].StartAt)
	})

	return plan
}

// dayStart normalizes an instant to midnight of its calendar day in tz.
func dayStart(t time.Time, tz *time.Location) time.Time {
	year, month, dom := t.In(tz).Date()
	return time.Date(year, month, dom, 0, 0, 0, 0, tz)
}

// dayBlackedOut reports whether any blackout interval intersects the day's
// civil-time span [00:00, 24:00) in tz. A partial overlap suppresses the
// whole day.
func dayBlackedOut(day time.Time, tz *time.Location, blackouts []BlackoutPeriod) bool {
	start := dayStart(day, tz)
	end := start.AddDate(0, 0, 1)
	for _, b := range blackouts {
		if b.StartAt.Before(end) && b.EndAt.After(start) {
			return true
		}
	}
	return false
}
