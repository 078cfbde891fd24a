package schedule

import "time"

// DefaultSlotDurationMin is substituted when a rule carries a missing or
// non-positive duration. Materialization degrades instead of failing.
const DefaultSlotDurationMin = 15

// SlotWindow is one candidate slot produced by materialization.
type SlotWindow struct {
	Start time.Time
	End   time.Time
}

// MaterializeDay computes the ideal slot windows for one rule on one calendar
// day. The rule's wall-clock times are interpreted in tz and the resulting
// instants returned in UTC. Pure: no I/O, same inputs always yield the same
// windows.
func MaterializeDay(rule ScheduleRule, day time.Time, tz *time.Location) []SlotWindow {
	if !rule.Available {
		return nil
	}

	durMin := rule.SlotDurationMin
	if durMin <= 0 {
		durMin = DefaultSlotDurationMin
	}
	dur := time.Duration(durMin) * time.Minute

	year, month, dom := day.Date()
	start := time.Date(year, month, dom, rule.StartTime.Hour(), rule.StartTime.Minute(), 0, 0, tz)
	end := time.Date(year, month, dom, rule.EndTime.Hour(), rule.EndTime.Minute(), 0, 0, tz)

	var windows []SlotWindow
	for cur := start; !cur.Add(dur).After(end); cur = cur.Add(dur) {
		if rule.MaxSlotsPerDay != nil && len(windows) >= *rule.MaxSlotsPerDay {
			break
		}
		windows = append(windows, SlotWindow{
			Start: cur.UTC(),
			End:   cur.Add(dur).UTC(),
		})
	}

	return windows
}
