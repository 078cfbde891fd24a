package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable      SlotStatus = "available"
	SlotBooked         SlotStatus = "booked"
	SlotEmergencyBlock SlotStatus = "emergency_block"
	SlotUnavailable    SlotStatus = "unavailable"
)

type BlackoutKind string

const (
	BlackoutVacation    BlackoutKind = "vacation"
	BlackoutEmergency   BlackoutKind = "emergency"
	BlackoutMaintenance BlackoutKind = "maintenance"
	BlackoutOther       BlackoutKind = "other"
)

type Location struct {
	ID        uuid.UUID
	Name      string
	Timezone  string // IANA zone name, e.g. "America/Sao_Paulo"
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimeOfDay is a wall-clock time without a date, serialized as "15:04".
type TimeOfDay struct {
	time.Time
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Time: t}, nil
}

func (t TimeOfDay) String() string {
	return t.Format("15:04")
}

// MinuteOfDay returns minutes since midnight.
func (t TimeOfDay) MinuteOfDay() int {
	return t.Hour()*60 + t.Minute()
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// ScheduleRule is the recurring weekly availability for one location on one
// weekday. The reconciler only reads rules; administrators own them.
type ScheduleRule struct {
	ID              uuid.UUID
	LocationID      uuid.UUID
	Weekday         time.Weekday
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	SlotDurationMin int
	MaxSlotsPerDay  *int
	StrictCapacity  int
	Available       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r ScheduleRule) Validate() error {
	if r.LocationID == uuid.Nil {
		return fmt.Errorf("%w: location id is required", ErrInvalidInput)
	}
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday out of range", ErrInvalidInput)
	}
	if r.StartTime.MinuteOfDay() >= r.EndTime.MinuteOfDay() {
		return fmt.Errorf("%w: start time must be before end time", ErrInvalidInput)
	}
	if r.StrictCapacity < 1 {
		return fmt.Errorf("%w: strict capacity must be at least 1", ErrInvalidInput)
	}
	if r.MaxSlotsPerDay != nil && *r.MaxSlotsPerDay < 1 {
		return fmt.Errorf("%w: max slots per day must be at least 1", ErrInvalidInput)
	}
	return nil
}

// BlackoutPeriod closes a location over [StartAt, EndAt); no bookable slots
// may exist inside it.
type BlackoutPeriod struct {
	ID         int64
	LocationID uuid.UUID
	StartAt    time.Time
	EndAt      time.Time
	Reason     string
	Kind       BlackoutKind
	CreatedAt  time.Time
}

func (b BlackoutPeriod) Validate() error {
	if b.LocationID == uuid.Nil {
		return fmt.Errorf("%w: location id is required", ErrInvalidInput)
	}
	if !b.StartAt.Before(b.EndAt) {
		return fmt.Errorf("%w: blackout start must be before end", ErrInvalidInput)
	}
	return nil
}

// Slot is the bookable time unit. (LocationID, StartAt) is unique; status and
// the strict counter are only mutated under the slot's row lock.
type Slot struct {
	ID             uuid.UUID
	LocationID     uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	Status         SlotStatus
	StrictCount    int
	StrictCapacity int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
