package booking

import (
	"time"

	"github.com/google/uuid"
)

// Mode is the booking mode. Strict bookings carry a pre-declared per-slot
// capacity ceiling; walk-ins only require that the slot is not already
// booked.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeWalkIn Mode = "walk_in"
)

func (m Mode) Valid() bool {
	return m == ModeStrict || m == ModeWalkIn
}

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Active reports whether the appointment still holds its slot.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment holds a non-owning back-reference to its slot. Slot lifetime is
// owned by the schedule; SlotID goes nil if the slot is ever removed.
type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	LocationID  uuid.UUID
	SlotID      *uuid.UUID
	StartAt     time.Time
	EndAt       time.Time
	DurationMin int
	Mode        Mode
	Status      Status
	BookedBy    string
	ExternalRef *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
}
