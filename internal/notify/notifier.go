package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentCancelled = "appointment.cancelled"
)

// AppointmentEvent is the payload handed to downstream notification delivery
// (email, WhatsApp, calendar sync). Delivery is someone else's job; the core
// fires these post-commit and never waits on the outcome.
type AppointmentEvent struct {
	Type          string    `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	LocationID    uuid.UUID `json:"location_id"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	Mode          string    `json:"mode"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier publishes appointment events. Implementations must be safe to call
// after the producing transaction committed; errors are for the caller to log,
// never to act on.
type Notifier interface {
	Publish(ctx context.Context, ev AppointmentEvent) error
}

// Nop drops events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, AppointmentEvent) error { return nil }
