package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/caretide/clinic-scheduling/internal/schedule"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotBusy means the slot's row lock could not be acquired within the
	// bounded wait. Retryable.
	ErrSlotBusy = errors.New("slot is locked by a concurrent operation, retry")
)

// Repository contains all DB interactions needed by the booking service and
// the consistency auditor.
type Repository interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	SetExternalRef(ctx context.Context, id uuid.UUID, ref string) error

	// WithSlotTx runs fn inside one transaction with a bounded row-lock wait.
	// Slot mutation and appointment writes inside fn commit or roll back
	// together.
	WithSlotTx(ctx context.Context, fn func(ctx context.Context, tx SlotTx) error) error

	// SlotStats feeds the consistency auditor: per-slot persisted state next
	// to the active appointments actually referencing it.
	SlotStats(ctx context.Context) ([]SlotStat, error)
}

// SlotTx is the transactional scope of one booking, cancellation, or fix.
// Lock methods block until the row lock is held or the bounded wait expires
// (ErrSlotBusy); every decision about a slot must happen after one of them.
type SlotTx interface {
	LockSlotByStart(ctx context.Context, locationID uuid.UUID, startAt time.Time) (*schedule.Slot, error)
	LockSlotByID(ctx context.Context, id uuid.UUID) (*schedule.Slot, error)
	UpdateSlotState(ctx context.Context, id uuid.UUID, status schedule.SlotStatus, strictCount int) error

	InsertAppointment(ctx context.Context, appt *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, at time.Time) error

	// CountActive returns the active appointments referencing the slot, total
	// and strict-mode only.
	CountActive(ctx context.Context, slotID uuid.UUID) (total int, strict int, err error)
}

type SlotStat struct {
	SlotID         uuid.UUID
	LocationID     uuid.UUID
	StartAt        time.Time
	Status         schedule.SlotStatus
	StrictCount    int
	StrictCapacity int
	ActiveTotal    int
	ActiveStrict   int
}
