package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caretide/clinic-scheduling/internal/audit"
	"github.com/caretide/clinic-scheduling/internal/notify"
	"github.com/caretide/clinic-scheduling/internal/schedule"
)

var (
	ErrSlotBlocked       = errors.New("slot is blocked or unavailable")
	ErrSlotAlreadyBooked = errors.New("slot already booked")
	ErrSlotFull          = errors.New("slot strict capacity exhausted")
	ErrInvalidMode       = errors.New("invalid booking mode")

	ErrAppointmentNotActive = errors.New("appointment is not active")
)

type Service struct {
	repo        Repository
	notifier    notify.Notifier
	sink        audit.Sink
	log         zerolog.Logger
	lockRetries int
	retryDelay  time.Duration
}

func NewService(repo Repository, notifier notify.Notifier, sink audit.Sink, log zerolog.Logger, lockRetries int, retryDelay time.Duration) *Service {
	if lockRetries < 0 {
		lockRetries = 0
	}
	if retryDelay <= 0 {
		retryDelay = 150 * time.Millisecond
	}
	return &Service{
		repo:        repo,
		notifier:    notifier,
		sink:        sink,
		log:         log.With().Str("component", "booking").Logger(),
		lockRetries: lockRetries,
		retryDelay:  retryDelay,
	}
}

type BookRequest struct {
	LocationID uuid.UUID
	StartAt    time.Time
	PatientID  uuid.UUID
	Mode       Mode
	Actor      string
	Confirmed  bool // initial status confirmed instead of scheduled
}

// Book reserves the slot at (location, start) for the patient. The slot's row
// lock is the sole mechanism preventing double-booking: every decision below
// is made after the lock is held, so the second of two concurrent attempts
// observes the first's committed state. A bounded lock wait surfaces
// ErrSlotBusy, which Book retries a small number of times before giving up.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if !req.Mode.Valid() {
		return nil, ErrInvalidMode
	}

	exists, err := s.repo.PatientExists(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return nil, ErrPatientNotFound
	}

	var appt *Appointment
	for attempt := 0; ; attempt++ {
		appt, err = s.bookOnce(ctx, req)
		if errors.Is(err, ErrSlotBusy) && attempt < s.lockRetries {
			s.log.Debug().
				Int("attempt", attempt+1).
				Str("location_id", req.LocationID.String()).
				Time("start_at", req.StartAt).
				Msg("slot lock contended, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryDelay):
			}
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, notify.EventAppointmentCreated, audit.EventBookingCreated, appt, req.Actor)
	return appt, nil
}

func (s *Service) bookOnce(ctx context.Context, req BookRequest) (*Appointment, error) {
	var created *Appointment

	err := s.repo.WithSlotTx(ctx, func(ctx context.Context, tx SlotTx) error {
		slot, err := tx.LockSlotByStart(ctx, req.LocationID, req.StartAt.UTC())
		if err != nil {
			return err
		}

		newStatus, newCount, err := applyBooking(slot, req.Mode)
		if err != nil {
			return err
		}

		if err := tx.UpdateSlotState(ctx, slot.ID, newStatus, newCount); err != nil {
			return fmt.Errorf("update slot: %w", err)
		}

		now := time.Now()
		status := StatusScheduled
		var confirmedAt *time.Time
		if req.Confirmed {
			status = StatusConfirmed
			confirmedAt = &now
		}

		slotID := slot.ID
		appt := &Appointment{
			ID:          uuid.New(),
			PatientID:   req.PatientID,
			LocationID:  req.LocationID,
			SlotID:      &slotID,
			StartAt:     slot.StartAt,
			EndAt:       slot.EndAt,
			DurationMin: int(slot.EndAt.Sub(slot.StartAt) / time.Minute),
			Mode:        req.Mode,
			Status:      status,
			BookedBy:    req.Actor,
			ConfirmedAt: confirmedAt,
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, wrapTxErr(err)
	}
	return created, nil
}

// applyBooking is the mode dispatch, run under the slot's row lock.
//
// Strict: a booked slot rejects outright; a full counter rejects; otherwise
// the counter increments and the slot closes on this first strict booking.
// The counter past that point serves audit and analytics, not admission.
//
// Walk-in: only "slot not already booked" applies, and the strict counter is
// never touched.
func applyBooking(slot *schedule.Slot, mode Mode) (schedule.SlotStatus, int, error) {
	if slot.Status == schedule.SlotEmergencyBlock || slot.Status == schedule.SlotUnavailable {
		return "", 0, ErrSlotBlocked
	}

	switch mode {
	case ModeStrict:
		if slot.Status == schedule.SlotBooked {
			return "", 0, ErrSlotAlreadyBooked
		}
		if slot.StrictCount >= slot.StrictCapacity {
			return "", 0, ErrSlotFull
		}
		return schedule.SlotBooked, slot.StrictCount + 1, nil

	case ModeWalkIn:
		if slot.Status == schedule.SlotBooked {
			return "", 0, ErrSlotAlreadyBooked
		}
		return schedule.SlotBooked, slot.StrictCount, nil

	default:
		return "", 0, ErrInvalidMode
	}
}

// Cancel releases the appointment's hold on its slot. Strict cancellations
// decrement the counter and reopen a booked slot; walk-in cancellations leave
// the slot as-is, reopening only through an explicit admin status change.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, actor string) (*Appointment, error) {
	var cancelled *Appointment

	err := s.repo.WithSlotTx(ctx, func(ctx context.Context, tx SlotTx) error {
		appt, err := tx.GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !appt.Status.Active() {
			return ErrAppointmentNotActive
		}

		if appt.SlotID != nil {
			slot, err := tx.LockSlotByID(ctx, *appt.SlotID)
			if err != nil && !errors.Is(err, ErrSlotNotFound) {
				return err
			}
			if slot != nil && appt.Mode == ModeStrict {
				count := slot.StrictCount - 1
				if count < 0 {
					count = 0
				}
				status := slot.Status
				if status == schedule.SlotBooked {
					status = schedule.SlotAvailable
				}
				if err := tx.UpdateSlotState(ctx, slot.ID, status, count); err != nil {
					return fmt.Errorf("release slot: %w", err)
				}
			}
		}

		now := time.Now()
		if err := tx.CancelAppointment(ctx, appt.ID, now); err != nil {
			return err
		}

		appt.Status = StatusCancelled
		appt.CancelledAt = &now
		cancelled = appt
		return nil
	})
	if err != nil {
		return nil, wrapTxErr(err)
	}

	s.afterCommit(ctx, notify.EventAppointmentCancelled, audit.EventBookingCancelled, cancelled, actor)
	return cancelled, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// SetExternalRef records the external calendar id for an appointment. Narrow
// write for the calendar mirror; no read dependency.
func (s *Service) SetExternalRef(ctx context.Context, id uuid.UUID, ref string) error {
	return s.repo.SetExternalRef(ctx, id, ref)
}

// afterCommit runs the best-effort post-commit actions. Notification delivery
// and audit writes never fail the booking that produced them.
func (s *Service) afterCommit(ctx context.Context, notifyType, auditType string, appt *Appointment, actor string) {
	apptID := appt.ID
	locID := appt.LocationID

	s.sink.Record(ctx, audit.Event{
		Type:       auditType,
		Actor:      actor,
		SubjectID:  &apptID,
		LocationID: &locID,
		Detail: map[string]any{
			"patient_id": appt.PatientID,
			"start_at":   appt.StartAt,
			"mode":       appt.Mode,
			"status":     appt.Status,
		},
	})

	ev := notify.AppointmentEvent{
		Type:          notifyType,
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		LocationID:    appt.LocationID,
		StartAt:       appt.StartAt,
		EndAt:         appt.EndAt,
		Mode:          string(appt.Mode),
		OccurredAt:    time.Now(),
	}
	go func(ctx context.Context) {
		if err := s.notifier.Publish(ctx, ev); err != nil {
			s.log.Warn().Err(err).Str("event", ev.Type).Str("appointment_id", ev.AppointmentID.String()).Msg("notification publish failed")
		}
	}(context.WithoutCancel(ctx))
}

// wrapTxErr keeps domain sentinels intact and wraps everything else as an
// infrastructure failure.
func wrapTxErr(err error) error {
	switch {
	case errors.Is(err, ErrSlotNotFound),
		errors.Is(err, ErrSlotBusy),
		errors.Is(err, ErrSlotBlocked),
		errors.Is(err, ErrSlotAlreadyBooked),
		errors.Is(err, ErrSlotFull),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrAppointmentNotActive),
		errors.Is(err, ErrInvalidMode):
		return err
	default:
		return fmt.Errorf("booking transaction failed: %w", err)
	}
}
