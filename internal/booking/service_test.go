package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretide/clinic-scheduling/internal/audit"
	"github.com/caretide/clinic-scheduling/internal/notify"
	"github.com/caretide/clinic-scheduling/internal/schedule"
)

// memRepo is an in-memory Repository. The mutex plays the role of the row
// lock: WithSlotTx holds it for the whole callback, so concurrent transactions
// serialize exactly like they would against Postgres. Writes stage in the tx
// and apply only when the callback returns nil.
type memRepo struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]bool
	slots        map[uuid.UUID]*schedule.Slot
	appointments map[uuid.UUID]*Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:     make(map[uuid.UUID]bool),
		slots:        make(map[uuid.UUID]*schedule.Slot),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *memRepo) addPatient() uuid.UUID {
	id := uuid.New()
	r.patients[id] = true
	return id
}

func (r *memRepo) addSlot(status schedule.SlotStatus, count, capacity int) *schedule.Slot {
	s := &schedule.Slot{
		ID:             uuid.New(),
		LocationID:     uuid.New(),
		StartAt:        time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC),
		EndAt:          time.Date(2026, time.March, 2, 9, 15, 0, 0, time.UTC),
		Status:         status,
		StrictCount:    count,
		StrictCapacity: capacity,
	}
	r.slots[s.ID] = s
	return s
}

func (r *memRepo) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.patients[id], nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) SetExternalRef(_ context.Context, id uuid.UUID, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	appt.ExternalRef = &ref
	return nil
}

func (r *memRepo) WithSlotTx(ctx context.Context, fn func(ctx context.Context, tx SlotTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{
		repo:        r,
		slotUpdates: make(map[uuid.UUID]slotUpdate),
		inserted:    make(map[uuid.UUID]*Appointment),
		cancelled:   make(map[uuid.UUID]time.Time),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (r *memRepo) SlotStats(_ context.Context) ([]SlotStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats []SlotStat
	for _, s := range r.slots {
		total, strict := r.countActiveLocked(s.ID)
		stats = append(stats, SlotStat{
			SlotID:         s.ID,
			LocationID:     s.LocationID,
			StartAt:        s.StartAt,
			Status:         s.Status,
			StrictCount:    s.StrictCount,
			StrictCapacity: s.StrictCapacity,
			ActiveTotal:    total,
			ActiveStrict:   strict,
		})
	}
	return stats, nil
}

func (r *memRepo) countActiveLocked(slotID uuid.UUID) (total, strict int) {
	for _, a := range r.appointments {
		if a.SlotID != nil && *a.SlotID == slotID && a.Status.Active() {
			total++
			if a.Mode == ModeStrict {
				strict++
			}
		}
	}
	return total, strict
}

type slotUpdate struct {
	status schedule.SlotStatus
	count  int
}

type memTx struct {
	repo        *memRepo
	slotUpdates map[uuid.UUID]slotUpdate
	inserted    map[uuid.UUID]*Appointment
	cancelled   map[uuid.UUID]time.Time
}

func (t *memTx) LockSlotByStart(_ context.Context, locationID uuid.UUID, startAt time.Time) (*schedule.Slot, error) {
	for _, s := range t.repo.slots {
		if s.LocationID == locationID && s.StartAt.Equal(startAt) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSlotNotFound
}

func (t *memTx) LockSlotByID(_ context.Context, id uuid.UUID) (*schedule.Slot, error) {
	s, ok := t.repo.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (t *memTx) UpdateSlotState(_ context.Context, id uuid.UUID, status schedule.SlotStatus, strictCount int) error {
	if _, ok := t.repo.slots[id]; !ok {
		return ErrSlotNotFound
	}
	t.slotUpdates[id] = slotUpdate{status: status, count: strictCount}
	return nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt *Appointment) error {
	cp := *appt
	t.inserted[appt.ID] = &cp
	return nil
}

func (t *memTx) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	appt, ok := t.repo.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

func (t *memTx) CancelAppointment(_ context.Context, id uuid.UUID, at time.Time) error {
	if _, ok := t.repo.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	t.cancelled[id] = at
	return nil
}

func (t *memTx) CountActive(_ context.Context, slotID uuid.UUID) (int, int, error) {
	total, strict := t.repo.countActiveLocked(slotID)
	return total, strict, nil
}

func (t *memTx) commit() {
	for id, up := range t.slotUpdates {
		t.repo.slots[id].Status = up.status
		t.repo.slots[id].StrictCount = up.count
	}
	for id, appt := range t.inserted {
		t.repo.appointments[id] = appt
	}
	for id, at := range t.cancelled {
		a := t.repo.appointments[id]
		a.Status = StatusCancelled
		cancelledAt := at
		a.CancelledAt = &cancelledAt
	}
}

func newTestService(repo Repository) *Service {
	return NewService(repo, notify.Nop{}, audit.NopSink{}, zerolog.Nop(), 0, time.Millisecond)
}

func TestBook(t *testing.T) {
	ctx := context.Background()

	t.Run("strict booking closes the slot and bumps the counter", func(t *testing.T) {
		repo := newMemRepo()
		patientID := repo.addPatient()
		slot := repo.addSlot(schedule.SlotAvailable, 0, 3)
		svc := newTestService(repo)

		appt, err := svc.Book(ctx, BookRequest{
			LocationID: slot.LocationID,
			StartAt:    slot.StartAt,
			PatientID:  patientID,
			Mode:       ModeStrict,
			Actor:      "front-desk",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusScheduled, appt.Status)
		assert.Equal(t, ModeStrict, appt.Mode)
		assert.Equal(t, 15, appt.DurationMin)
		require.NotNil(t, appt.SlotID)
		assert.Equal(t, slot.ID, *appt.SlotID)
		assert.Equal(t, "front-desk", appt.BookedBy)

		assert.Equal(t, schedule.SlotBooked, repo.slots[slot.ID].Status)
		assert.Equal(t, 1, repo.slots[slot.ID].StrictCount)
	})

	t.Run("confirmed flag sets initial status", func(t *testing.T) {
		repo := newMemRepo()
		patientID := repo.addPatient()
		slot := repo.addSlot(schedule.SlotAvailable, 0, 1)
		svc := newTestService(repo)

		appt, err := svc.Book(ctx, BookRequest{
			LocationID: slot.LocationID,
			StartAt:    slot.StartAt,
			PatientID:  patientID,
			Mode:       ModeStrict,
			Confirmed:  true,
		})
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, appt.Status)
		assert.NotNil(t, appt.ConfirmedAt)
	})

	t.Run("second strict booking on a closed slot is rejected", func(t *testing.T) {
		repo := newMemRepo()
		patientID := repo.addPatient()
		slot := repo.addSlot(schedule.SlotAvailable, 0, 3)
		svc := newTestService(repo)

		_, err := svc.Book(ctx, BookRequest{
			LocationID: slot.LocationID, StartAt: slot.StartAt, PatientID: patientID, Mode: ModeStrict,
		})
		require.NoError(t, err)

		_, err = svc.Book(ctx, BookRequest{
			LocationID: slot.LocationID, StartAt: slot.StartAt, PatientID: patientID, Mode: ModeStrict,
		})
		assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
		// Counter untouched by the rejected attempt.
		assert.Equal(t, 1, repo.slots[slot.ID].StrictCount)
	})

	t.Run("strict booking on a full counter is rejected", func(t *testing.T) {
		repo := newMemRepo()
		patientID := repo.addPatient()
		slot := repo.addSlot(schedule.SlotAvailable, 2, 2)
		svc := newTestService(repo)

		_, err := svc.Book(ctx, BookRequest{
			LocationID: slot.LocationID, StartAt: slot.StartAt, PatientID: patientID, Mode: ModeStrict,
		})
		assert.ErrorIs(t, err, ErrSlotFull)
	})

	t.Run("walk-in booking leaves the counter alone", func(t *testing.T) {
		repo := newMemRepo()
		patientID := repo.addPatient()
		slot := repo.addSlot(schedule.SlotAvailable, 0, 2)
		svc := newTestService(repo)

		appt, err := svc.Book(ctx, BookRequest{
			LocationID: slot.LocationID, StartAt: slot.StartAt, PatientID: patientID, Mode: ModeWalkIn,
		})
		require.NoError(t, err)
		assert.Equal(t, ModeWalkIn, appt.Mode)

		assert.Equal(t, schedule.SlotBooked, repo.slots[slot.ID].Status)
		assert.Zero(t, repo.slots[slot.ID].StrictCount)
	})

	t.Run("walk-in rejected on a booked slot", func(t *testing.T) {
		repo := newMemRepo()
		patientID := repo.addPatient()
		slot := repo.addSlot(schedule.SlotBooked, 1, 1)
		svc := newTestService(repo)

		_, err := svc.Book(ctx, BookRequest{
			LocationID: slot.LocationID, StartAt: slot.StartAt, PatientID: patientID, Mode: ModeWalkIn,
		})
		assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
	})

	t.Run("blocked and unavailable slots reject both modes", func(t *testing.T) {
		for _, status := range []schedule.SlotStatus{schedule.SlotEmergencyBlock, schedule.SlotUnavailable} {
			for _, mode := range []Mode{ModeStrict, ModeWalkIn} {
				repo := newMemRepo()
				patientID := repo.addPatient()
				slot := repo.addSlot(status, 0, 1)
				svc := newTestService(repo)

				_, err := svc.Book(ctx, BookRequest{
					LocationID: slot.LocationID, StartAt: slot.StartAt, PatientID: patientID, Mode: mode,
				})
				assert.ErrorIs(t, err, ErrSlotBlocked, "status=%s mode=%s", status, mode)
			}
		}
	})

	t.Run("unknown patient", func(t *testing.T) {
		repo := newMemRepo()
		slot := repo.addSlot(schedule.SlotAvailable, 0, 1)
		svc := newTestService(repo)

		_, err := svc.Book(ctx, BookRequest{
			LocationID: slot.LocationID, StartAt: slot.StartAt, PatientID: uuid.New(), Mode: ModeStrict,
		})
		assert.ErrorIs(t, err, ErrPatientNotFound)
	})

	t.Run("unknown slot", func(t *testing.T) {
		repo := newMemRepo()
		patientID := repo.addPatient()
		svc := newTestService(repo)

		_, err := svc.Book(ctx, BookRequest{
			LocationID: uuid.New(), StartAt: time.Now(), PatientID: patientID, Mode: ModeStrict,
		})
		assert.ErrorIs(t, err, ErrSlotNotFound)
	})

	t.Run("invalid mode", func(t *testing.T) {
		repo := newMemRepo()
		patientID := repo.addPatient()
		svc := newTestService(repo)

		_, err := svc.Book(ctx, BookRequest{
			LocationID: uuid.New(), StartAt: time.Now(), PatientID: patientID, Mode: "weekly",
		})
		assert.ErrorIs(t, err, ErrInvalidMode)
	})

	t.Run("concurrent strict attempts admit exactly one", func(t *testing.T) {
		repo := newMemRepo()
		slot := repo.addSlot(schedule.SlotAvailable, 0, 1)
		svc := newTestService(repo)

		const attempts = 16
		patients := make([]uuid.UUID, attempts)
		for i := range patients {
			patients[i] = repo.addPatient()
		}

		errs := make([]error, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Book(ctx, BookRequest{
					LocationID: slot.LocationID,
					StartAt:    slot.StartAt,
					PatientID:  patients[i],
					Mode:       ModeStrict,
				})
			}(i)
		}
		wg.Wait()

		var succeeded, rejected int
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrSlotAlreadyBooked) || errors.Is(err, ErrSlotFull):
				rejected++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, attempts-1, rejected)

		final := repo.slots[slot.ID]
		assert.Equal(t, schedule.SlotBooked, final.Status)
		assert.LessOrEqual(t, final.StrictCount, final.StrictCapacity)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	bookOne := func(t *testing.T, repo *memRepo, svc *Service, mode Mode) (*schedule.Slot, *Appointment) {
		t.Helper()
		patientID := repo.addPatient()
		slot := repo.addSlot(schedule.SlotAvailable, 0, 2)
		appt, err := svc.Book(ctx, BookRequest{
			LocationID: slot.LocationID, StartAt: slot.StartAt, PatientID: patientID, Mode: mode,
		})
		require.NoError(t, err)
		return slot, appt
	}

	t.Run("strict cancel reopens the slot and decrements", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo)
		slot, appt := bookOne(t, repo, svc, ModeStrict)

		cancelled, err := svc.Cancel(ctx, appt.ID, "front-desk")
		require.NoError(t, err)

		assert.Equal(t, StatusCancelled, cancelled.Status)
		assert.NotNil(t, cancelled.CancelledAt)
		assert.Equal(t, schedule.SlotAvailable, repo.slots[slot.ID].Status)
		assert.Zero(t, repo.slots[slot.ID].StrictCount)
	})

	t.Run("walk-in cancel leaves the slot as-is", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo)
		slot, appt := bookOne(t, repo, svc, ModeWalkIn)

		_, err := svc.Cancel(ctx, appt.ID, "front-desk")
		require.NoError(t, err)

		// Reopening a walk-in slot is an explicit admin action.
		assert.Equal(t, schedule.SlotBooked, repo.slots[slot.ID].Status)
	})

	t.Run("cancel twice rejects the second", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo)
		_, appt := bookOne(t, repo, svc, ModeStrict)

		_, err := svc.Cancel(ctx, appt.ID, "front-desk")
		require.NoError(t, err)

		_, err = svc.Cancel(ctx, appt.ID, "front-desk")
		assert.ErrorIs(t, err, ErrAppointmentNotActive)
	})

	t.Run("counter never goes negative", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo)
		slot, appt := bookOne(t, repo, svc, ModeStrict)

		// Simulate prior drift: counter already zero despite the booking.
		repo.slots[slot.ID].StrictCount = 0

		_, err := svc.Cancel(ctx, appt.ID, "front-desk")
		require.NoError(t, err)
		assert.Zero(t, repo.slots[slot.ID].StrictCount)
	})

	t.Run("cancel survives a deleted slot", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo)
		slot, appt := bookOne(t, repo, svc, ModeStrict)

		delete(repo.slots, slot.ID)

		cancelled, err := svc.Cancel(ctx, appt.ID, "front-desk")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo)

		_, err := svc.Cancel(ctx, uuid.New(), "front-desk")
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})
}

func TestBookRetriesOnLockContention(t *testing.T) {
	repo := newMemRepo()
	patientID := repo.addPatient()
	slot := repo.addSlot(schedule.SlotAvailable, 0, 1)

	busy := &busyOnceRepo{Repository: repo, failures: 2}
	svc := NewService(busy, notify.Nop{}, audit.NopSink{}, zerolog.Nop(), 2, time.Millisecond)

	appt, err := svc.Book(context.Background(), BookRequest{
		LocationID: slot.LocationID, StartAt: slot.StartAt, PatientID: patientID, Mode: ModeStrict,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Zero(t, busy.failures)
}

func TestBookGivesUpAfterRetries(t *testing.T) {
	repo := newMemRepo()
	patientID := repo.addPatient()
	slot := repo.addSlot(schedule.SlotAvailable, 0, 1)

	busy := &busyOnceRepo{Repository: repo, failures: 10}
	svc := NewService(busy, notify.Nop{}, audit.NopSink{}, zerolog.Nop(), 2, time.Millisecond)

	_, err := svc.Book(context.Background(), BookRequest{
		LocationID: slot.LocationID, StartAt: slot.StartAt, PatientID: patientID, Mode: ModeStrict,
	})
	assert.ErrorIs(t, err, ErrSlotBusy)
}

// busyOnceRepo fails WithSlotTx with ErrSlotBusy a fixed number of times, then
// delegates.
type busyOnceRepo struct {
	Repository
	failures int
}

func (r *busyOnceRepo) WithSlotTx(ctx context.Context, fn func(ctx context.Context, tx SlotTx) error) error {
	if r.failures > 0 {
		r.failures--
		return ErrSlotBusy
	}
	return r.Repository.WithSlotTx(ctx, fn)
}
