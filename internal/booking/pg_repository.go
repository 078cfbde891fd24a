package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretide/clinic-scheduling/internal/schedule"
)

// pgLockNotAvailable is raised when lock_timeout expires while waiting on a
// row lock.
const pgLockNotAvailable = "55P03"

type PgRepository struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
}

func NewPgRepository(pool *pgxpool.Pool, lockWait time.Duration) *PgRepository {
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}
	return &PgRepository{pool: pool, lockWait: lockWait}
}

// Helpers

const appointmentColumns = `id, patient_id, location_id, slot_id, start_at, end_at, duration_min,
	mode, status, booked_by, external_ref, created_at, updated_at, confirmed_at, cancelled_at, completed_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.LocationID,
		&a.SlotID,
		&a.StartAt,
		&a.EndAt,
		&a.DurationMin,
		&a.Mode,
		&a.Status,
		&a.BookedBy,
		&a.ExternalRef,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ConfirmedAt,
		&a.CancelledAt,
		&a.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanLockedSlot(row pgx.Row) (*schedule.Slot, error) {
	var s schedule.Slot

	err := row.Scan(
		&s.ID,
		&s.LocationID,
		&s.StartAt,
		&s.EndAt,
		&s.Status,
		&s.StrictCount,
		&s.StrictCapacity,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, mapLockErr(err)
	}

	return &s, nil
}

func mapLockErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return ErrSlotBusy
	}
	return err
}

// Interface methods

func (r *PgRepository) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) SetExternalRef(ctx context.Context, id uuid.UUID, ref string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET external_ref = $2, updated_at = now()
		WHERE id = $1
	`, id, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) WithSlotTx(ctx context.Context, fn func(ctx context.Context, tx SlotTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin slot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Bounded row-lock wait: a contended slot surfaces ErrSlotBusy instead of
	// blocking the request indefinitely.
	_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockWait.Milliseconds()))
	if err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err := fn(ctx, &pgSlotTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit slot tx: %w", err)
	}
	return nil
}

type pgSlotTx struct {
	tx pgx.Tx
}

const lockedSlotColumns = `id, location_id, start_at, end_at, status, strict_count, strict_capacity, created_at, updated_at`

func (t *pgSlotTx) LockSlotByStart(ctx context.Context, locationID uuid.UUID, startAt time.Time) (*schedule.Slot, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+lockedSlotColumns+`
		FROM slots
		WHERE location_id = $1 AND start_at = $2
		FOR UPDATE
	`, locationID, startAt)
	return scanLockedSlot(row)
}

func (t *pgSlotTx) LockSlotByID(ctx context.Context, id uuid.UUID) (*schedule.Slot, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+lockedSlotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanLockedSlot(row)
}

func (t *pgSlotTx) UpdateSlotState(ctx context.Context, id uuid.UUID, status schedule.SlotStatus, strictCount int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE slots
		SET status = $2, strict_count = $3, updated_at = now()
		WHERE id = $1
	`, id, status, strictCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (t *pgSlotTx) InsertAppointment(ctx context.Context, appt *Appointment) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, location_id, slot_id, start_at, end_at, duration_min,
			 mode, status, booked_by, external_ref, created_at, updated_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now(), $12)
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.PatientID, appt.LocationID, appt.SlotID, appt.StartAt, appt.EndAt,
		appt.DurationMin, appt.Mode, appt.Status, appt.BookedBy, appt.ExternalRef, appt.ConfirmedAt)

	saved, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*appt = *saved
	return nil
}

func (t *pgSlotTx) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgSlotTx) CancelAppointment(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancelled_at = $2, updated_at = now()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgSlotTx) CountActive(ctx context.Context, slotID uuid.UUID) (int, int, error) {
	var total, strict int
	err := t.tx.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('scheduled', 'confirmed')),
			COUNT(*) FILTER (WHERE status IN ('scheduled', 'confirmed') AND mode = 'strict')
		FROM appointments
		WHERE slot_id = $1
	`, slotID).Scan(&total, &strict)
	if err != nil {
		return 0, 0, err
	}
	return total, strict, nil
}

func (r *PgRepository) SlotStats(ctx context.Context) ([]SlotStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			s.id, s.location_id, s.start_at, s.status, s.strict_count, s.strict_capacity,
			COUNT(a.id) FILTER (WHERE a.status IN ('scheduled', 'confirmed')),
			COUNT(a.id) FILTER (WHERE a.status IN ('scheduled', 'confirmed') AND a.mode = 'strict')
		FROM slots s
		LEFT JOIN appointments a ON a.slot_id = s.id
		GROUP BY s.id
		ORDER BY s.start_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotStat
	for rows.Next() {
		var st SlotStat
		err := rows.Scan(
			&st.SlotID,
			&st.LocationID,
			&st.StartAt,
			&st.Status,
			&st.StrictCount,
			&st.StrictCapacity,
			&st.ActiveTotal,
			&st.ActiveStrict,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}
