package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanLocation(row pgx.Row) (*Location, error) {
	var l Location
	err := row.Scan(
		&l.ID,
		&l.Name,
		&l.Timezone,
		&l.Active,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return &l, nil
}

func scanRule(row pgx.Row) (*ScheduleRule, error) {
	var r ScheduleRule
	var weekday int16
	var startRaw, endRaw string
	var maxPerDay *int32

	err := row.Scan(
		&r.ID,
		&r.LocationID,
		&weekday,
		&startRaw,
		&endRaw,
		&r.SlotDurationMin,
		&maxPerDay,
		&r.StrictCapacity,
		&r.Available,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}

	r.Weekday = time.Weekday(weekday)
	if r.StartTime, err = ParseTimeOfDay(startRaw); err != nil {
		return nil, fmt.Errorf("rule %s start time: %w", r.ID, err)
	}
	if r.EndTime, err = ParseTimeOfDay(endRaw); err != nil {
		return nil, fmt.Errorf("rule %s end time: %w", r.ID, err)
	}
	if maxPerDay != nil {
		v := int(*maxPerDay)
		r.MaxSlotsPerDay = &v
	}
	return &r, nil
}

func scanBlackout(row pgx.Row) (*BlackoutPeriod, error) {
	var b BlackoutPeriod
	err := row.Scan(
		&b.ID,
		&b.LocationID,
		&b.StartAt,
		&b.EndAt,
		&b.Reason,
		&b.Kind,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlackoutNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
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
		return nil, err
	}
	return &s, nil
}

// Interface methods

func (r *PgRepository) GetLocation(ctx context.Context, id uuid.UUID) (*Location, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, timezone, active, created_at, updated_at
		FROM locations
		WHERE id = $1
	`, id)
	return scanLocation(row)
}

func (r *PgRepository) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, timezone, active, created_at, updated_at
		FROM locations
		WHERE active
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *l)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpsertRule(ctx context.Context, rule ScheduleRule) (*ScheduleRule, error) {
	id := rule.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var maxPerDay *int32
	if rule.MaxSlotsPerDay != nil {
		v := int32(*rule.MaxSlotsPerDay)
		maxPerDay = &v
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO schedule_rules
			(id, location_id, weekday, start_time, end_time, slot_duration_min,
			 max_slots_per_day, strict_capacity, available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (location_id, weekday) DO UPDATE SET
			start_time        = EXCLUDED.start_time,
			end_time          = EXCLUDED.end_time,
			slot_duration_min = EXCLUDED.slot_duration_min,
			max_slots_per_day = EXCLUDED.max_slots_per_day,
			strict_capacity   = EXCLUDED.strict_capacity,
			available         = EXCLUDED.available,
			updated_at        = now()
		RETURNING id, location_id, weekday, start_time, end_time, slot_duration_min,
			max_slots_per_day, strict_capacity, available, created_at, updated_at
	`, id, rule.LocationID, int16(rule.Weekday), rule.StartTime.String(), rule.EndTime.String(),
		rule.SlotDurationMin, maxPerDay, rule.StrictCapacity, rule.Available)

	return scanRule(row)
}

func (r *PgRepository) ListRules(ctx context.Context, locationID uuid.UUID) ([]ScheduleRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, location_id, weekday, start_time, end_time, slot_duration_min,
			max_slots_per_day, strict_capacity, available, created_at, updated_at
		FROM schedule_rules
		WHERE location_id = $1
		ORDER BY weekday
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ScheduleRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	return result, rows.Err()
}

func (r *PgRepository) DeleteRule(ctx context.Context, locationID uuid.UUID, weekday time.Weekday) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM schedule_rules
		WHERE location_id = $1 AND weekday = $2
	`, locationID, int16(weekday))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *PgRepository) CreateBlackout(ctx context.Context, b BlackoutPeriod) (*BlackoutPeriod, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO blackout_periods (location_id, start_at, end_at, reason, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, location_id, start_at, end_at, reason, kind, created_at
	`, b.LocationID, b.StartAt, b.EndAt, b.Reason, b.Kind)
	return scanBlackout(row)
}

func (r *PgRepository) GetBlackout(ctx context.Context, id int64) (*BlackoutPeriod, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, location_id, start_at, end_at, reason, kind, created_at
		FROM blackout_periods
		WHERE id = $1
	`, id)
	return scanBlackout(row)
}

func (r *PgRepository) ListBlackouts(ctx context.Context, locationID uuid.UUID, from, to time.Time) ([]BlackoutPeriod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, location_id, start_at, end_at, reason, kind, created_at
		FROM blackout_periods
		WHERE location_id = $1
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`, locationID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlackoutPeriod
	for rows.Next() {
		b, err := scanBlackout(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (r *PgRepository) DeleteBlackout(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM blackout_periods
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBlackoutNotFound
	}
	return nil
}

const slotColumns = `id, location_id, start_at, end_at, status, strict_count, strict_capacity, created_at, updated_at`

func (r *PgRepository) ListSlots(ctx context.Context, locationID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE location_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at
	`, locationID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) ReconcileSlots(ctx context.Context, locationID uuid.UUID, from, to time.Time, plan func(existing []Slot) ReconcilePlan) (int, int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE location_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at
	`, locationID, from, to)
	if err != nil {
		return 0, 0, fmt.Errorf("load slots: %w", err)
	}

	var existing []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			rows.Close()
			return 0, 0, err
		}
		existing = append(existing, *s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	p := plan(existing)

	if len(p.Delete) > 0 {
		// Status re-checked at delete time: a slot booked since the plan was
		// built must survive.
		_, err := tx.Exec(ctx, `
			DELETE FROM slots
			WHERE id = ANY($1)
			  AND status <> 'booked'
		`, p.Delete)
		if err != nil {
			return 0, 0, fmt.Errorf("delete slots: %w", err)
		}
	}

	for _, s := range p.Create {
		_, err := tx.Exec(ctx, `
			INSERT INTO slots
				(id, location_id, start_at, end_at, status, strict_count, strict_capacity, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			ON CONFLICT (location_id, start_at) DO NOTHING
		`, s.ID, s.LocationID, s.StartAt, s.EndAt, s.Status, s.StrictCount, s.StrictCapacity)
		if err != nil {
			return 0, 0, fmt.Errorf("insert slot at %s: %w", s.StartAt, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit reconcile tx: %w", err)
	}

	return len(p.Create), len(p.Delete), nil
}

func (r *PgRepository) BlockSlots(ctx context.Context, locationID uuid.UUID, from, to time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET status = 'emergency_block', updated_at = now()
		WHERE location_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		  AND status = 'available'
	`, locationID, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) UnblockSlots(ctx context.Context, locationID uuid.UUID, from, to time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET status = 'available', updated_at = now()
		WHERE location_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		  AND status = 'emergency_block'
	`, locationID, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
