package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the schema. Statements are idempotent so the server can run
// this unconditionally at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		timezone   text NOT NULL DEFAULT 'UTC',
		active     boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS patients (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		email      text,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS schedule_rules (
		id                uuid PRIMARY KEY,
		location_id       uuid NOT NULL REFERENCES locations(id),
		weekday           smallint NOT NULL CHECK (weekday BETWEEN 0 AND 6),
		start_time        text NOT NULL,
		end_time          text NOT NULL,
		slot_duration_min integer NOT NULL DEFAULT 15,
		max_slots_per_day integer,
		strict_capacity   integer NOT NULL DEFAULT 1,
		available         boolean NOT NULL DEFAULT true,
		created_at        timestamptz NOT NULL DEFAULT now(),
		updated_at        timestamptz NOT NULL DEFAULT now(),
		UNIQUE (location_id, weekday)
	)`,

	`CREATE TABLE IF NOT EXISTS blackout_periods (
		id          bigserial PRIMARY KEY,
		location_id uuid NOT NULL REFERENCES locations(id),
		start_at    timestamptz NOT NULL,
		end_at      timestamptz NOT NULL,
		reason      text NOT NULL DEFAULT '',
		kind        text NOT NULL DEFAULT 'other',
		created_at  timestamptz NOT NULL DEFAULT now(),
		CHECK (start_at < end_at)
	)`,

	`CREATE INDEX IF NOT EXISTS blackout_periods_location_range_idx
		ON blackout_periods (location_id, start_at, end_at)`,

	`CREATE TABLE IF NOT EXISTS slots (
		id              uuid PRIMARY KEY,
		location_id     uuid NOT NULL REFERENCES locations(id),
		start_at        timestamptz NOT NULL,
		end_at          timestamptz NOT NULL,
		status          text NOT NULL DEFAULT 'available',
		strict_count    integer NOT NULL DEFAULT 0,
		strict_capacity integer NOT NULL DEFAULT 1,
		created_at      timestamptz NOT NULL DEFAULT now(),
		updated_at      timestamptz NOT NULL DEFAULT now(),
		UNIQUE (location_id, start_at),
		CHECK (strict_count >= 0 AND strict_count <= strict_capacity)
	)`,

	`CREATE INDEX IF NOT EXISTS slots_location_status_idx
		ON slots (location_id, status, start_at)`,

	`CREATE TABLE IF NOT EXISTS appointments (
		id           uuid PRIMARY KEY,
		patient_id   uuid NOT NULL REFERENCES patients(id),
		location_id  uuid NOT NULL REFERENCES locations(id),
		slot_id      uuid REFERENCES slots(id) ON DELETE SET NULL,
		start_at     timestamptz NOT NULL,
		end_at       timestamptz NOT NULL,
		duration_min integer NOT NULL,
		mode         text NOT NULL,
		status       text NOT NULL DEFAULT 'scheduled',
		booked_by    text NOT NULL DEFAULT '',
		external_ref text,
		created_at   timestamptz NOT NULL DEFAULT now(),
		updated_at   timestamptz NOT NULL DEFAULT now(),
		confirmed_at timestamptz,
		cancelled_at timestamptz,
		completed_at timestamptz
	)`,

	`CREATE INDEX IF NOT EXISTS appointments_slot_idx ON appointments (slot_id)`,
	`CREATE INDEX IF NOT EXISTS appointments_patient_idx ON appointments (patient_id, start_at DESC)`,

	`CREATE TABLE IF NOT EXISTS event_logs (
		id          bigserial PRIMARY KEY,
		event_type  text NOT NULL,
		actor       text NOT NULL DEFAULT '',
		subject_id  uuid,
		location_id uuid,
		payload     jsonb,
		created_at  timestamptz NOT NULL DEFAULT now()
	)`,
}
