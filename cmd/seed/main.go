package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caretide/clinic-scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	locationIDs, err := seedLocations(context.Background(), pool, 25)
	if err != nil {
		log.Fatalf("seed locations: %v", err)
	}
	if err := seedScheduleRules(context.Background(), pool, locationIDs); err != nil {
		log.Fatalf("seed schedule rules: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 9000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedLocations(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d locations", count)

	timezones := []string{
		"America/New_York",
		"America/Chicago",
		"America/Denver",
		"America/Los_Angeles",
		"Europe/London",
		"Asia/Kolkata",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.City() + " Clinic"
		tz := timezones[gofakeit.Number(0, len(timezones)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO locations (id, name, timezone, active, created_at, updated_at)
			VALUES ($1, $2, $3, true, now(), now())
		`, id, name, tz)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("locations seeded")
	return ids, nil
}

// seedScheduleRules gives every location a Monday-Friday template. About a
// third of the rules get strict capacity above one, and a few get a daily cap,
// so both booking modes have something to exercise.
func seedScheduleRules(ctx context.Context, pool *pgxpool.Pool, locationIDs []uuid.UUID) error {
	log.Printf("seeding schedule rules for %d locations", len(locationIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	durations := []int{10, 15, 20, 30}

	for _, locID := range locationIDs {
		for weekday := 1; weekday <= 5; weekday++ {
			duration := durations[gofakeit.Number(0, len(durations)-1)]
			capacity := 1
			if gofakeit.Number(0, 2) == 0 {
				capacity = gofakeit.Number(2, 4)
			}

			var maxSlots any
			if gofakeit.Number(0, 4) == 0 {
				maxSlots = gofakeit.Number(8, 20)
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO schedule_rules
					(id, location_id, weekday, start_time, end_time,
					 slot_duration_min, max_slots_per_day, strict_capacity, available,
					 created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, now(), now())
				ON CONFLICT (location_id, weekday) DO NOTHING
			`, uuid.New(), locID, weekday, "09:00", "17:00", duration, maxSlots, capacity)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("schedule rules seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
