package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Event types recorded by the core. The taxonomy of downstream compliance
// logging lives outside this service; these records only attribute who did
// what to which slot or appointment.
const (
	EventBookingCreated     = "BOOKING_CREATED"
	EventBookingCancelled   = "BOOKING_CANCELLED"
	EventScheduleReconciled = "SCHEDULE_RECONCILED"
	EventEmergencyBlocked   = "EMERGENCY_BLOCKED"
	EventEmergencyUnblocked = "EMERGENCY_UNBLOCKED"
	EventConsistencyFixed   = "CONSISTENCY_FIXED"
)

type Event struct {
	Type       string
	Actor      string
	SubjectID  *uuid.UUID // appointment or slot id, when one applies
	LocationID *uuid.UUID
	Detail     map[string]any
	CreatedAt  time.Time
}

// Sink accepts audit events. Implementations are best-effort: a failed write
// must never roll back or fail the operation that produced the event.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// PgSink writes events to the event_logs table. Errors are logged and
// swallowed.
type PgSink struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPgSink(pool *pgxpool.Pool, log zerolog.Logger) *PgSink {
	return &PgSink{pool: pool, log: log.With().Str("component", "audit").Logger()}
}

func (s *PgSink) Record(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev.Detail)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", ev.Type).Msg("marshal audit payload")
		payload = nil
	}

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, actor, subject_id, location_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.Type, ev.Actor, ev.SubjectID, ev.LocationID, payload, createdAt)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", ev.Type).Msg("insert audit event")
	}
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}
