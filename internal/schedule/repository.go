package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrRuleNotFound     = errors.New("schedule rule not found")
	ErrBlackoutNotFound = errors.New("blackout period not found")
	ErrInvalidInput     = errors.New("invalid input")
)

// Repository contains all DB interactions needed by the schedule service.
type Repository interface {
	GetLocation(ctx context.Context, id uuid.UUID) (*Location, error)
	ListLocations(ctx context.Context) ([]Location, error)

	UpsertRule(ctx context.Context, rule ScheduleRule) (*ScheduleRule, error)
	ListRules(ctx context.Context, locationID uuid.UUID) ([]ScheduleRule, error)
	DeleteRule(ctx context.Context, locationID uuid.UUID, weekday time.Weekday) error

	CreateBlackout(ctx context.Context, b BlackoutPeriod) (*BlackoutPeriod, error)
	GetBlackout(ctx context.Context, id int64) (*BlackoutPeriod, error)
	ListBlackouts(ctx context.Context, locationID uuid.UUID, from, to time.Time) ([]BlackoutPeriod, error)
	DeleteBlackout(ctx context.Context, id int64) error

	ListSlots(ctx context.Context, locationID uuid.UUID, from, to time.Time) ([]Slot, error)

	// ReconcileSlots loads the persisted slots for the range inside one
	// transaction, asks plan for the changes, and applies them atomically.
	// Any error rolls back the whole invocation.
	ReconcileSlots(ctx context.Context, locationID uuid.UUID, from, to time.Time, plan func(existing []Slot) ReconcilePlan) (created, deleted int, err error)

	// BlockSlots flips available slots in the range to emergency_block;
	// UnblockSlots reverses surviving emergency_block slots to available.
	// Booked slots are left alone by both.
	BlockSlots(ctx context.Context, locationID uuid.UUID, from, to time.Time) (int64, error)
	UnblockSlots(ctx context.Context, locationID uuid.UUID, from, to time.Time) (int64, error)
}
