package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caretide/clinic-scheduling/internal/audit"
	redisclient "github.com/caretide/clinic-scheduling/internal/redis"
)

var (
	// ErrReconcileBusy means another reconciliation holds the location lock.
	// Retryable: reconciliation is idempotent and can simply run again.
	ErrReconcileBusy = errors.New("reconciliation already running for this location")
)

// ReconcileReport summarizes one reconciliation invocation. Err carries a
// reconcile failure that followed an already-committed admin change; the
// admin change itself is never rolled back on account of it.
type ReconcileReport struct {
	LocationID uuid.UUID
	From       time.Time
	To         time.Time
	Created    int
	Deleted    int
	Err        error
}

type Service struct {
	repo        Repository
	locker      redisclient.Locker
	sink        audit.Sink
	log         zerolog.Logger
	horizonDays int
}

func NewService(repo Repository, locker redisclient.Locker, sink audit.Sink, log zerolog.Logger, horizonDays int) *Service {
	if horizonDays <= 0 {
		horizonDays = 30
	}
	return &Service{
		repo:        repo,
		locker:      locker,
		sink:        sink,
		log:         log.With().Str("component", "schedule").Logger(),
		horizonDays: horizonDays,
	}
}

type RuleInput struct {
	LocationID      uuid.UUID
	Weekday         time.Weekday
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	SlotDurationMin int
	MaxSlotsPerDay  *int
	StrictCapacity  int
	Available       bool
	Actor           string
}

// UpsertRule commits the rule, then reconciles the booking horizon. The two
// are deliberately independent transactions: a reconcile failure is reported
// in the returned report but leaves the rule change in place.
func (s *Service) UpsertRule(ctx context.Context, in RuleInput) (*ScheduleRule, *ReconcileReport, error) {
	rule := ScheduleRule{
		LocationID:      in.LocationID,
		Weekday:         in.Weekday,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		SlotDurationMin: in.SlotDurationMin,
		MaxSlotsPerDay:  in.MaxSlotsPerDay,
		StrictCapacity:  in.StrictCapacity,
		Available:       in.Available,
	}
	if err := rule.Validate(); err != nil {
		return nil, nil, err
	}

	saved, err := s.repo.UpsertRule(ctx, rule)
	if err != nil {
		return nil, nil, fmt.Errorf("upsert rule: %w", err)
	}

	report := s.reconcileHorizon(ctx, in.LocationID, in.Actor)
	return saved, report, nil
}

func (s *Service) ListRules(ctx context.Context, locationID uuid.UUID) ([]ScheduleRule, error) {
	return s.repo.ListRules(ctx, locationID)
}

func (s *Service) DeleteRule(ctx context.Context, locationID uuid.UUID, weekday time.Weekday, actor string) (*ReconcileReport, error) {
	if err := s.repo.DeleteRule(ctx, locationID, weekday); err != nil {
		return nil, err
	}
	return s.reconcileHorizon(ctx, locationID, actor), nil
}

type BlackoutInput struct {
	LocationID uuid.UUID
	StartAt    time.Time
	EndAt      time.Time
	Reason     string
	Kind       BlackoutKind
	Actor      string
}

func (s *Service) CreateBlackout(ctx context.Context, in BlackoutInput) (*BlackoutPeriod, *ReconcileReport, error) {
	kind := in.Kind
	if kind == "" {
		kind = BlackoutOther
	}
	b := BlackoutPeriod{
		LocationID: in.LocationID,
		StartAt:    in.StartAt,
		EndAt:      in.EndAt,
		Reason:     in.Reason,
		Kind:       kind,
	}
	if err := b.Validate(); err != nil {
		return nil, nil, err
	}

	saved, err := s.repo.CreateBlackout(ctx, b)
	if err != nil {
		return nil, nil, fmt.Errorf("create blackout: %w", err)
	}

	report := s.reconcileHorizon(ctx, in.LocationID, in.Actor)
	return saved, report, nil
}

func (s *Service) ListBlackouts(ctx context.Context, locationID uuid.UUID, from, to time.Time) ([]BlackoutPeriod, error) {
	return s.repo.ListBlackouts(ctx, locationID, from, to)
}

// DeleteBlackout removes the blackout and reconciles, which recreates the
// suppressed days' available slots without touching booked ones elsewhere.
func (s *Service) DeleteBlackout(ctx context.Context, id int64, actor string) (*ReconcileReport, error) {
	b, err := s.repo.GetBlackout(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteBlackout(ctx, id); err != nil {
		return nil, err
	}
	return s.reconcileHorizon(ctx, b.LocationID, actor), nil
}

// Reconcile brings the persisted slots for [from, to] (inclusive calendar
// days) into agreement with the current rules and blackouts. One transaction;
// serialized per location through the redis lock.
func (s *Service) Reconcile(ctx context.Context, locationID uuid.UUID, from, to time.Time, actor string) (*ReconcileReport, error) {
	loc, err := s.repo.GetLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	tz, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("location %s timezone %q: %w", locationID, loc.Timezone, err)
	}

	rangeStart := dayStart(from, tz)
	rangeEnd := dayStart(to, tz).AddDate(0, 0, 1)
	if !rangeStart.Before(rangeEnd) {
		return nil, fmt.Errorf("%w: reconcile range is empty", ErrInvalidInput)
	}

	report := &ReconcileReport{LocationID: locationID, From: rangeStart, To: rangeEnd}

	err = s.locker.WithLocationLock(ctx, locationID, func(ctx context.Context) error {
		rules, err := s.repo.ListRules(ctx, locationID)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		blackouts, err := s.repo.ListBlackouts(ctx, locationID, rangeStart, rangeEnd)
		if err != nil {
			return fmt.Errorf("load blackouts: %w", err)
		}

		created, deleted, err := s.repo.ReconcileSlots(ctx, locationID, rangeStart, rangeEnd, func(existing []Slot) ReconcilePlan {
			return BuildPlan(ReconcileInput{
				LocationID: locationID,
				TZ:         tz,
				From:       rangeStart,
				To:         to,
				Rules:      rules,
				Blackouts:  blackouts,
				Existing:   existing,
			})
		})
		if err != nil {
			return err
		}

		report.Created = created
		report.Deleted = deleted
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrReconcileBusy
		}
		return nil, err
	}

	s.log.Info().
		Str("location_id", locationID.String()).
		Time("from", rangeStart).
		Time("to", rangeEnd).
		Int("created", report.Created).
		Int("deleted", report.Deleted).
		Msg("slots reconciled")

	s.sink.Record(ctx, audit.Event{
		Type:       audit.EventScheduleReconciled,
		Actor:      actor,
		LocationID: &locationID,
		Detail: map[string]any{
			"from":    rangeStart,
			"to":      rangeEnd,
			"created": report.Created,
			"deleted": report.Deleted,
		},
	})

	return report, nil
}

// ReconcileAll reconciles the booking horizon for every active location.
// Used by the horizon worker; per-location failures are joined, not fatal.
func (s *Service) ReconcileAll(ctx context.Context, actor string) error {
	locations, err := s.repo.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("list locations: %w", err)
	}

	var errs []error
	for _, loc := range locations {
		if report := s.reconcileHorizon(ctx, loc.ID, actor); report.Err != nil {
			errs = append(errs, fmt.Errorf("location %s: %w", loc.ID, report.Err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) reconcileHorizon(ctx context.Context, locationID uuid.UUID, actor string) *ReconcileReport {
	now := time.Now()
	report, err := s.Reconcile(ctx, locationID, now, now.AddDate(0, 0, s.horizonDays), actor)
	if err != nil {
		s.log.Error().Err(err).Str("location_id", locationID.String()).Msg("reconcile after admin change failed")
		return &ReconcileReport{LocationID: locationID, Err: err}
	}
	return report
}

type BlockInput struct {
	LocationID uuid.UUID
	StartAt    time.Time
	EndAt      time.Time
	Reason     string
	Actor      string
}

// EmergencyBlock records an emergency blackout and flips every available slot
// in the range to emergency_block. Booked slots keep their bookings; the
// blackout prevents reconciliation from recreating slots while it stands.
func (s *Service) EmergencyBlock(ctx context.Context, in BlockInput) (*BlackoutPeriod, int64, error) {
	b := BlackoutPeriod{
		LocationID: in.LocationID,
		StartAt:    in.StartAt,
		EndAt:      in.EndAt,
		Reason:     in.Reason,
		Kind:       BlackoutEmergency,
	}
	if err := b.Validate(); err != nil {
		return nil, 0, err
	}

	saved, err := s.repo.CreateBlackout(ctx, b)
	if err != nil {
		return nil, 0, fmt.Errorf("create emergency blackout: %w", err)
	}

	blocked, err := s.repo.BlockSlots(ctx, in.LocationID, in.StartAt, in.EndAt)
	if err != nil {
		return saved, 0, fmt.Errorf("block slots: %w", err)
	}

	s.sink.Record(ctx, audit.Event{
		Type:       audit.EventEmergencyBlocked,
		Actor:      in.Actor,
		LocationID: &in.LocationID,
		Detail: map[string]any{
			"blackout_id": saved.ID,
			"start_at":    in.StartAt,
			"end_at":      in.EndAt,
			"blocked":     blocked,
			"reason":      in.Reason,
		},
	})

	return saved, blocked, nil
}

// Unblock reverses surviving emergency_block slots to available. The
// emergency blackout record, if any, is removed separately via
// DeleteBlackout so reconciliation stops suppressing the range.
func (s *Service) Unblock(ctx context.Context, locationID uuid.UUID, from, to time.Time, actor string) (int64, error) {
	unblocked, err := s.repo.UnblockSlots(ctx, locationID, from, to)
	if err != nil {
		return 0, fmt.Errorf("unblock slots: %w", err)
	}

	s.sink.Record(ctx, audit.Event{
		Type:       audit.EventEmergencyUnblocked,
		Actor:      actor,
		LocationID: &locationID,
		Detail: map[string]any{
			"start_at":  from,
			"end_at":    to,
			"unblocked": unblocked,
		},
	})

	return unblocked, nil
}

func (s *Service) ListSlots(ctx context.Context, locationID uuid.UUID, from, to time.Time) ([]Slot, error) {
	if _, err := s.repo.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}
	return s.repo.ListSlots(ctx, locationID, from, to)
}

func (s *Service) GetLocation(ctx context.Context, id uuid.UUID) (*Location, error) {
	return s.repo.GetLocation(ctx, id)
}
