package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caretide/clinic-scheduling/internal/audit"
	"github.com/caretide/clinic-scheduling/internal/schedule"
)

type AnomalyKind string

const (
	// AnomalyOrphanBooked is a slot marked booked with no active appointment
	// referencing it.
	AnomalyOrphanBooked AnomalyKind = "orphan_booked"
	// AnomalyCountDrift is a slot whose strict counter disagrees with the
	// active strict appointments actually referencing it.
	AnomalyCountDrift AnomalyKind = "count_drift"
)

type Anomaly struct {
	Kind         AnomalyKind         `json:"kind"`
	SlotID       uuid.UUID           `json:"slot_id"`
	LocationID   uuid.UUID           `json:"location_id"`
	StartAt      time.Time           `json:"start_at"`
	Status       schedule.SlotStatus `json:"status"`
	StrictCount  int                 `json:"strict_count"`
	ActiveStrict int                 `json:"active_strict"`
}

type Correction struct {
	SlotID uuid.UUID `json:"slot_id"`
	Field  string    `json:"field"` // "status" or "strict_count"
	Prior  string    `json:"prior"`
	New    string    `json:"new"`
}

// Auditor detects and optionally repairs divergence between slot state and
// appointment state.
type Auditor struct {
	repo Repository
	sink audit.Sink
	log  zerolog.Logger
}

func NewAuditor(repo Repository, sink audit.Sink, log zerolog.Logger) *Auditor {
	return &Auditor{
		repo: repo,
		sink: sink,
		log:  log.With().Str("component", "auditor").Logger(),
	}
}

// Check reports anomalies without mutating anything.
func (a *Auditor) Check(ctx context.Context) ([]Anomaly, error) {
	stats, err := a.repo.SlotStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load slot stats: %w", err)
	}
	return findAnomalies(stats), nil
}

func findAnomalies(stats []SlotStat) []Anomaly {
	var anomalies []Anomaly
	for _, st := range stats {
		if st.Status == schedule.SlotBooked && st.ActiveTotal == 0 {
			anomalies = append(anomalies, Anomaly{
				Kind:         AnomalyOrphanBooked,
				SlotID:       st.SlotID,
				LocationID:   st.LocationID,
				StartAt:      st.StartAt,
				Status:       st.Status,
				StrictCount:  st.StrictCount,
				ActiveStrict: st.ActiveStrict,
			})
		}
		if st.StrictCount != st.ActiveStrict {
			anomalies = append(anomalies, Anomaly{
				Kind:         AnomalyCountDrift,
				SlotID:       st.SlotID,
				LocationID:   st.LocationID,
				StartAt:      st.StartAt,
				Status:       st.Status,
				StrictCount:  st.StrictCount,
				ActiveStrict: st.ActiveStrict,
			})
		}
	}
	return anomalies
}

// Fix applies the minimal correction for every anomaly: orphan-booked slots
// revert to available, drifted counters are recomputed from the active strict
// appointments. Each slot is re-locked and re-checked inside its own
// transaction, so a booking that lands between Check and Fix wins and the
// stale correction is skipped. Running Fix twice with no intervening bookings
// yields zero corrections the second time.
func (a *Auditor) Fix(ctx context.Context) ([]Correction, error) {
	anomalies, err := a.Check(ctx)
	if err != nil {
		return nil, err
	}

	corrections := make([]Correction, 0, len(anomalies))
	for _, an := range anomalies {
		applied, err := a.fixOne(ctx, an)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) || errors.Is(err, ErrSlotBusy) {
				a.log.Warn().Err(err).Str("slot_id", an.SlotID.String()).Msg("skipping correction")
				continue
			}
			return corrections, err
		}
		corrections = append(corrections, applied...)
	}

	if len(corrections) > 0 {
		a.sink.Record(ctx, audit.Event{
			Type:  audit.EventConsistencyFixed,
			Actor: "auditor",
			Detail: map[string]any{
				"corrections": corrections,
			},
		})
	}

	return corrections, nil
}

func (a *Auditor) fixOne(ctx context.Context, an Anomaly) ([]Correction, error) {
	var applied []Correction

	err := a.repo.WithSlotTx(ctx, func(ctx context.Context, tx SlotTx) error {
		slot, err := tx.LockSlotByID(ctx, an.SlotID)
		if err != nil {
			return err
		}

		activeTotal, activeStrict, err := tx.CountActive(ctx, slot.ID)
		if err != nil {
			return fmt.Errorf("count active appointments: %w", err)
		}

		status := slot.Status
		count := slot.StrictCount

		if slot.Status == schedule.SlotBooked && activeTotal == 0 {
			status = schedule.SlotAvailable
			applied = append(applied, Correction{
				SlotID: slot.ID,
				Field:  "status",
				Prior:  string(slot.Status),
				New:    string(status),
			})
		}
		if slot.StrictCount != activeStrict {
			count = activeStrict
			applied = append(applied, Correction{
				SlotID: slot.ID,
				Field:  "strict_count",
				Prior:  fmt.Sprintf("%d", slot.StrictCount),
				New:    fmt.Sprintf("%d", count),
			})
		}

		if len(applied) == 0 {
			return nil
		}
		return tx.UpdateSlotState(ctx, slot.ID, status, count)
	})
	if err != nil {
		applied = nil
		return nil, err
	}

	return applied, nil
}
