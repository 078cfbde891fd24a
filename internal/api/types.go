package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/caretide/clinic-scheduling/internal/booking"
	"github.com/caretide/clinic-scheduling/internal/schedule"
)

// Requests

type BookSlotRequest struct {
	LocationID string `json:"location_id" validate:"required,uuid4"`
	StartAt    string `json:"start_at" validate:"required"`
	PatientID  string `json:"patient_id" validate:"required,uuid4"`
	Mode       string `json:"mode" validate:"required,oneof=strict walk_in"`
	Confirmed  bool   `json:"confirmed"`
}

type ScheduleRuleRequest struct {
	Weekday         int    `json:"weekday" validate:"min=0,max=6"`
	StartTime       string `json:"start_time" validate:"required"`
	EndTime         string `json:"end_time" validate:"required"`
	SlotDurationMin int    `json:"slot_duration_min"`
	MaxSlotsPerDay  *int   `json:"max_slots_per_day"`
	StrictCapacity  int    `json:"strict_capacity" validate:"min=1"`
	Available       bool   `json:"available"`
}

type BlackoutRequest struct {
	StartAt time.Time `json:"start_at" validate:"required"`
	EndAt   time.Time `json:"end_at" validate:"required"`
	Reason  string    `json:"reason"`
	Kind    string    `json:"kind" validate:"omitempty,oneof=vacation emergency maintenance other"`
}

type DateRangeRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

type EmergencyBlockRequest struct {
	StartAt time.Time `json:"start_at" validate:"required"`
	EndAt   time.Time `json:"end_at" validate:"required"`
	Reason  string    `json:"reason" validate:"required"`
}

type UnblockRequest struct {
	StartAt time.Time `json:"start_at" validate:"required"`
	EndAt   time.Time `json:"end_at" validate:"required"`
}

type ExternalRefRequest struct {
	ExternalRef string `json:"external_ref" validate:"required"`
}

// Responses

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	LocationID  uuid.UUID  `json:"location_id"`
	SlotID      *uuid.UUID `json:"slot_id,omitempty"`
	StartAt     time.Time  `json:"start_at"`
	EndAt       time.Time  `json:"end_at"`
	DurationMin int        `json:"duration_min"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	ExternalRef *string    `json:"external_ref,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		LocationID:  a.LocationID,
		SlotID:      a.SlotID,
		StartAt:     a.StartAt,
		EndAt:       a.EndAt,
		DurationMin: a.DurationMin,
		Mode:        string(a.Mode),
		Status:      string(a.Status),
		ExternalRef: a.ExternalRef,
		CancelledAt: a.CancelledAt,
	}
}

type SlotResponse struct {
	ID             uuid.UUID `json:"id"`
	LocationID     uuid.UUID `json:"location_id"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Status         string    `json:"status"`
	StrictCount    int       `json:"strict_count"`
	StrictCapacity int       `json:"strict_capacity"`
}

func toSlotResponse(s schedule.Slot) SlotResponse {
	return SlotResponse{
		ID:             s.ID,
		LocationID:     s.LocationID,
		StartAt:        s.StartAt,
		EndAt:          s.EndAt,
		Status:         string(s.Status),
		StrictCount:    s.StrictCount,
		StrictCapacity: s.StrictCapacity,
	}
}

type ScheduleRuleResponse struct {
	ID              uuid.UUID `json:"id"`
	LocationID      uuid.UUID `json:"location_id"`
	Weekday         int       `json:"weekday"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	SlotDurationMin int       `json:"slot_duration_min"`
	MaxSlotsPerDay  *int      `json:"max_slots_per_day,omitempty"`
	StrictCapacity  int       `json:"strict_capacity"`
	Available       bool      `json:"available"`
}

func toRuleResponse(r *schedule.ScheduleRule) ScheduleRuleResponse {
	return ScheduleRuleResponse{
		ID:              r.ID,
		LocationID:      r.LocationID,
		Weekday:         int(r.Weekday),
		StartTime:       r.StartTime.String(),
		EndTime:         r.EndTime.String(),
		SlotDurationMin: r.SlotDurationMin,
		MaxSlotsPerDay:  r.MaxSlotsPerDay,
		StrictCapacity:  r.StrictCapacity,
		Available:       r.Available,
	}
}

type BlackoutResponse struct {
	ID         int64     `json:"id"`
	LocationID uuid.UUID `json:"location_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	Reason     string    `json:"reason"`
	Kind       string    `json:"kind"`
}

func toBlackoutResponse(b *schedule.BlackoutPeriod) BlackoutResponse {
	return BlackoutResponse{
		ID:         b.ID,
		LocationID: b.LocationID,
		StartAt:    b.StartAt,
		EndAt:      b.EndAt,
		Reason:     b.Reason,
		Kind:       string(b.Kind),
	}
}

// ReconcileResponse reports the slot changes an admin mutation caused. A
// non-empty warning means the mutation committed but reconciliation failed
// and should be retried.
type ReconcileResponse struct {
	Created int    `json:"created"`
	Deleted int    `json:"deleted"`
	Warning string `json:"warning,omitempty"`
}

func toReconcileResponse(r *schedule.ReconcileReport) *ReconcileResponse {
	if r == nil {
		return nil
	}
	resp := &ReconcileResponse{Created: r.Created, Deleted: r.Deleted}
	if r.Err != nil {
		resp.Warning = "reconciliation failed and will be retried: " + r.Err.Error()
	}
	return resp
}
