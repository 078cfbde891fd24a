package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caretide/clinic-scheduling/internal/schedule"
)

// ScheduleService is the slice of the schedule service the admin handlers
// need.
type ScheduleService interface {
	UpsertRule(ctx context.Context, in schedule.RuleInput) (*schedule.ScheduleRule, *schedule.ReconcileReport, error)
	ListRules(ctx context.Context, locationID uuid.UUID) ([]schedule.ScheduleRule, error)
	DeleteRule(ctx context.Context, locationID uuid.UUID, weekday time.Weekday, actor string) (*schedule.ReconcileReport, error)
	CreateBlackout(ctx context.Context, in schedule.BlackoutInput) (*schedule.BlackoutPeriod, *schedule.ReconcileReport, error)
	ListBlackouts(ctx context.Context, locationID uuid.UUID, from, to time.Time) ([]schedule.BlackoutPeriod, error)
	DeleteBlackout(ctx context.Context, id int64, actor string) (*schedule.ReconcileReport, error)
	Reconcile(ctx context.Context, locationID uuid.UUID, from, to time.Time, actor string) (*schedule.ReconcileReport, error)
	EmergencyBlock(ctx context.Context, in schedule.BlockInput) (*schedule.BlackoutPeriod, int64, error)
	Unblock(ctx context.Context, locationID uuid.UUID, from, to time.Time, actor string) (int64, error)
	ListSlots(ctx context.Context, locationID uuid.UUID, from, to time.Time) ([]schedule.Slot, error)
}

func upsertRuleHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, ok := locationParam(w, r)
		if !ok {
			return
		}

		var req ScheduleRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		startTime, err := schedule.ParseTimeOfDay(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be HH:MM")
			return
		}
		endTime, err := schedule.ParseTimeOfDay(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be HH:MM")
			return
		}

		rule, report, err := svc.UpsertRule(r.Context(), schedule.RuleInput{
			LocationID:      locationID,
			Weekday:         time.Weekday(req.Weekday),
			StartTime:       startTime,
			EndTime:         endTime,
			SlotDurationMin: req.SlotDurationMin,
			MaxSlotsPerDay:  req.MaxSlotsPerDay,
			StrictCapacity:  req.StrictCapacity,
			Available:       req.Available,
			Actor:           actorFrom(r),
		})
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Rule      ScheduleRuleResponse `json:"rule"`
			Reconcile *ReconcileResponse   `json:"reconcile,omitempty"`
		}{toRuleResponse(rule), toReconcileResponse(report)})
	}
}

func listRulesHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, ok := locationParam(w, r)
		if !ok {
			return
		}

		rules, err := svc.ListRules(r.Context(), locationID)
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		resp := make([]ScheduleRuleResponse, 0, len(rules))
		for i := range rules {
			resp = append(resp, toRuleResponse(&rules[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deleteRuleHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, ok := locationParam(w, r)
		if !ok {
			return
		}
		weekday, err := strconv.Atoi(chi.URLParam(r, "weekday"))
		if err != nil || weekday < 0 || weekday > 6 {
			writeError(w, http.StatusBadRequest, "invalid_weekday", "weekday must be 0 (Sunday) through 6 (Saturday)")
			return
		}

		report, err := svc.DeleteRule(r.Context(), locationID, time.Weekday(weekday), actorFrom(r))
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Reconcile *ReconcileResponse `json:"reconcile,omitempty"`
		}{toReconcileResponse(report)})
	}
}

func createBlackoutHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, ok := locationParam(w, r)
		if !ok {
			return
		}

		var req BlackoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		blackout, report, err := svc.CreateBlackout(r.Context(), schedule.BlackoutInput{
			LocationID: locationID,
			StartAt:    req.StartAt,
			EndAt:      req.EndAt,
			Reason:     req.Reason,
			Kind:       schedule.BlackoutKind(req.Kind),
			Actor:      actorFrom(r),
		})
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			Blackout  BlackoutResponse   `json:"blackout"`
			Reconcile *ReconcileResponse `json:"reconcile,omitempty"`
		}{toBlackoutResponse(blackout), toReconcileResponse(report)})
	}
}

func listBlackoutsHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, ok := locationParam(w, r)
		if !ok {
			return
		}
		from, to, ok := rangeParams(w, r)
		if !ok {
			return
		}

		blackouts, err := svc.ListBlackouts(r.Context(), locationID, from, to)
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		resp := make([]BlackoutResponse, 0, len(blackouts))
		for i := range blackouts {
			resp = append(resp, toBlackoutResponse(&blackouts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deleteBlackoutHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_blackout_id", "id must be an integer")
			return
		}

		report, err := svc.DeleteBlackout(r.Context(), id, actorFrom(r))
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Reconcile *ReconcileResponse `json:"reconcile,omitempty"`
		}{toReconcileResponse(report)})
	}
}

func reconcileHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, ok := locationParam(w, r)
		if !ok {
			return
		}

		var req DateRangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		from, _ := time.Parse("2006-01-02", req.From)
		to, _ := time.Parse("2006-01-02", req.To)

		report, err := svc.Reconcile(r.Context(), locationID, from, to, actorFrom(r))
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReconcileResponse(report))
	}
}

func emergencyBlockHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, ok := locationParam(w, r)
		if !ok {
			return
		}

		var req EmergencyBlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		blackout, blocked, err := svc.EmergencyBlock(r.Context(), schedule.BlockInput{
			LocationID: locationID,
			StartAt:    req.StartAt,
			EndAt:      req.EndAt,
			Reason:     req.Reason,
			Actor:      actorFrom(r),
		})
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Blackout BlackoutResponse `json:"blackout"`
			Blocked  int64            `json:"blocked_slots"`
		}{toBlackoutResponse(blackout), blocked})
	}
}

func unblockHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, ok := locationParam(w, r)
		if !ok {
			return
		}

		var req UnblockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		unblocked, err := svc.Unblock(r.Context(), locationID, req.StartAt, req.EndAt, actorFrom(r))
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Unblocked int64 `json:"unblocked_slots"`
		}{unblocked})
	}
}

func listSlotsHandler(svc ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, ok := locationParam(w, r)
		if !ok {
			return
		}
		from, to, ok := rangeParams(w, r)
		if !ok {
			return
		}

		slots, err := svc.ListSlots(r.Context(), locationID, from, to)
		if err != nil {
			handleScheduleError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrLocationNotFound):
		writeError(w, http.StatusNotFound, "location_not_found", err.Error())
	case errors.Is(err, schedule.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "rule_not_found", err.Error())
	case errors.Is(err, schedule.ErrBlackoutNotFound):
		writeError(w, http.StatusNotFound, "blackout_not_found", err.Error())
	case errors.Is(err, schedule.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, schedule.ErrReconcileBusy):
		writeError(w, http.StatusConflict, "reconcile_busy", "a reconciliation is already running for this location, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

func locationParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_location_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// rangeParams parses ?from= and ?to= as civil dates, defaulting to today and
// today+30d.
func rangeParams(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	now := time.Now()
	from := now.Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, 30)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		to = parsed.AddDate(0, 0, 1) // inclusive end date
	}
	return from, to, true
}
