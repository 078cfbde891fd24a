package api

import (
	"context"
	"net/http"

	"github.com/caretide/clinic-scheduling/internal/booking"
)

// ConsistencyAuditor exposes the slot/appointment divergence routines.
type ConsistencyAuditor interface {
	Check(ctx context.Context) ([]booking.Anomaly, error)
	Fix(ctx context.Context) ([]booking.Correction, error)
}

func consistencyCheckHandler(auditor ConsistencyAuditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		anomalies, err := auditor.Check(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Anomalies []booking.Anomaly `json:"anomalies"`
			Count     int               `json:"count"`
		}{anomalies, len(anomalies)})
	}
}

func consistencyFixHandler(auditor ConsistencyAuditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corrections, err := auditor.Fix(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Corrections []booking.Correction `json:"corrections"`
			Count       int                  `json:"count"`
		}{corrections, len(corrections)})
	}
}
