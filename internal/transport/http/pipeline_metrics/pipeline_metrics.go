package pipelinemetrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/casefront/outbound/internal/service/services/metricssvc"
)

// service is an interface for the service layer.
type service interface {
	ComputeOverview(ctx context.Context, orgID int64, from, to time.Time) (*metricssvc.Overview, error)
}

// Overview handles the pipeline metrics request. Query params: org
// (required), from/to (RFC 3339, default last 24h).
func Overview(w http.ResponseWriter, r *http.Request, service service) {
	orgID, err := strconv.ParseInt(r.URL.Query().Get("org"), 10, 64)
	if err != nil || orgID <= 0 {
		http.Error(w, "org query parameter is required", http.StatusBadRequest)

		return
	}

	var from, to time.Time
	if s := r.URL.Query().Get("from"); s != "" {
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			http.Error(w, "invalid from: "+err.Error(), http.StatusBadRequest)

			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			http.Error(w, "invalid to: "+err.Error(), http.StatusBadRequest)

			return
		}
	}

	overview, err := service.ComputeOverview(r.Context(), orgID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error computing pipeline overview", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(overview); err != nil {
		slog.Error("Error encoding pipeline overview", "error", err)
	}
}
