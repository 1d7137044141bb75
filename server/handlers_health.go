package server

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/nomi-bridge/db"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed checks.
// Readiness requires the database plus the credentials a poll pass needs.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"credentials", func() error { return h.cfg.ValidatePollReady() }},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports operational state: tracked selections, the last poll
// run, and recent record volume.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sels, err := h.store.ListSelections(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read selections")
		return
	}
	var recordCount int
	_ = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_messages`).Scan(&recordCount)

	writeJSON(w, http.StatusOK, map[string]any{
		"selections":    sels,
		"last_poll":     db.GetKV(ctx, h.db, "job_poll_last"),
		"records_total": recordCount,
		"poll_ready":    h.cfg.ValidatePollReady() == nil,
	})
}
