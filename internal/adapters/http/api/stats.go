package api

import (
	"maps"
	"net/http"
	"time"
)

// StatsProvider reports a snapshot of the service's adapters and workers.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves StatsProvider snapshots.
type StatsHandler struct {
	provider StatsProvider
	now      func() time.Time
}

// NewStatsHandler creates a stats handler reading from provider.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider, now: time.Now}
}

// HandleStats handles GET /stats. The snapshot is stamped with the time it
// was taken and is never cached.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	snapshot := maps.Clone(h.provider.GetStats())
	if snapshot == nil {
		snapshot = make(map[string]interface{}, 1)
	}
	snapshot["taken_at"] = h.now().UTC().Format(time.RFC3339Nano)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, snapshot)
}
