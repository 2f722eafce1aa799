package handlers

import (
	"net/http"
	"time"

	"brandgen/internal/queue"
)

// StatsSummary reports queue depth per queue and, when usage is recorded,
// provider attempts over the last 24 hours.
func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	queues := make(map[string]queue.Stats)
	for _, spec := range queue.Specs() {
		st, err := a.Queue.Stats(r.Context(), spec.Name)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		queues[spec.Name] = st
	}
	resp := map[string]any{"queues": queues}
	if a.Usage != nil {
		usage, err := a.Usage.UsageSince(r.Context(), time.Now().Add(-24*time.Hour))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		resp["usage_last_24h"] = usage
	}
	a.json(w, http.StatusOK, resp)
}
