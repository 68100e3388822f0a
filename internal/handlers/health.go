package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"
)

// Check probes one dependency
type Check func(ctx context.Context) error

// Health serves liveness and readiness
type Health struct {
	checks   map[string]Check
	draining atomic.Bool
}

func NewHealth(checks map[string]Check) *Health {
	if checks == nil {
		checks = map[string]Check{}
	}
	return &Health{checks: checks}
}

// Drain makes readiness fail so load balancers stop routing during shutdown
func (h *Health) Drain() {
	h.draining.Store(true)
}

// Live always answers ok while the process serves requests
func (h *Health) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready runs every check
func (h *Health) Ready(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "draining"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "unavailable"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": results})
}
