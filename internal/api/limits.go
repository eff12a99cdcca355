package api

import (
	"net/http"
	"time"

	"github.com/aegis-ai/warden/internal/ratelimit"
)

// handleGetLimit implements GET /api/warden/limits/{service}: the
// resolved quota for a service plus the live window state.
func (d *Dependencies) handleGetLimit(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	cfg := ratelimit.Lookup(service, d.RateOverrides)

	used, startedAt, tracked := d.Engine.Limiter().Snapshot(service)
	remaining := cfg.MaxActions - used
	if remaining < 0 {
		remaining = 0
	}

	var windowStart *time.Time
	if tracked {
		windowStart = &startedAt
	}

	writeJSON(w, http.StatusOK, LimitResp{
		Service:         cfg.Service,
		MaxActions:      cfg.MaxActions,
		WindowMinutes:   cfg.WindowMinutes,
		Used:            used,
		Remaining:       remaining,
		WindowStartedAt: windowStart,
	})
}

// handleResetLimit implements POST /api/warden/limits/{service}/reset:
// clears the service window immediately, regardless of expiry.
func (d *Dependencies) handleResetLimit(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	d.Engine.Limiter().Reset(service)
	w.WriteHeader(http.StatusNoContent)
}
