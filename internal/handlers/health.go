package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/oakmarket/api/internal/domain"
	"github.com/oakmarket/api/internal/platform/httpx"
	"github.com/oakmarket/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises health handler construction.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService wires the system service used by the readiness probe.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo sets the build metadata reported by the probes.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the clock, mainly for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		h.clock = clock
	}
}

// NewHealthHandlers constructs the health probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// Healthz reports process liveness. It never consults dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    domain.HealthStatusOK,
		"uptime":    now.Sub(h.build.StartedAt).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if v := strings.TrimSpace(h.build.Version); v != "" {
		payload["version"] = v
	}
	if sha := strings.TrimSpace(h.build.CommitSHA); sha != "" {
		payload["commitSha"] = sha
	}
	if env := strings.TrimSpace(h.build.Environment); env != "" {
		payload["environment"] = env
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// Readyz probes dependencies through the system service and reports 503
// until everything required for serving traffic is reachable.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		// Without a system service readiness degenerates to liveness.
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_unavailable", "failed to collect health report", http.StatusServiceUnavailable))
		return
	}

	checks := make(map[string]map[string]any, len(report.Checks))
	details := make([]string, 0)
	for name, check := range report.Checks {
		entry := map[string]any{
			"status": check.Status,
		}
		if check.Latency > 0 {
			entry["latencyMs"] = check.Latency.Milliseconds()
		}
		if !check.CheckedAt.IsZero() {
			entry["checkedAt"] = formatTime(check.CheckedAt)
		}
		if strings.TrimSpace(check.Detail) != "" {
			entry["detail"] = check.Detail
		}
		if strings.TrimSpace(check.Error) != "" {
			entry["error"] = check.Error
			details = append(details, name+": "+check.Error)
		}
		checks[name] = entry
	}
	sort.Strings(details)

	payload := map[string]any{
		"status":      report.Status,
		"checks":      checks,
		"details":     details,
		"generatedAt": formatTime(report.GeneratedAt),
	}
	if report.Version != "" {
		payload["version"] = report.Version
	}
	if report.Environment != "" {
		payload["environment"] = report.Environment
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}
