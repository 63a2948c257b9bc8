package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/platform/httpx"
	"github.com/mercado-field/api/internal/platform/observability"
)

// HealthReporter produces dependency readiness reports.
type HealthReporter interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// BuildInfo identifies the running binary in /healthz responses.
type BuildInfo struct {
	Version   string
	CommitSHA string
	StartedAt time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	reporter HealthReporter
	build    BuildInfo
	clock    func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthReporter sets the source of readiness reports. Without one /readyz always reports ok.
func WithHealthReporter(reporter HealthReporter) HealthOption {
	return func(h *HealthHandlers) {
		h.reporter = reporter
	}
}

// WithHealthBuildInfo sets the build metadata echoed by /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock, mostly for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthPayload struct {
	Status    string                        `json:"status"`
	Version   string                        `json:"version,omitempty"`
	CommitSHA string                        `json:"commitSha,omitempty"`
	Uptime    string                        `json:"uptime"`
	Timestamp string                        `json:"timestamp"`
	Checks    map[string]healthCheckPayload `json:"checks,omitempty"`
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Healthz reports process liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	httpx.WriteJSON(w, http.StatusOK, healthPayload{
		Status:    domain.HealthStatusOK,
		Version:   h.build.Version,
		CommitSHA: h.build.CommitSHA,
		Uptime:    now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp: formatTime(now),
	})
}

// Readyz runs the dependency probes. A critical failure answers 503; degraded dependencies still answer 200.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	payload := healthPayload{
		Status:    domain.HealthStatusOK,
		Uptime:    now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp: formatTime(now),
	}
	if h.reporter == nil {
		httpx.WriteJSON(w, http.StatusOK, payload)
		return
	}

	report, err := h.reporter.Collect(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).Error("health report failed", zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError("health_unavailable", "unable to collect health report", http.StatusServiceUnavailable))
		return
	}

	payload.Status = report.Status
	if !report.GeneratedAt.IsZero() {
		payload.Timestamp = formatTime(report.GeneratedAt)
	}
	payload.Checks = make(map[string]healthCheckPayload, len(report.Checks))
	for name, check := range report.Checks {
		payload.Checks[name] = healthCheckPayload{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, payload)
}
