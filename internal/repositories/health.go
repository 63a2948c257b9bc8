package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/mercado-field/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe checks one backing dependency (database, cache, bucket) for readiness.
type Probe struct {
	Name    string
	Timeout time.Duration
	// Critical probes turn the report to error when they fail; others only degrade it.
	Critical bool
	Check    func(context.Context) error
}

// ProbeOption customises NewProbeHealthRepository.
type ProbeOption func(*probeHealthRepository)

// WithProbeTimeout overrides the timeout used by probes without their own.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(repo *probeHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithProbeClock injects a clock, mostly for tests.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(repo *probeHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type probeHealthRepository struct {
	probes         []Probe
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository builds a HealthRepository that runs probes concurrently on every Collect.
func NewProbeHealthRepository(probes []Probe, opts ...ProbeOption) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one probe is required")
	}
	seen := make(map[string]struct{}, len(probes))
	for _, probe := range probes {
		name := strings.TrimSpace(probe.Name)
		if name == "" {
			return nil, errors.New("health repository: probe name is required")
		}
		if probe.Check == nil {
			return nil, fmt.Errorf("health repository: probe %s has no check", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate probe %s", name)
		}
		seen[name] = struct{}{}
	}

	repo := &probeHealthRepository{
		probes:         append([]Probe(nil), probes...),
		defaultTimeout: defaultProbeTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *probeHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]domain.HealthCheck, len(r.probes))
		status  = domain.HealthStatusOK
	)

	// Probe failures are recorded in the report; the group never aborts early.
	var group errgroup.Group
	for _, probe := range r.probes {
		group.Go(func() error {
			check := r.run(ctx, probe)
			mu.Lock()
			defer mu.Unlock()
			results[probe.Name] = check
			switch {
			case check.Status == domain.HealthStatusOK:
			case probe.Critical || check.Status == domain.HealthStatusError:
				status = domain.HealthStatusError
			case status == domain.HealthStatusOK:
				status = domain.HealthStatusDegraded
			}
			return nil
		})
	}
	_ = group.Wait()

	return domain.SystemHealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: r.now(),
	}, nil
}

func (r *probeHealthRepository) run(ctx context.Context, probe Probe) domain.HealthCheck {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := probe.Check(probeCtx)
	end := r.now()

	check := domain.HealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		check.Status = domain.HealthStatusError
		check.Detail = "timeout"
		check.Error = err.Error()
	case errors.Is(err, context.Canceled):
		check.Status = domain.HealthStatusError
		check.Detail = "cancelled"
		check.Error = err.Error()
	default:
		check.Status = domain.HealthStatusDegraded
		check.Detail = err.Error()
		check.Error = err.Error()
	}
	return check
}
