package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fahadfarid28/home-sub000/internal/logging"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the result of one check.
type HealthCheck struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
	Critical bool          `json:"critical"`
}

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type registeredCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks"`
}

// Health runs registered checks on demand.
type Health struct {
	mu      sync.RWMutex
	checks  []registeredCheck
	timeout time.Duration
	version string
	logger  logging.Logger
}

// NewHealth creates a checker whose checks each get timeout to answer.
func NewHealth(logger logging.Logger, version string, timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Health{
		timeout: timeout,
		version: version,
		logger:  logger.WithComponent("health"),
	}
}

// Register adds a check. A failing critical check makes the whole service
// unhealthy; a failing non-critical one only degrades it.
func (h *Health) Register(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{name: name, critical: critical, fn: fn})
}

// Check runs every registered check concurrently.
func (h *Health) Check(ctx context.Context) HealthResponse {
	h.mu.RLock()
	checks := append([]registeredCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]HealthCheck, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c registeredCheck) {
			defer wg.Done()

			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := c.fn(cctx)
			res := HealthCheck{Name: c.name, Status: HealthStatusHealthy, Duration: time.Since(start), Critical: c.critical}
			if err != nil {
				res.Status = HealthStatusUnhealthy
				res.Message = err.Error()
				h.logger.Warn(ctx, err, "health check failed", "check", c.name)
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	return HealthResponse{
		Status:    overallStatus(results),
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    results,
	}
}

func overallStatus(checks []HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, c := range checks {
		if c.Status != HealthStatusUnhealthy {
			continue
		}
		if c.Critical {
			return HealthStatusUnhealthy
		}
		status = HealthStatusDegraded
	}

	return status
}

// HTTPHandler serves the health response as JSON; unhealthy maps to 503.
func (h *Health) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		if err := json.NewEncoder(w).Encode(health); err != nil {
			h.logger.Error(r.Context(), err, "failed to encode health response")
		}
	}
}
