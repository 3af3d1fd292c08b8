package resilience

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

func (s HealthStatus) rank() int {
	switch s {
	case HealthStatusHealthy:
		return 0
	case HealthStatusDegraded:
		return 1
	}
	return 2
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message"`
	Latency time.Duration          `json:"latency"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck reports on one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the result of one round of checks.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// HealthMonitorConfig holds health monitor configuration.
type HealthMonitorConfig struct {
	CheckTimeout       time.Duration
	MemoryThresholdMB  uint64
	GoroutineThreshold int
}

// DefaultHealthMonitorConfig returns default configuration.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckTimeout:       10 * time.Second,
		MemoryThresholdMB:  500,
		GoroutineThreshold: 1000,
	}
}

// HealthMonitor runs registered checks on demand.
type HealthMonitor struct {
	mu     sync.RWMutex
	config HealthMonitorConfig
	checks map[string]HealthCheck
}

// NewHealthMonitor creates a monitor with the process checks registered.
func NewHealthMonitor(config HealthMonitorConfig) *HealthMonitor {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 10 * time.Second
	}
	m := &HealthMonitor{config: config, checks: make(map[string]HealthCheck)}
	m.RegisterComponent("memory", m.checkMemory)
	m.RegisterComponent("goroutines", m.checkGoroutines)
	return m
}

// RegisterComponent registers a health check, replacing any with that name.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every check concurrently. Each gets CheckTimeout; a panicking
// check reports UNHEALTHY. The overall status is the worst component's.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make([]ComponentHealth, len(names))
	p := pool.New().WithMaxGoroutines(len(names) + 1)
	for i, name := range names {
		i, name := i, name
		p.Go(func() {
			results[i] = m.run(ctx, name, checks[name])
		})
	}
	p.Wait()

	out := SystemHealth{Status: HealthStatusHealthy, Components: results, CheckedAt: time.Now()}
	for _, h := range results {
		if h.Status.rank() > out.Status.rank() {
			out.Status = h.Status
		}
	}
	return out
}

func (m *HealthMonitor) run(ctx context.Context, name string, check HealthCheck) (health ComponentHealth) {
	ctx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			health = ComponentHealth{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
		}
		health.Name = name
		if health.Status == "" {
			health.Status = HealthStatusUnhealthy
		}
		health.Latency = time.Since(start)
	}()
	return check(ctx)
}

func (m *HealthMonitor) checkMemory(ctx context.Context) ComponentHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	allocMB := memStats.Alloc / 1024 / 1024

	health := ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: fmt.Sprintf("Memory usage: %d MB", allocMB),
		Details: map[string]interface{}{
			"alloc_mb": allocMB,
			"sys_mb":   memStats.Sys / 1024 / 1024,
			"num_gc":   memStats.NumGC,
		},
	}
	if allocMB > m.config.MemoryThresholdMB {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("Memory usage high: %d MB", allocMB)
	}
	return health
}

func (m *HealthMonitor) checkGoroutines(ctx context.Context) ComponentHealth {
	n := runtime.NumGoroutine()
	health := ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: fmt.Sprintf("Goroutine count: %d", n),
		Details: map[string]interface{}{"count": n},
	}
	if n > m.config.GoroutineThreshold {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("High goroutine count: %d", n)
	}
	return health
}

// DatabaseHealthCheck reports UNHEALTHY when ping fails.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("Database ping failed: %v", err)}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "Database connection OK"}
	}
}

// APIHealthCheck reports UNHEALTHY on error and DEGRADED when the call
// takes longer than slow.
func APIHealthCheck(slow time.Duration, check func(ctx context.Context) (string, error)) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		msg, err := check(ctx)
		took := time.Since(start)
		switch {
		case err != nil:
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		case slow > 0 && took > slow:
			return ComponentHealth{Status: HealthStatusDegraded, Message: fmt.Sprintf("%s (slow: %s)", msg, took.Round(time.Millisecond))}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: msg}
	}
}

// BreakerHealthCheck reports an open circuit breaker as DEGRADED.
func BreakerHealthCheck(cb *CircuitBreaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := cb.Stats()
		h := ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: fmt.Sprintf("Circuit %s", stats.State),
			Details: map[string]interface{}{
				"failures": stats.CurrentFailures,
				"rejected": stats.TotalRejected,
				"requests": stats.TotalRequests,
			},
		}
		if stats.State != CircuitClosed {
			h.Status = HealthStatusDegraded
		}
		return h
	}
}
