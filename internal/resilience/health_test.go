package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixed(status HealthStatus) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: status, Message: string(status)}
	}
}

func TestHealthMonitorWorstStatusWins(t *testing.T) {
	m := NewHealthMonitor(DefaultHealthMonitorConfig())
	m.RegisterComponent("a", fixed(HealthStatusHealthy))
	m.RegisterComponent("b", fixed(HealthStatusDegraded))

	report := m.Check(context.Background())
	if report.Status != HealthStatusDegraded {
		t.Fatalf("status = %s, want DEGRADED", report.Status)
	}
	// memory and goroutines are always registered
	if len(report.Components) != 4 {
		t.Fatalf("got %d components", len(report.Components))
	}
	for i := 1; i < len(report.Components); i++ {
		if report.Components[i-1].Name > report.Components[i].Name {
			t.Errorf("components not sorted: %v", report.Components)
		}
	}

	m.RegisterComponent("c", fixed(HealthStatusUnhealthy))
	if got := m.Check(context.Background()).Status; got != HealthStatusUnhealthy {
		t.Errorf("status = %s, want UNHEALTHY", got)
	}
}

func TestHealthMonitorRecoversPanics(t *testing.T) {
	m := NewHealthMonitor(DefaultHealthMonitorConfig())
	m.RegisterComponent("boom", func(ctx context.Context) ComponentHealth { panic("nil map") })

	report := m.Check(context.Background())
	for _, c := range report.Components {
		if c.Name == "boom" {
			if c.Status != HealthStatusUnhealthy {
				t.Errorf("panicking check status = %s", c.Status)
			}
			return
		}
	}
	t.Fatal("panicking check missing from report")
}

func TestHealthCheckTimeout(t *testing.T) {
	cfg := DefaultHealthMonitorConfig()
	cfg.CheckTimeout = 20 * time.Millisecond
	m := NewHealthMonitor(cfg)
	m.RegisterComponent("db", DatabaseHealthCheck(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	report := m.Check(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("check ignored its timeout")
	}
	if report.Status != HealthStatusUnhealthy {
		t.Errorf("status = %s", report.Status)
	}
}

func TestAPIHealthCheck(t *testing.T) {
	ok := APIHealthCheck(time.Second, func(ctx context.Context) (string, error) { return "ok", nil })
	if h := ok(context.Background()); h.Status != HealthStatusHealthy || h.Message != "ok" {
		t.Errorf("healthy call = %+v", h)
	}
	failing := APIHealthCheck(time.Second, func(ctx context.Context) (string, error) { return "", errors.New("refused") })
	if h := failing(context.Background()); h.Status != HealthStatusUnhealthy {
		t.Errorf("failing call = %+v", h)
	}
	slow := APIHealthCheck(time.Millisecond, func(ctx context.Context) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	if h := slow(context.Background()); h.Status != HealthStatusDegraded {
		t.Errorf("slow call = %+v", h)
	}
}

func TestBreakerHealthCheck(t *testing.T) {
	cb := NewCircuitBreaker("kite", DefaultCircuitBreakerConfig())
	check := BreakerHealthCheck(cb)
	if h := check(context.Background()); h.Status != HealthStatusHealthy {
		t.Errorf("closed breaker = %+v", h)
	}
	for i := 0; i < 20 && cb.State() == CircuitClosed; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("breaker did not open")
	}
	if h := check(context.Background()); h.Status != HealthStatusDegraded {
		t.Errorf("open breaker = %+v", h)
	}
}
