package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (c *countingRunner) TryRunCycle(ctx context.Context) (models.CycleResult, error) {
	c.calls.Add(1)
	if c.err != nil {
		return models.CycleResult{Status: models.CycleRejected}, c.err
	}
	return models.CycleResult{CycleID: "c1", Status: models.CycleCompleted}, nil
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	_, err := New(context.Background(), "every tuesday", &countingRunner{}, zerolog.Nop())
	if !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("err = %v", err)
	}
}

func TestDefaultScheduleRunsInSessionOnWeekdays(t *testing.T) {
	s, err := New(context.Background(), "", &countingRunner{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	next := s.Next()
	if next.IsZero() {
		t.Fatal("no next run")
	}
	if wd := next.Weekday(); wd == time.Saturday || wd == time.Sunday {
		t.Errorf("next run on %s", wd)
	}
	if next.Location() != utils.IndiaLocation {
		t.Errorf("next run location = %v", next.Location())
	}
	if m := next.Minute(); m != 15 && m != 45 {
		t.Errorf("next run minute = %d", m)
	}
	if h := next.Hour(); h < 9 || h > 15 {
		t.Errorf("next run hour = %d", h)
	}
}

func TestTickToleratesRejection(t *testing.T) {
	runner := &countingRunner{err: apperrors.ErrCycleInProgress}
	s, err := New(context.Background(), "", runner, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.tick()
	runner.err = errors.New("boom")
	s.tick()
	if runner.calls.Load() != 2 {
		t.Errorf("calls = %d", runner.calls.Load())
	}
}

func TestSchedulerFiresAndStops(t *testing.T) {
	runner := &countingRunner{}
	s, err := New(context.Background(), "* * * * * *", runner, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for runner.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if runner.calls.Load() == 0 {
		t.Fatal("scheduler never fired")
	}

	after := runner.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	if runner.calls.Load() != after {
		t.Error("scheduler fired after Stop")
	}
}
