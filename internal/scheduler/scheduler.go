// Package scheduler runs trading cycles on a cron schedule in IST.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"paper-trader/internal/config"
	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// CycleRunner runs one cycle unless one is already in progress.
type CycleRunner interface {
	TryRunCycle(ctx context.Context) (models.CycleResult, error)
}

// DefaultCycleTimeout bounds a single scheduled cycle.
const DefaultCycleTimeout = 10 * time.Minute

// Scheduler triggers cycles from a cron spec with a seconds field.
type Scheduler struct {
	cron         *cron.Cron
	runner       CycleRunner
	logger       zerolog.Logger
	baseCtx      context.Context
	spec         string
	entry        cron.EntryID
	cycleTimeout time.Duration
}

// New parses spec and registers the cycle job. Ticks run with ctx as
// their parent until Stop.
func New(ctx context.Context, spec string, runner CycleRunner, logger zerolog.Logger) (*Scheduler, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if spec == "" {
		spec = config.DefaultCron
	}
	logger = logging.WithComponent(logger, "scheduler")

	s := &Scheduler{
		runner:       runner,
		logger:       logger,
		baseCtx:      ctx,
		spec:         spec,
		cycleTimeout: DefaultCycleTimeout,
	}
	s.cron = cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(utils.IndiaLocation),
		cron.WithChain(cron.Recover(cronLogger{logger})),
		cron.WithLogger(cronLogger{logger}),
	)

	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, apperrors.NewValidationError("schedule.cron", spec, fmt.Sprintf("invalid cron spec: %v", err))
	}
	s.entry = id
	return s, nil
}

// Start begins firing ticks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Str("cron", s.spec).Time("next_run", s.Next()).Msg("Scheduler started")
}

// Stop prevents further ticks and waits for a running cycle to finish or
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("Scheduler stop timed out with a cycle still running")
		return ctx.Err()
	}
}

// Next returns the next scheduled run in IST, or zero before Start.
func (s *Scheduler) Next() time.Time {
	e := s.cron.Entry(s.entry)
	if e.Next.IsZero() {
		sched, err := config.CronParser.Parse(s.spec)
		if err != nil {
			return time.Time{}
		}
		return sched.Next(time.Now().In(utils.IndiaLocation))
	}
	return e.Next.In(utils.IndiaLocation)
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cycleTimeout)
	defer cancel()

	res, err := s.runner.TryRunCycle(ctx)
	switch {
	case errors.Is(err, apperrors.ErrCycleInProgress):
		s.logger.Warn().Msg("Previous cycle still running, tick skipped")
	case err != nil:
		s.logger.Error().Err(err).Str("cycle_id", res.CycleID).Msg("Scheduled cycle failed")
	default:
		s.logger.Info().
			Str("cycle_id", res.CycleID).
			Str("status", string(res.Status)).
			Int("trades", res.TradesExecuted).
			Int("exits", res.ExitsExecuted).
			Msg("Scheduled cycle finished")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	zl zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.zl.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.zl.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
