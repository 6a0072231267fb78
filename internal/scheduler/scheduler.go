package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every firing.
type TickFunc func(ctx context.Context, fired time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Hour       int
	Minute     int
	Location   *time.Location
	RunOnStart bool
}

// Scheduler fires once a day at Hour:Minute in Location.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Hour < 0 || opts.Hour > 23 || opts.Minute < 0 || opts.Minute > 59 {
		return nil, fmt.Errorf("invalid daily time %02d:%02d", opts.Hour, opts.Minute)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}, nil
}

// Spec returns the cron expression for the daily firing.
func (s *Scheduler) Spec() string {
	return fmt.Sprintf("%d %d * * *", s.opts.Minute, s.opts.Hour)
}

// Next returns the next firing strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(s.Spec())
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t.In(s.opts.Location)), nil
}

// Run blocks, invoking tick at each firing until ctx is cancelled. Firings that
// arrive while a previous tick is still running are skipped.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	job := cron.FuncJob(func() {
		fired := time.Now().In(s.opts.Location)
		s.logger.Info().Time("fired", fired).Msg("executing scheduled tick")
		if err := tick(ctx, fired); err != nil {
			s.logger.Error().Err(err).Time("fired", fired).Msg("tick execution failed")
		}
	})

	id, err := c.AddJob(s.Spec(), job)
	if err != nil {
		return fmt.Errorf("register daily job: %w", err)
	}

	c.Start()
	s.logger.Info().
		Str("spec", s.Spec()).
		Str("timezone", s.opts.Location.String()).
		Time("next", c.Entry(id).Next).
		Msg("scheduler started")

	if s.opts.RunOnStart {
		// through the entry's wrapped job so SkipIfStillRunning also covers it
		go c.Entry(id).WrappedJob.Run()
	}

	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("timed out waiting for running tick")
	}
	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
