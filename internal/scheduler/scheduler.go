package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amishk599/jobtracker/internal/model"
	"github.com/amishk599/jobtracker/internal/tracker"
)

// DefaultSpec runs the configured queries every six hours.
const DefaultSpec = "@every 6h"

const defaultPause = time.Second

// CycleRunner runs one fetch cycle. *tracker.Tracker satisfies it.
type CycleRunner interface {
	RunFetchCycle(ctx context.Context, q model.Query) (tracker.Report, error)
}

// Scheduler runs fetch cycles for every configured query on a cron schedule.
// A pass that is still running when the next tick fires is skipped.
type Scheduler struct {
	runner   CycleRunner
	queries  []model.Query
	spec     string
	schedule cron.Schedule
	pause    time.Duration
	logger   *slog.Logger
}

// NewScheduler validates spec, e.g. "@every 6h" or "0 */6 * * *".
func NewScheduler(runner CycleRunner, queries []model.Query, spec string, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	return &Scheduler{
		runner:   runner,
		queries:  queries,
		spec:     spec,
		schedule: schedule,
		pause:    defaultPause,
		logger:   logger,
	}, nil
}

// Run starts one immediate pass, then one per schedule tick. It blocks until
// ctx is cancelled and returns nil once the in-flight pass has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithLogger(cl))
	job := s.passJob(ctx, cl)
	c.Schedule(s.schedule, job)

	s.logger.Info("starting scheduler", "spec", s.spec, "queries", len(s.queries))
	c.Start()
	first := make(chan struct{})
	go func() {
		defer close(first)
		job.Run()
	}()

	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	<-c.Stop().Done()
	<-first
	return nil
}

// passJob wraps one pass over all queries so that the immediate run and the
// cron ticks share a single skip-if-running guard.
func (s *Scheduler) passJob(ctx context.Context, cl cron.Logger) cron.Job {
	return cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		s.runAll(ctx)
	}))
}

// runAll runs every query in order with a short pause between them.
func (s *Scheduler) runAll(ctx context.Context) {
	start := time.Now()
	var inserted, retired, failed int
	for i, q := range s.queries {
		if ctx.Err() != nil {
			return
		}

		report, err := s.runner.RunFetchCycle(ctx, q)
		if err != nil {
			failed++
			s.logger.Error("fetch cycle failed",
				"location", q.Location,
				"keyword", q.Keyword,
				"error", err,
			)
		} else {
			inserted += report.Inserted
			retired += report.Retired
		}

		if i < len(s.queries)-1 && s.pause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pause):
			}
		}
	}
	s.logger.Info("scheduled pass complete",
		"queries", len(s.queries),
		"failed", failed,
		"inserted", inserted,
		"retired", retired,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

// cronLogger routes robfig/cron logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
