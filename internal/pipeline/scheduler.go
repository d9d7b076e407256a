package pipeline

// scheduler.go triggers pipeline runs on a cron schedule.
//
// Scheduled runs go through the same Runner as API requests, so a tick that
// fires while another run holds the limiter waits for its slot or is
// skipped with ErrTooManyRuns. A failing run is logged and does not stop
// the schedule.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/salesqa/salesqa/internal/logging"
)

// cronParser accepts five-field expressions, an optional leading seconds
// field and descriptors such as @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Scheduler runs a Runner on a cron schedule.
type Scheduler struct {
	spec   string
	runner *Runner
	cron   *cron.Cron
	entry  cron.EntryID
}

// NewScheduler validates spec and registers the run job.
func NewScheduler(spec string, r *Runner) (*Scheduler, error) {
	if _, err := ParseSchedule(spec); err != nil {
		return nil, err
	}
	return &Scheduler{
		spec:   spec,
		runner: r,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{slog.Default()})),
		),
	}, nil
}

// Start begins firing runs. Runs use ctx, so cancelling it aborts a run in
// progress.
func (s *Scheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) })
	if err != nil {
		return fmt.Errorf("schedule run: %w", err)
	}
	s.entry = id
	s.cron.Start()
	slog.Info("run scheduler started", "schedule", s.spec)
	return nil
}

// Stop stops the schedule and returns a context that is done once any
// running job has finished.
func (s *Scheduler) Stop() context.Context {
	slog.Info("run scheduler stopped")
	return s.cron.Stop()
}

// Next returns when the next run fires, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.runner.Run(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("scheduled run failed", "error", err)
		return
	}
	logging.FromContext(ctx).Info("scheduled run finished", "run_id", res.RunID, "duration", res.Duration)
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
