package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AlibekovAA/authcore/internal/common/logger"
	"github.com/AlibekovAA/authcore/internal/observability/metrics"
)

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

type ExpiredSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type BlacklistSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type AttemptSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

func RefreshTokenJob(s ExpiredSweeper, interval time.Duration) Job {
	return Job{Name: "refresh_token_sweep", Interval: interval, Run: s.SweepExpired}
}

func BlacklistJob(s BlacklistSweeper, interval time.Duration) Job {
	return Job{Name: "blacklist_sweep", Interval: interval, Run: s.Sweep}
}

func LoginAttemptJob(s AttemptSweeper, interval time.Duration) Job {
	return Job{
		Name:     "login_attempt_sweep",
		Interval: interval,
		Run: func(ctx context.Context) (int64, error) {
			n, err := s.Sweep(ctx)
			return int64(n), err
		},
	}
}

// Scheduler runs maintenance jobs on fixed intervals. A job still running when
// its next tick fires is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs []Job
}

func NewScheduler(log *logger.Logger) *Scheduler {
	adapter := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) Add(job Job) error {
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	if _, err := s.cron.AddFunc("@every "+job.Interval.String(), func() { s.run(s.ctx, job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()

	s.log.WithFields(context.Background(), logger.Fields{
		"job":      job.Name,
		"interval": job.Interval.String(),
		"action":   "cleanup_job_scheduled",
	}).Info("cleanup job scheduled")
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// RunAll executes every registered job once, synchronously.
func (s *Scheduler) RunAll(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, job := range jobs {
		s.run(ctx, job)
	}
}

// Stop waits for running jobs until ctx expires, then cancels them.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("cleanup scheduler stop timed out, cancelling running jobs")
	}
	s.cancel()
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	removed, err := job.Run(ctx)
	if err != nil {
		metrics.ScheduledJobRuns.WithLabelValues(job.Name, "error").Inc()
		s.log.WithFields(ctx, logger.Fields{
			"job":    job.Name,
			"action": "cleanup_job_failed",
		}).Errorf("%s failed: %v", job.Name, err)
		return
	}

	metrics.ScheduledJobRuns.WithLabelValues(job.Name, "success").Inc()
	if removed > 0 {
		s.log.WithFields(ctx, logger.Fields{
			"job":     job.Name,
			"removed": removed,
			"action":  "cleanup_job_done",
		}).Infof("%s: removed %d expired entries", job.Name, removed)
	}
}

type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugf("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
