package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic maintenance task.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Runner ticks each job on its own goroutine until the context is cancelled.
type Runner struct {
	jobs   []Job
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewRunner(logger *slog.Logger, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, logger: logger}
}

func (r *Runner) Start(ctx context.Context) {
	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
}

// Wait blocks until every job loop has returned.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		r.logger.Error("worker job failed", "job", job.Name, "error", err)
		return
	}
	r.logger.Debug("worker job finished", "job", job.Name, "took", time.Since(start))
}

type couponExpirer interface {
	ExpireCoupons(ctx context.Context, now time.Time) (int64, error)
}

type staleSweeper interface {
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// CouponExpiry retires coupons past their expire date every hour.
func CouponExpiry(expirer couponExpirer, clock func() time.Time) Job {
	return Job{
		Name:     "coupon-expiry",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			_, err := expirer.ExpireCoupons(ctx, clock())
			return err
		},
	}
}

// StalePayments settles payments left PENDING or PROCESSING by an interrupted
// return or a gateway outcome that never arrived.
func StalePayments(sweeper staleSweeper, olderThan time.Duration) Job {
	return Job{
		Name:     "stale-payments",
		Interval: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			_, err := sweeper.SweepStale(ctx, olderThan)
			return err
		},
	}
}
