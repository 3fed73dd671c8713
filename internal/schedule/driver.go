// Package schedule provides a small ticker-based driver for recurring jobs.
package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Driver fires a named job immediately and then on a fixed interval until
// the context is cancelled.
type Driver struct {
	interval time.Duration
	logger   *slog.Logger
}

// NewDriver creates a Driver with the given interval.
func NewDriver(interval time.Duration) *Driver {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Driver{
		interval: interval,
		logger:   slog.Default().With("component", "schedule"),
	}
}

// Start launches the job loop in a goroutine and returns immediately.
// The job receives the trigger time; overruns delay the next trigger
// rather than overlapping it.
func (d *Driver) Start(ctx context.Context, name string, job func(ctx context.Context, trigger time.Time)) {
	go func() {
		d.logger.Info("job scheduled", "job", name, "interval", d.interval)
		job(ctx, time.Now())
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case t := <-ticker.C:
				job(ctx, t)
			case <-ctx.Done():
				d.logger.Info("job stopped", "job", name)
				return
			}
		}
	}()
}
