package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// CronScheduler runs one job on a cron schedule. Descriptors such as
// "@every 1m" are accepted. Overlapping runs are skipped.
type CronScheduler struct {
	spec string

	mu   sync.Mutex
	cron *cron.Cron
}

func NewCronScheduler(spec string) *CronScheduler {
	return &CronScheduler{spec: spec}
}

// Start registers job and starts the scheduler. ctx is handed to every run
// and stops the scheduler once done.
func (c *CronScheduler) Start(ctx context.Context, name string, job func(context.Context)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	logger := cron.VerbosePrintfLogger(slogPrintf{name: name})
	scheduler := cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := scheduler.AddFunc(c.spec, func() { job(ctx) }); err != nil {
		return fmt.Errorf("schedule %s with %q: %w", name, c.spec, err)
	}
	scheduler.Start()
	c.cron = scheduler

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()
	slog.Info("scheduler_started", "job", name, "spec", c.spec)
	return nil
}

// Stop halts the schedule and waits for a running job to return or ctx to
// end.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	scheduler := c.cron
	c.cron = nil
	c.mu.Unlock()

	if scheduler == nil {
		return nil
	}
	select {
	case <-scheduler.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type slogPrintf struct {
	name string
}

func (l slogPrintf) Printf(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...), "job", l.name)
}
