/**
 * @description
 * Cron wiring for the periodic pipelines: scheduled-order execution, sweep
 * dispatch, and fund journaling. Each job runs under its own bounded context
 * and recovers from panics, so one bad run never takes the process down.
 */

package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobTimeout = 10 * time.Minute

// CronSchedules carries the cron expressions for the periodic pipelines.
type CronSchedules struct {
	ProcessOrders string
	Sweep         string
	Journal       string
}

// CronRunner manages the periodic jobs.
type CronRunner struct {
	cron      *cron.Cron
	services  *Services
	schedules CronSchedules
	logger    *zap.SugaredLogger
}

// NewCronRunner creates a cron runner around the service bundle.
func NewCronRunner(services *Services, schedules CronSchedules, logger *zap.SugaredLogger) *CronRunner {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Desugar()))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &CronRunner{
		cron:      c,
		services:  services,
		schedules: schedules,
		logger:    logger,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (r *CronRunner) Start() {
	r.add("process scheduled orders", r.schedules.ProcessOrders, func(ctx context.Context) error {
		_, err := r.services.Scheduler.ProcessScheduledOrders(ctx)
		return err
	})
	r.add("sweep dispatch", r.schedules.Sweep, func(ctx context.Context) error {
		_, err := r.services.Sweep.Run(ctx, nil)
		return err
	})
	r.add("fund journaling", r.schedules.Journal, func(ctx context.Context) error {
		_, err := r.services.Journal.RunJournal(ctx, nil)
		return err
	})

	r.cron.Start()
}

func (r *CronRunner) add(name, schedule string, job func(ctx context.Context) error) {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := job(ctx); err != nil {
			r.logger.Errorw("cron job failed", "job", name, "err", err)
		}
	})
	if err != nil {
		r.logger.Errorw("failed to schedule cron job", "job", name, "schedule", schedule, "err", err)
		return
	}
	r.logger.Infow("cron job scheduled", "job", name, "schedule", schedule)
}

// Stop gracefully stops the cron scheduler. The returned context is done once
// all running jobs have finished.
func (r *CronRunner) Stop() context.Context {
	return r.cron.Stop()
}
