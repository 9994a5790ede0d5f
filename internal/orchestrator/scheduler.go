package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ParseSchedule validates a six-field (seconds first) cron spec.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	).Parse(spec)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: parse schedule %q", spec)
	}
	return sched, nil
}

// Start runs RunOnce on the cron schedule until ctx is cancelled, then waits
// for an in-flight run to finish. Ticks that arrive while a run is in flight
// are skipped.
func (o *Orchestrator) Start(ctx context.Context, spec string, windowDays int) error {
	if _, err := ParseSchedule(spec); err != nil {
		return err
	}

	log := zap.L().With(zap.String("component", "scheduler"))
	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	id, err := c.AddFunc(spec, func() { o.tick(ctx, windowDays) })
	if err != nil {
		return eris.Wrap(err, "orchestrator: register schedule")
	}

	c.Start()
	log.Info("scheduler started",
		zap.String("schedule", spec),
		zap.Time("next_run", c.Entry(id).Next),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("scheduler stopped")
	return nil
}

func (o *Orchestrator) tick(ctx context.Context, windowDays int) {
	res, err := o.RunOnce(ctx, windowDays)
	if errors.Is(err, ErrAlreadyRunning) {
		zap.L().Warn("scheduler: previous run still in flight, skipping tick")
		return
	}
	if err != nil {
		zap.L().Error("scheduler: run failed", zap.Error(err))
		return
	}
	if res.Status != StatusSuccess {
		zap.L().Warn("scheduler: run finished with problems",
			zap.String("status", string(res.Status)),
			zap.Strings("errors", res.Errors),
		)
	}
}
