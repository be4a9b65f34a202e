package core

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"storagehx/config"
	"storagehx/metrics"
)

// Runner probes disks on their cron schedules and records the results.
type Runner struct {
	registry *Registry
	probes   []config.Probe
	logger   *zap.Logger
	cron     *cron.Cron
}

func NewRunner(registry *Registry, probes []config.Probe, logger *zap.Logger) *Runner {
	cronLogger := zapCronLogger{logger: logger.Sugar()}
	return &Runner{
		registry: registry,
		probes:   probes,
		logger:   logger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

// Start schedules every probe and runs each once right away in the
// background.
func (r *Runner) Start() error {
	for _, probe := range r.probes {
		disk, err := r.registry.Disk(probe.Disk)
		if err != nil {
			return err
		}

		if _, err := r.cron.AddFunc(probe.Schedule, func() { r.RunProbe(disk) }); err != nil {
			r.logger.Error("failed to schedule probe", zap.String("disk", disk.Name), zap.Error(err))
			return err
		}
		r.logger.Info("scheduled probe", zap.String("disk", disk.Name), zap.String("schedule", probe.Schedule))

		go r.RunProbe(disk)
	}
	r.cron.Start()
	return nil
}

// RunProbe probes disk once.
func (r *Runner) RunProbe(disk *Disk) error {
	start := time.Now()
	err := disk.Probe()
	duration := time.Since(start)
	metrics.RecordProbe(disk.Name, err, duration)

	if err != nil {
		r.logger.Warn("probe failed", zap.String("disk", disk.Name), zap.Duration("duration", duration), zap.Error(err))
		return err
	}
	r.logger.Debug("probe succeeded", zap.String("disk", disk.Name), zap.Duration("duration", duration))
	return nil
}

// Stop halts scheduling. The returned context is done once running probes
// have finished.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
