// Package janitor periodically removes staging directories and download
// temp files left behind by crashed or abandoned acquisitions.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/lgulliver/rvcstore/internal/metrics"
	"github.com/lgulliver/rvcstore/internal/storage"
	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Janitor runs SweepTransient on a cron schedule
type Janitor struct {
	store    storage.ArchiveStore
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
}

// New creates a Janitor for store. Start must be called to schedule sweeps.
func New(store storage.ArchiveStore, cfg config.JanitorConfig) *Janitor {
	return &Janitor{
		store:    store,
		maxAge:   cfg.MaxAge,
		schedule: cfg.Schedule,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
	}
}

// Sweep removes transient entries older than the configured max age
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	startTime := time.Now()

	removed, err := j.store.SweepTransient(ctx, j.maxAge)
	metrics.ObserveSweep(removed)
	if err != nil {
		log.Error().Err(err).Int("removed", removed).Msg("transient sweep finished with errors")
		return removed, err
	}

	log.Debug().
		Int("removed", removed).
		Dur("duration", time.Since(startTime)).
		Msg("transient sweep finished")
	return removed, nil
}

// Start schedules sweeps and runs one immediately
func (j *Janitor) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc(j.schedule, func() {
		j.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.schedule, err)
	}

	j.Sweep(ctx)
	j.cron.Start()

	log.Info().Str("schedule", j.schedule).Dur("max_age", j.maxAge).Msg("janitor started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
