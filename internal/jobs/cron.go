package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/HamedShams/tracker-pulse/internal/config"
	"github.com/HamedShams/tracker-pulse/internal/etl"
)

type runner interface {
	RunCycle(ctx context.Context) (*etl.CycleReport, error)
}

type Cron struct {
	cfg config.Config
	log zerolog.Logger
	run runner
	c   *cron.Cron
}

// NewCron fires a cycle at the configured interval. Ticks that land while a
// cycle is still running are skipped, not queued.
func NewCron(cfg config.Config, log zerolog.Logger, run runner) (*Cron, error) {
	c := cron.New(cron.WithLocation(cfg.Location()))
	cr := &Cron{cfg: cfg, log: log, run: run, c: c}
	spec := fmt.Sprintf("@every %s", cfg.ETLInterval)
	if _, err := c.AddFunc(spec, cr.cycle); err != nil {
		return nil, fmt.Errorf("jobs: schedule %q: %w", spec, err)
	}
	return cr, nil
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

// cycle runs without a deadline: a long cold-start backfill must be able to
// outlive the tick interval and still advance the boundary.
func (cr *Cron) cycle() {
	if _, err := cr.run.RunCycle(context.Background()); err != nil {
		if errors.Is(err, etl.ErrCycleInFlight) {
			cr.log.Info().Msg("cron: previous cycle still running, skipping tick")
			return
		}
		cr.log.Error().Err(err).Msg("cron: cycle failed")
	}
}
