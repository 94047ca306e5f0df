/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/HamedShams/tracker-pulse/internal/adapters/clickhouse"
	"github.com/HamedShams/tracker-pulse/internal/adapters/tracker"
	"github.com/HamedShams/tracker-pulse/internal/calendar"
	"github.com/HamedShams/tracker-pulse/internal/config"
	"github.com/HamedShams/tracker-pulse/internal/cycletime"
	"github.com/HamedShams/tracker-pulse/internal/etl"
	httpx "github.com/HamedShams/tracker-pulse/internal/http"
	"github.com/HamedShams/tracker-pulse/internal/jobs"
	"github.com/HamedShams/tracker-pulse/internal/loader"
	"github.com/HamedShams/tracker-pulse/internal/logger"
	"github.com/HamedShams/tracker-pulse/internal/state"
)

func main() {
	var (
		envFile string
		runOnce bool
		dryRun  bool
	)
	root := &cobra.Command{
		Use:          "tracker-pulse",
		Short:        "Incremental issue tracker to ClickHouse exporter",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load env file %s: %w", envFile, err)
				}
			}
			cfg := config.Load()
			if dryRun {
				cfg.UploadEnabled = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg, runOnce)
		},
	}
	root.Flags().StringVar(&envFile, "env-file", "", "load environment from this file before reading config")
	root.Flags().BoolVar(&runOnce, "run-once", false, "run a single cycle and exit")
	root.Flags().BoolVar(&dryRun, "dry-run", false, "render what a cycle would write without uploading or advancing state")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, runOnce bool) error {
	log := logger.New(cfg)

	cal, err := calendar.New(cfg.Workdays, cfg.BusinessStartHour, cfg.BusinessEndHour, cfg.Location())
	if err != nil {
		return err
	}
	calc := cycletime.New(cal, cfg.ClosedStatuses, nil)

	keeper, err := state.FromConfig(cfg, log)
	if err != nil {
		return err
	}
	trk, err := tracker.New(cfg, log)
	if err != nil {
		return err
	}
	ch, err := clickhouse.New(cfg, log)
	if err != nil {
		return err
	}
	svc := etl.New(cfg, log, trk, loader.New(cfg, ch, log), keeper, calc)

	if runOnce {
		rep, err := svc.RunCycle(context.Background())
		if err != nil {
			return err
		}
		log.Info().Str("cycle_id", rep.CycleID).Str("duration", rep.Duration).Msg("single cycle complete")
		return nil
	}

	cr, err := jobs.NewCron(cfg, log, svc)
	if err != nil {
		return err
	}
	cr.Start()
	defer cr.Stop()

	router := httpx.NewRouter(cfg, log, svc)
	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()
	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("interval", cfg.ETLInterval.String()).
		Msg("exporter started")

	// First cycle fires right away; the cron covers every tick after that.
	go func() {
		if _, err := svc.RunCycle(context.Background()); err != nil && !errors.Is(err, etl.ErrCycleInFlight) {
			log.Error().Err(err).Msg("startup cycle failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}
	time.Sleep(500 * time.Millisecond)
	return nil
}
