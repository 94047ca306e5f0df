/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package loader commits transformed rows to the analytical store. Tables
// load in a fixed order (issues, changelog, metrics) so child rows never
// land ahead of their parent issue batch.
package loader

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"

	"github.com/HamedShams/tracker-pulse/internal/config"
	"github.com/HamedShams/tracker-pulse/internal/domain"
	"github.com/HamedShams/tracker-pulse/internal/retry"
)

type Sink interface {
	InsertBatch(ctx context.Context, table string, rows []any) error
	Deduplicate(ctx context.Context, table string) error
}

type Tables struct {
	Issues    string
	Changelog string
	Metrics   string
}

type Payload struct {
	Issues    []domain.Issue
	Changelog []domain.ChangelogEvent
	Metrics   []domain.StatusMetric
}

func (p Payload) Empty() bool {
	return len(p.Issues) == 0 && len(p.Changelog) == 0 && len(p.Metrics) == 0
}

type Loader struct {
	sink   Sink
	tables Tables
	policy retry.Policy
	dedup  bool
	upload bool
	log    zerolog.Logger
}

func New(cfg config.Config, sink Sink, log zerolog.Logger) *Loader {
	return &Loader{
		sink:   sink,
		tables: Tables{Issues: cfg.CHIssuesTable, Changelog: cfg.CHChangelogTable, Metrics: cfg.CHMetricsTable},
		policy: retry.Policy{
			Tries:     cfg.RetryTries,
			BaseDelay: cfg.RetryBaseDelay,
			Factor:    cfg.RetryFactor,
			Jitter:    cfg.RetryJitter,
		},
		dedup:  cfg.CHAutoDeduplicate,
		upload: cfg.UploadEnabled,
		log:    log,
	}
}

// Load writes the whole payload or fails the cycle. Deduplication after each
// successful batch is best effort: replaces collapse on merge anyway, so its
// failure only logs a warning.
func (l *Loader) Load(ctx context.Context, p Payload) error {
	if !l.upload {
		l.renderDryRun(p)
		return nil
	}
	batches := []struct {
		table string
		rows  []any
	}{
		{l.tables.Issues, anySlice(p.Issues)},
		{l.tables.Changelog, anySlice(p.Changelog)},
		{l.tables.Metrics, anySlice(p.Metrics)},
	}
	for _, b := range batches {
		if len(b.rows) == 0 {
			continue
		}
		op := fmt.Sprintf("insert into %s", b.table)
		err := l.policy.Do(ctx, l.log, op, func() error {
			return l.sink.InsertBatch(ctx, b.table, b.rows)
		})
		if err != nil {
			return fmt.Errorf("loader: %w", err)
		}
		l.log.Info().Str("table", b.table).Int("rows", len(b.rows)).Msg("batch loaded")
		if l.dedup {
			if err := l.sink.Deduplicate(ctx, b.table); err != nil {
				l.log.Warn().Str("table", b.table).Err(err).Msg("deduplicate failed, merges will collapse later")
			}
		}
	}
	return nil
}

// renderDryRun prints what a live run would have written.
func (l *Loader) renderDryRun(p Payload) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"TABLE", "ROWS"})
	tw.AppendRow(table.Row{l.tables.Issues, len(p.Issues)})
	tw.AppendRow(table.Row{l.tables.Changelog, len(p.Changelog)})
	tw.AppendRow(table.Row{l.tables.Metrics, len(p.Metrics)})
	tw.Render()
	l.log.Info().
		Int("issues", len(p.Issues)).
		Int("changelog", len(p.Changelog)).
		Int("metrics", len(p.Metrics)).
		Msg("upload disabled, nothing written")
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out
}
