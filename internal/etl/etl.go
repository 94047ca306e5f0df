/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package etl drives the incremental export cycle: resolve the update window
// from saved state, fetch every issue the tracker changed inside it, derive
// versioned rows, load them, and only then advance the state boundary.
package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HamedShams/tracker-pulse/internal/config"
	"github.com/HamedShams/tracker-pulse/internal/cycletime"
	"github.com/HamedShams/tracker-pulse/internal/domain"
	"github.com/HamedShams/tracker-pulse/internal/loader"
	"github.com/HamedShams/tracker-pulse/internal/timeutil"
)

// ErrCycleInFlight is returned when a cycle is requested while another one is
// still running. Callers treat it as "try again later", not as a failure.
var ErrCycleInFlight = errors.New("etl: cycle already in flight")

type Tracker interface {
	Search(ctx context.Context, since, until time.Time) ([]string, error)
	Fetch(ctx context.Context, key string) (*domain.IssueBundle, error)
}

type Loader interface {
	Load(ctx context.Context, p loader.Payload) error
}

type StateKeeper interface {
	Load(ctx context.Context) (boundary time.Time, found bool, err error)
	Save(ctx context.Context, boundary time.Time) error
}

// Stage names how far a cycle got. A failed cycle keeps FAILED here and the
// stage it reached in the log line.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageWindowResolved Stage = "window_resolved"
	StageFetched        Stage = "fetched"
	StageTransformed    Stage = "transformed"
	StageLoaded         Stage = "loaded"
	StageStateAdvanced  Stage = "state_advanced"
	StageFailed         Stage = "failed"
)

// CycleReport is the observable summary of one cycle, served over the admin
// endpoint and logged at the end of every run.
type CycleReport struct {
	CycleID       string    `json:"cycle_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	WindowSince   time.Time `json:"window_since"`
	WindowUntil   time.Time `json:"window_until"`
	ColdStart     bool      `json:"cold_start"`
	Issues        int       `json:"issues"`
	ChangelogRows int       `json:"changelog_rows"`
	MetricRows    int       `json:"metric_rows"`
	Skipped       int       `json:"skipped"`
	SkippedKeys   []string  `json:"skipped_keys,omitempty"`
	Stage         Stage     `json:"stage"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error,omitempty"`
	Duration      string    `json:"duration"`
	StateAdvanced bool      `json:"state_advanced"`
}

type Service struct {
	cfg     config.Config
	log     zerolog.Logger
	tracker Tracker
	loader  Loader
	state   StateKeeper
	calc    *cycletime.Calculator
	now     func() time.Time

	mu       sync.Mutex
	reportMu sync.RWMutex
	report   *CycleReport
}

func New(cfg config.Config, log zerolog.Logger, tracker Tracker, ld Loader, state StateKeeper, calc *cycletime.Calculator) *Service {
	return &Service{
		cfg:     cfg,
		log:     log,
		tracker: tracker,
		loader:  ld,
		state:   state,
		calc:    calc,
		now:     time.Now,
	}
}

// RunCycle executes one full cycle. Only one cycle runs at a time; a second
// caller gets ErrCycleInFlight immediately instead of queueing. The boundary
// saved in state only moves after every row of the window has been loaded, so
// a failed cycle replays the same window next time.
func (s *Service) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !s.mu.TryLock() {
		return nil, ErrCycleInFlight
	}
	defer s.mu.Unlock()

	rep := &CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: s.now().UTC(),
		Stage:     StageIdle,
	}
	log := s.log.With().Str("cycle_id", rep.CycleID).Logger()
	log.Info().Msg("cycle started")

	err := s.cycle(ctx, log, rep)
	rep.FinishedAt = s.now().UTC()
	rep.Duration = timeutil.ToHuman(rep.FinishedAt.Sub(rep.StartedAt))
	if err != nil {
		log.Error().Err(err).Str("reached", string(rep.Stage)).Msg("cycle failed")
		rep.Stage = StageFailed
		rep.Outcome = "failed"
		rep.Error = err.Error()
	} else {
		rep.Outcome = "success"
		log.Info().
			Int("issues", rep.Issues).
			Int("changelog_rows", rep.ChangelogRows).
			Int("metric_rows", rep.MetricRows).
			Int("skipped", rep.Skipped).
			Bool("state_advanced", rep.StateAdvanced).
			Str("duration", rep.Duration).
			Msg("cycle finished")
	}

	s.reportMu.Lock()
	s.report = rep
	s.reportMu.Unlock()
	return rep, err
}

func (s *Service) cycle(ctx context.Context, log zerolog.Logger, rep *CycleReport) error {
	prior, found, err := s.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("etl: load state: %w", err)
	}
	until := s.now().UTC()
	since := prior
	if !found {
		since = until.Add(-s.cfg.InitialRange)
		rep.ColdStart = true
	}
	rep.WindowSince = since
	rep.WindowUntil = until
	rep.Stage = StageWindowResolved
	log.Info().
		Time("since", since).
		Time("until", until).
		Bool("cold_start", rep.ColdStart).
		Msg("window resolved")

	keys, err := s.tracker.Search(ctx, since, until)
	if err != nil {
		return fmt.Errorf("etl: search: %w", err)
	}
	rep.Stage = StageFetched
	log.Info().Int("found", len(keys)).Msg("search complete")

	version := s.now().UnixNano()
	var payload loader.Payload
	for i, key := range keys {
		bundle, err := s.tracker.Fetch(ctx, key)
		if err != nil {
			if skipViolation(log, rep, key, err) {
				continue
			}
			return fmt.Errorf("etl: fetch %s: %w", key, err)
		}
		if err := s.transform(bundle, version, &payload); err != nil {
			if skipViolation(log, rep, key, err) {
				continue
			}
			return fmt.Errorf("etl: transform %s: %w", key, err)
		}
		if s.cfg.ProgressEvery > 0 && (i+1)%s.cfg.ProgressEvery == 0 {
			log.Info().Int("done", i+1).Int("total", len(keys)).Msg("fetch progress")
		}
	}
	rep.Issues = len(payload.Issues)
	rep.ChangelogRows = len(payload.Changelog)
	rep.MetricRows = len(payload.Metrics)
	rep.Stage = StageTransformed
	log.Info().
		Int("issues", rep.Issues).
		Int("changelog_rows", rep.ChangelogRows).
		Int("metric_rows", rep.MetricRows).
		Int("skipped", rep.Skipped).
		Msg("transform complete")

	if payload.Empty() {
		log.Info().Msg("window produced no rows")
	} else if err := s.loader.Load(ctx, payload); err != nil {
		return err
	}
	rep.Stage = StageLoaded

	if !s.cfg.UploadEnabled {
		log.Info().Msg("upload disabled, state boundary not advanced")
		return nil
	}
	if err := s.state.Save(ctx, until); err != nil {
		return fmt.Errorf("etl: save state: %w", err)
	}
	rep.StateAdvanced = true
	rep.Stage = StageStateAdvanced
	return nil
}

// transform finalizes one fetched bundle into payload rows: closed flags and
// closed_at are derived here, status metrics computed, and every row stamped
// with the cycle version so replays replace instead of duplicate.
func (s *Service) transform(b *domain.IssueBundle, version int64, p *loader.Payload) error {
	row := b.Issue
	if row.UpdatedAt.IsZero() {
		return domain.ContractViolation(row.Key, "missing update time")
	}

	var resolvedAt *time.Time
	if row.ResolvedAt != nil {
		t := row.ResolvedAt.Time()
		resolvedAt = &t
	}
	switch {
	case row.IsResolved && row.ResolvedAt != nil:
		row.IsClosed = true
		row.ClosedAt = row.ResolvedAt
	case row.IsResolved || s.calc.IsClosed(row.Status):
		row.IsClosed = true
		if n := len(b.StatusLog); n > 0 {
			row.ClosedAt = domain.DateTimePtr(b.StatusLog[n-1].At)
		} else {
			row.ClosedAt = domain.DateTimePtr(row.CreatedAt.Time())
		}
	}

	metrics, err := s.calc.Metrics(cycletime.Input{
		IssueKey:   row.Key,
		CreatedAt:  row.CreatedAt.Time(),
		Status:     row.Status,
		ResolvedAt: resolvedAt,
		Events:     b.StatusLog,
	})
	if err != nil {
		return err
	}

	row.Version = version
	p.Issues = append(p.Issues, row)
	if s.cfg.ChangelogExport {
		for _, ev := range b.Changelog {
			ev.Version = version
			p.Changelog = append(p.Changelog, ev)
		}
	}
	for _, m := range metrics {
		m.Version = version
		p.Metrics = append(p.Metrics, m)
	}
	return nil
}

func skipViolation(log zerolog.Logger, rep *CycleReport, key string, err error) bool {
	var cv *domain.ContractViolationError
	if !errors.As(err, &cv) {
		return false
	}
	rep.Skipped++
	rep.SkippedKeys = append(rep.SkippedKeys, key)
	log.Warn().Str("issue", key).Str("reason", cv.Reason).Msg("issue skipped")
	return true
}

// Busy reports whether a cycle is running right now. The answer can go stale
// immediately; RunCycle's own lock is the authority.
func (s *Service) Busy() bool {
	if s.mu.TryLock() {
		s.mu.Unlock()
		return false
	}
	return true
}

// LastReport returns a copy of the most recent cycle's report, or nil before
// the first cycle has run.
func (s *Service) LastReport() *CycleReport {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	if s.report == nil {
		return nil
	}
	cp := *s.report
	cp.SkippedKeys = append([]string(nil), s.report.SkippedKeys...)
	return &cp
}
