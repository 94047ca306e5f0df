package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamedShams/tracker-pulse/internal/calendar"
	"github.com/HamedShams/tracker-pulse/internal/config"
	"github.com/HamedShams/tracker-pulse/internal/cycletime"
	"github.com/HamedShams/tracker-pulse/internal/domain"
	"github.com/HamedShams/tracker-pulse/internal/loader"
)

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeTracker struct {
	keys      []string
	searchErr error
	bundles   map[string]*domain.IssueBundle
	fetchErr  map[string]error
	searches  int
}

func (f *fakeTracker) Search(ctx context.Context, since, until time.Time) ([]string, error) {
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.keys, nil
}

func (f *fakeTracker) Fetch(ctx context.Context, key string) (*domain.IssueBundle, error) {
	if err := f.fetchErr[key]; err != nil {
		return nil, err
	}
	b, ok := f.bundles[key]
	if !ok {
		return nil, errors.New("no fixture for " + key)
	}
	cp := *b
	return &cp, nil
}

type fakeLoader struct {
	payloads []loader.Payload
	err      error
}

func (f *fakeLoader) Load(ctx context.Context, p loader.Payload) error {
	f.payloads = append(f.payloads, p)
	return f.err
}

type fakeState struct {
	boundary time.Time
	found    bool
	loadErr  error
	saveErr  error
	saved    []time.Time
}

func (f *fakeState) Load(ctx context.Context) (time.Time, bool, error) {
	return f.boundary, f.found, f.loadErr
}

func (f *fakeState) Save(ctx context.Context, boundary time.Time) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, boundary)
	return nil
}

func testBundle(key string, created, updated time.Time) *domain.IssueBundle {
	return &domain.IssueBundle{
		Issue: domain.Issue{
			Key:       key,
			Queue:     "DATA",
			Status:    "Open",
			CreatedAt: domain.NewDateTime(created),
			UpdatedAt: domain.NewDateTime(updated),
		},
		Changelog: []domain.ChangelogEvent{{
			IssueKey:     key,
			Queue:        "DATA",
			EventTime:    domain.NewDateTime(updated),
			EventType:    "IssueUpdated",
			Transport:    "api",
			ChangedField: "description",
		}},
	}
}

func testService(t *testing.T, cfg config.Config, tr Tracker, ld Loader, st StateKeeper) *Service {
	t.Helper()
	cal, err := calendar.New([]int{0, 1, 2, 3, 4, 5, 6}, 0, 24, time.UTC)
	require.NoError(t, err)
	calc := cycletime.New(cal, []string{"Done", "Rejected"}, func() time.Time { return fixedNow })
	s := New(cfg, zerolog.Nop(), tr, ld, st, calc)
	s.now = func() time.Time { return fixedNow }
	return s
}

func defaultConfig() config.Config {
	return config.Config{
		InitialRange:    7 * 24 * time.Hour,
		ChangelogExport: true,
		UploadEnabled:   true,
	}
}

func TestCycleAdvancesStateToWindowUpperBound(t *testing.T) {
	created := fixedNow.Add(-48 * time.Hour)
	updated := fixedNow.Add(-time.Hour)
	prior := fixedNow.Add(-time.Hour)
	tr := &fakeTracker{
		keys: []string{"DATA-1", "DATA-2"},
		bundles: map[string]*domain.IssueBundle{
			"DATA-1": testBundle("DATA-1", created, updated),
			"DATA-2": testBundle("DATA-2", created, updated),
		},
	}
	ld := &fakeLoader{}
	st := &fakeState{boundary: prior, found: true}
	s := testService(t, defaultConfig(), tr, ld, st)

	rep, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "success", rep.Outcome)
	assert.Equal(t, StageStateAdvanced, rep.Stage)
	assert.True(t, rep.StateAdvanced)
	assert.False(t, rep.ColdStart)
	assert.True(t, rep.WindowSince.Equal(prior))
	assert.True(t, rep.WindowUntil.Equal(fixedNow))
	require.Len(t, st.saved, 1)
	assert.True(t, st.saved[0].Equal(fixedNow), "state must advance to the window upper bound")

	require.Len(t, ld.payloads, 1)
	p := ld.payloads[0]
	assert.Len(t, p.Issues, 2)
	assert.Len(t, p.Changelog, 2)
	assert.Len(t, p.Metrics, 2)

	version := fixedNow.UnixNano()
	for _, row := range p.Issues {
		assert.Equal(t, version, row.Version)
	}
	for _, row := range p.Changelog {
		assert.Equal(t, version, row.Version)
	}
	for _, row := range p.Metrics {
		assert.Equal(t, version, row.Version)
		assert.Equal(t, "open", row.StatusName)
	}
}

func TestColdStartWindowSpansInitialRange(t *testing.T) {
	tr := &fakeTracker{}
	ld := &fakeLoader{}
	st := &fakeState{found: false}
	s := testService(t, defaultConfig(), tr, ld, st)

	rep, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, rep.ColdStart)
	assert.True(t, rep.WindowSince.Equal(fixedNow.Add(-7*24*time.Hour)))
	assert.True(t, rep.WindowUntil.Equal(fixedNow))
}

func TestEmptyWindowStillAdvancesState(t *testing.T) {
	tr := &fakeTracker{}
	ld := &fakeLoader{}
	st := &fakeState{found: false}
	s := testService(t, defaultConfig(), tr, ld, st)

	rep, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, ld.payloads, "no rows means no load call")
	require.Len(t, st.saved, 1)
	assert.True(t, st.saved[0].Equal(fixedNow))
	assert.Equal(t, StageStateAdvanced, rep.Stage)
}

func TestFetchFailureKeepsBoundary(t *testing.T) {
	tr := &fakeTracker{
		keys:     []string{"DATA-1"},
		fetchErr: map[string]error{"DATA-1": errors.New("tracker down")},
	}
	ld := &fakeLoader{}
	st := &fakeState{boundary: fixedNow.Add(-time.Hour), found: true}
	s := testService(t, defaultConfig(), tr, ld, st)

	rep, err := s.RunCycle(context.Background())
	require.Error(t, err)

	assert.Equal(t, StageFailed, rep.Stage)
	assert.Equal(t, "failed", rep.Outcome)
	assert.Contains(t, rep.Error, "DATA-1")
	assert.Empty(t, st.saved, "boundary must not move on failure")
	assert.Empty(t, ld.payloads)
}

func TestLoadFailureKeepsBoundary(t *testing.T) {
	created := fixedNow.Add(-48 * time.Hour)
	tr := &fakeTracker{
		keys:    []string{"DATA-1"},
		bundles: map[string]*domain.IssueBundle{"DATA-1": testBundle("DATA-1", created, created)},
	}
	ld := &fakeLoader{err: errors.New("insert failed")}
	st := &fakeState{boundary: fixedNow.Add(-time.Hour), found: true}
	s := testService(t, defaultConfig(), tr, ld, st)

	rep, err := s.RunCycle(context.Background())
	require.Error(t, err)

	assert.Equal(t, StageFailed, rep.Stage)
	require.Len(t, ld.payloads, 1)
	assert.Empty(t, st.saved)
}

func TestStateLoadFailureFailsCycle(t *testing.T) {
	tr := &fakeTracker{}
	ld := &fakeLoader{}
	st := &fakeState{loadErr: errors.New("backend unreachable")}
	s := testService(t, defaultConfig(), tr, ld, st)

	_, err := s.RunCycle(context.Background())
	require.Error(t, err)
	assert.Zero(t, tr.searches, "no search before state is known")
}

func TestViolationSkipsIssueNotCycle(t *testing.T) {
	created := fixedNow.Add(-48 * time.Hour)
	broken := testBundle("DATA-2", created, created)
	broken.Issue.UpdatedAt = domain.DateTime{}
	tr := &fakeTracker{
		keys: []string{"DATA-1", "DATA-2", "DATA-3"},
		bundles: map[string]*domain.IssueBundle{
			"DATA-1": testBundle("DATA-1", created, created),
			"DATA-2": broken,
			"DATA-3": testBundle("DATA-3", created, created),
		},
		fetchErr: map[string]error{"DATA-3": domain.ContractViolation("DATA-3", "unparseable changelog")},
	}
	ld := &fakeLoader{}
	st := &fakeState{found: false}
	s := testService(t, defaultConfig(), tr, ld, st)

	rep, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Skipped)
	assert.ElementsMatch(t, []string{"DATA-2", "DATA-3"}, rep.SkippedKeys)
	assert.Equal(t, 1, rep.Issues)
	require.Len(t, st.saved, 1, "skips do not block the boundary")
}

func TestDryRunDoesNotAdvanceState(t *testing.T) {
	created := fixedNow.Add(-48 * time.Hour)
	tr := &fakeTracker{
		keys:    []string{"DATA-1"},
		bundles: map[string]*domain.IssueBundle{"DATA-1": testBundle("DATA-1", created, created)},
	}
	ld := &fakeLoader{}
	st := &fakeState{found: false}
	cfg := defaultConfig()
	cfg.UploadEnabled = false
	s := testService(t, cfg, tr, ld, st)

	rep, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StageLoaded, rep.Stage)
	assert.False(t, rep.StateAdvanced)
	assert.Empty(t, st.saved, "dry runs never move the boundary")
	require.Len(t, ld.payloads, 1, "rows still flow to the loader for rendering")
}

func TestChangelogExportDisabled(t *testing.T) {
	created := fixedNow.Add(-48 * time.Hour)
	tr := &fakeTracker{
		keys:    []string{"DATA-1"},
		bundles: map[string]*domain.IssueBundle{"DATA-1": testBundle("DATA-1", created, created)},
	}
	ld := &fakeLoader{}
	st := &fakeState{found: false}
	cfg := defaultConfig()
	cfg.ChangelogExport = false
	s := testService(t, cfg, tr, ld, st)

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, ld.payloads, 1)
	assert.Len(t, ld.payloads[0].Issues, 1)
	assert.Empty(t, ld.payloads[0].Changelog)
}

type blockingTracker struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTracker) Search(ctx context.Context, since, until time.Time) ([]string, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

func (b *blockingTracker) Fetch(ctx context.Context, key string) (*domain.IssueBundle, error) {
	return nil, errors.New("unused")
}

func TestConcurrentCycleRejected(t *testing.T) {
	tr := &blockingTracker{entered: make(chan struct{}), release: make(chan struct{})}
	st := &fakeState{found: false}
	s := testService(t, defaultConfig(), tr, &fakeLoader{}, st)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunCycle(context.Background())
		done <- err
	}()
	<-tr.entered

	_, err := s.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInFlight)

	close(tr.release)
	require.NoError(t, <-done)
}

func TestLastReportReturnsCopy(t *testing.T) {
	tr := &fakeTracker{}
	st := &fakeState{found: false}
	s := testService(t, defaultConfig(), tr, &fakeLoader{}, st)

	assert.Nil(t, s.LastReport(), "no report before the first cycle")

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	first := s.LastReport()
	require.NotNil(t, first)
	first.Issues = 999
	first.SkippedKeys = append(first.SkippedKeys, "DATA-X")

	second := s.LastReport()
	assert.Zero(t, second.Issues)
	assert.Empty(t, second.SkippedKeys)
}

func TestTransformFinalizesClosedFlags(t *testing.T) {
	created := fixedNow.Add(-72 * time.Hour)
	resolved := fixedNow.Add(-24 * time.Hour)
	moved := fixedNow.Add(-48 * time.Hour)

	s := testService(t, defaultConfig(), &fakeTracker{}, &fakeLoader{}, &fakeState{})

	t.Run("resolved issue closes at resolution time", func(t *testing.T) {
		b := testBundle("DATA-1", created, resolved)
		b.Issue.IsResolved = true
		b.Issue.ResolvedAt = domain.DateTimePtr(resolved)

		var p loader.Payload
		require.NoError(t, s.transform(b, 1, &p))
		row := p.Issues[0]
		assert.True(t, row.IsClosed)
		require.NotNil(t, row.ClosedAt)
		assert.True(t, row.ClosedAt.Time().Equal(resolved))
	})

	t.Run("terminal status closes at last transition", func(t *testing.T) {
		b := testBundle("DATA-2", created, moved)
		b.Issue.Status = "Done"
		b.StatusLog = []domain.StatusChange{{At: moved, From: "Open", To: "Done"}}

		var p loader.Payload
		require.NoError(t, s.transform(b, 1, &p))
		row := p.Issues[0]
		assert.True(t, row.IsClosed)
		require.NotNil(t, row.ClosedAt)
		assert.True(t, row.ClosedAt.Time().Equal(moved))
	})

	t.Run("created directly in terminal status closes at creation", func(t *testing.T) {
		b := testBundle("DATA-3", created, created)
		b.Issue.Status = "Rejected"

		var p loader.Payload
		require.NoError(t, s.transform(b, 1, &p))
		row := p.Issues[0]
		assert.True(t, row.IsClosed)
		require.NotNil(t, row.ClosedAt)
		assert.True(t, row.ClosedAt.Time().Equal(created))
	})

	t.Run("open issue stays open", func(t *testing.T) {
		b := testBundle("DATA-4", created, created)

		var p loader.Payload
		require.NoError(t, s.transform(b, 1, &p))
		row := p.Issues[0]
		assert.False(t, row.IsClosed)
		assert.Nil(t, row.ClosedAt)
	})
}
