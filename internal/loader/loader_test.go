package loader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamedShams/tracker-pulse/internal/config"
	"github.com/HamedShams/tracker-pulse/internal/domain"
)

// fakeSink mimics versioned-replace semantics: rows accumulate per table and
// Deduplicate keeps the highest version per issue key.
type fakeSink struct {
	inserts   map[string]int
	rows      map[string][]any
	dedups    []string
	failWith  error
	dedupFail error
	calls     []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{inserts: map[string]int{}, rows: map[string][]any{}}
}

func (f *fakeSink) InsertBatch(_ context.Context, table string, rows []any) error {
	f.inserts[table]++
	f.calls = append(f.calls, "insert:"+table)
	if f.failWith != nil {
		return f.failWith
	}
	f.rows[table] = append(f.rows[table], rows...)
	return nil
}

func (f *fakeSink) Deduplicate(_ context.Context, table string) error {
	f.dedups = append(f.dedups, table)
	f.calls = append(f.calls, "optimize:"+table)
	if f.dedupFail != nil {
		return f.dedupFail
	}
	latest := map[string]domain.Issue{}
	var rest []any
	for _, row := range f.rows[table] {
		issue, ok := row.(domain.Issue)
		if !ok {
			rest = append(rest, row)
			continue
		}
		if cur, seen := latest[issue.Key]; !seen || issue.Version >= cur.Version {
			latest[issue.Key] = issue
		}
	}
	if len(latest) > 0 {
		collapsed := rest
		for _, issue := range latest {
			collapsed = append(collapsed, issue)
		}
		f.rows[table] = collapsed
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		CHIssuesTable:     "issues",
		CHChangelogTable:  "issues_changelog",
		CHMetricsTable:    "issue_metrics",
		CHAutoDeduplicate: true,
		UploadEnabled:     true,
		RetryTries:        3,
		RetryBaseDelay:    time.Millisecond,
		RetryFactor:       2,
	}
}

func payload() Payload {
	return Payload{
		Issues:    []domain.Issue{{Key: "DATA-1", Version: 1}},
		Changelog: []domain.ChangelogEvent{{IssueKey: "DATA-1", Version: 1}},
		Metrics:   []domain.StatusMetric{{IssueKey: "DATA-1", StatusName: "open", Version: 1}},
	}
}

func TestLoadWritesTablesInOrder(t *testing.T) {
	sink := newFakeSink()
	l := New(testConfig(), sink, zerolog.Nop())
	require.NoError(t, l.Load(context.Background(), payload()))

	assert.Equal(t, []string{
		"insert:issues", "optimize:issues",
		"insert:issues_changelog", "optimize:issues_changelog",
		"insert:issue_metrics", "optimize:issue_metrics",
	}, sink.calls)
}

func TestLoadSkipsEmptyBatches(t *testing.T) {
	sink := newFakeSink()
	l := New(testConfig(), sink, zerolog.Nop())
	p := payload()
	p.Changelog = nil
	require.NoError(t, l.Load(context.Background(), p))
	assert.Zero(t, sink.inserts["issues_changelog"])
	assert.Equal(t, 1, sink.inserts["issues"])
	assert.Equal(t, 1, sink.inserts["issue_metrics"])
}

func TestLoadRetriesExactlyTriesTimes(t *testing.T) {
	sink := newFakeSink()
	sink.failWith = errors.New("sink down")
	l := New(testConfig(), sink, zerolog.Nop())

	err := l.Load(context.Background(), payload())
	require.Error(t, err)
	assert.Equal(t, 3, sink.inserts["issues"])
	// The first table never succeeded, so later tables were not attempted.
	assert.Zero(t, sink.inserts["issues_changelog"])
	assert.Zero(t, sink.inserts["issue_metrics"])
}

func TestLoadDedupFailureIsBestEffort(t *testing.T) {
	sink := newFakeSink()
	sink.dedupFail = errors.New("OPTIMIZE busy")
	l := New(testConfig(), sink, zerolog.Nop())
	require.NoError(t, l.Load(context.Background(), payload()))
	assert.Equal(t, 1, sink.inserts["issues"])
	assert.Len(t, sink.dedups, 3)
}

func TestLoadDedupDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.CHAutoDeduplicate = false
	sink := newFakeSink()
	l := New(cfg, sink, zerolog.Nop())
	require.NoError(t, l.Load(context.Background(), payload()))
	assert.Empty(t, sink.dedups)
}

func TestLoadDryRunTouchesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.UploadEnabled = false
	sink := newFakeSink()
	l := New(cfg, sink, zerolog.Nop())
	require.NoError(t, l.Load(context.Background(), payload()))
	assert.Empty(t, sink.calls)
}

func TestReloadCollapsesByVersion(t *testing.T) {
	sink := newFakeSink()
	l := New(testConfig(), sink, zerolog.Nop())

	// The same logical issue loaded twice with growing versions, as happens
	// when a window is reprocessed after a failed state save.
	for v := int64(1); v <= 2; v++ {
		p := Payload{Issues: []domain.Issue{{Key: "DATA-1", Version: v}}}
		require.NoError(t, l.Load(context.Background(), p))
	}

	require.Len(t, sink.rows["issues"], 1)
	got := sink.rows["issues"][0].(domain.Issue)
	assert.Equal(t, int64(2), got.Version)
}

func TestLoadErrorMentionsTable(t *testing.T) {
	sink := newFakeSink()
	sink.failWith = errors.New("sink down")
	l := New(testConfig(), sink, zerolog.Nop())
	err := l.Load(context.Background(), payload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("insert into %s", "issues"))
}
