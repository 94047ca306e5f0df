/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HamedShams/tracker-pulse/internal/timeutil"
)

type Config struct {
	AppEnv   string
	TZ       string
	HTTPAddr string

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	TrackerBaseURL  string
	TrackerPAT      string
	TrackerUsername string
	TrackerPassword string
	TrackerQueues   []string
	TrackerExtraJQL string
	TrackerPageSize int
	TrackerTimeout  time.Duration

	StoryPointsField string

	ETLInterval     time.Duration
	InitialRange    time.Duration
	ClosedStatuses  []string
	ChangelogExport bool
	UploadEnabled   bool
	ProgressEvery   int

	Workdays          []int
	BusinessStartHour int
	BusinessEndHour   int

	CHHost            string
	CHPort            int
	CHProto           string
	CHCACertPath      string
	CHUser            string
	CHPassword        string
	CHDatabase        string
	CHIssuesTable     string
	CHChangelogTable  string
	CHMetricsTable    string
	CHAutoDeduplicate bool
	CHTimeout         time.Duration

	RetryTries     int
	RetryBaseDelay time.Duration
	RetryFactor    float64
	RetryJitter    bool

	StateBackend    string
	StateSerializer string
	StateFilePath   string
	StateKey        string

	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	RedisURL string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoi(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func f64(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func boolenv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// hdur accepts the human range syntax ("1w", "3mo 2d") used for wide ETL windows,
// falling back to time.ParseDuration for plain values like "90m".
func hdur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := timeutil.FromHuman(v); err == nil {
		return d
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func parseInts(csv string) []int {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

func parseStrings(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func Load() Config {
	cfg := Config{
		AppEnv:   getenv("APP_ENV", "dev"),
		TZ:       getenv("APP_TZ", "UTC"),
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		LogFile:       getenv("LOG_FILE", ""),
		LogMaxSizeMB:  atoi("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups: atoi("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: atoi("LOG_MAX_AGE_DAYS", 14),

		TrackerBaseURL:  getenv("TRACKER_BASE_URL", ""),
		TrackerPAT:      getenv("TRACKER_PAT", ""),
		TrackerUsername: getenv("TRACKER_USERNAME", ""),
		TrackerPassword: getenv("TRACKER_PASSWORD", ""),
		TrackerQueues:   parseStrings(getenv("TRACKER_QUEUES", "")),
		TrackerExtraJQL: getenv("TRACKER_EXTRA_JQL", ""),
		TrackerPageSize: atoi("TRACKER_PAGE_SIZE", 100),
		TrackerTimeout:  dur("TRACKER_TIMEOUT", 30*time.Second),

		StoryPointsField: getenv("TRACKER_STORY_POINTS_FIELD", "customfield_10016"),

		ETLInterval:     dur("ETL_INTERVAL", 30*time.Minute),
		InitialRange:    hdur("ETL_INITIAL_RANGE", 7*24*time.Hour),
		ClosedStatuses:  parseStrings(getenv("ETL_CLOSED_STATUSES", "closed,rejected,resolved,cancelled,released")),
		ChangelogExport: boolenv("ETL_CHANGELOG_EXPORT", false),
		UploadEnabled:   boolenv("ETL_UPLOAD_ENABLED", true),
		ProgressEvery:   atoi("ETL_PROGRESS_EVERY", 100),

		Workdays:          parseInts(getenv("BUSINESS_WORKDAYS", "1,2,3,4,5")),
		BusinessStartHour: atoi("BUSINESS_START_HOUR", 9),
		BusinessEndHour:   atoi("BUSINESS_END_HOUR", 19),

		CHHost:            getenv("CLICKHOUSE_HOST", "localhost"),
		CHPort:            atoi("CLICKHOUSE_PORT", 8123),
		CHProto:           getenv("CLICKHOUSE_PROTO", "http"),
		CHCACertPath:      getenv("CLICKHOUSE_CACERT", ""),
		CHUser:            getenv("CLICKHOUSE_USER", "default"),
		CHPassword:        getenv("CLICKHOUSE_PASSWORD", ""),
		CHDatabase:        getenv("CLICKHOUSE_DATABASE", "agile"),
		CHIssuesTable:     getenv("CLICKHOUSE_ISSUES_TABLE", "issues"),
		CHChangelogTable:  getenv("CLICKHOUSE_CHANGELOG_TABLE", "issues_changelog"),
		CHMetricsTable:    getenv("CLICKHOUSE_METRICS_TABLE", "issue_metrics"),
		CHAutoDeduplicate: boolenv("CLICKHOUSE_AUTO_DEDUPLICATE", true),
		CHTimeout:         dur("CLICKHOUSE_TIMEOUT", 30*time.Second),

		RetryTries:     atoi("RETRY_TRIES", 3),
		RetryBaseDelay: dur("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryFactor:    f64("RETRY_FACTOR", 2.5),
		RetryJitter:    boolenv("RETRY_JITTER", true),

		StateBackend:    getenv("STATE_BACKEND", "local"),
		StateSerializer: getenv("STATE_SERIALIZER", "json"),
		StateFilePath:   getenv("STATE_FILE_PATH", "./state.json"),
		StateKey:        getenv("STATE_KEY", "tracker-pulse/state"),

		S3Bucket:    getenv("S3_BUCKET", ""),
		S3Endpoint:  getenv("S3_ENDPOINT", ""),
		S3Region:    getenv("S3_REGION", "us-east-1"),
		S3AccessKey: getenv("S3_ACCESS_KEY", ""),
		S3SecretKey: getenv("S3_SECRET_KEY", ""),

		RedisURL: getenv("REDIS_URL", "redis://localhost:6379/0"),
	}

	// set global timezone if available
	if loc, err := time.LoadLocation(cfg.TZ); err == nil {
		time.Local = loc
	} else {
		log.Printf("warning: cannot load TZ %s: %v", cfg.TZ, err)
	}

	return cfg
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate reports configuration the service must refuse to start with.
func (c Config) Validate() error {
	if c.TrackerBaseURL == "" {
		return fmt.Errorf("config: TRACKER_BASE_URL is required")
	}
	if c.TrackerPAT == "" && (c.TrackerUsername == "" || c.TrackerPassword == "") {
		return fmt.Errorf("config: tracker auth is required (TRACKER_PAT or TRACKER_USERNAME/TRACKER_PASSWORD)")
	}
	if c.TrackerPageSize < 1 || c.TrackerPageSize > 1000 {
		return fmt.Errorf("config: TRACKER_PAGE_SIZE must be within 1..1000, got %d", c.TrackerPageSize)
	}
	if c.ETLInterval <= 0 {
		return fmt.Errorf("config: ETL_INTERVAL must be positive")
	}
	if c.InitialRange <= 0 {
		return fmt.Errorf("config: ETL_INITIAL_RANGE must be positive")
	}
	if len(c.Workdays) == 0 {
		return fmt.Errorf("config: BUSINESS_WORKDAYS must name at least one weekday")
	}
	for _, d := range c.Workdays {
		if d < 0 || d > 6 {
			return fmt.Errorf("config: BUSINESS_WORKDAYS entries must be within 0..6 (Sunday..Saturday), got %d", d)
		}
	}
	if c.BusinessStartHour < 0 || c.BusinessEndHour > 24 || c.BusinessStartHour >= c.BusinessEndHour {
		return fmt.Errorf("config: business hours %d..%d are not a valid window", c.BusinessStartHour, c.BusinessEndHour)
	}
	if c.CHProto != "http" && c.CHProto != "https" {
		return fmt.Errorf("config: CLICKHOUSE_PROTO must be http or https, got %q", c.CHProto)
	}
	if c.CHHost == "" {
		return fmt.Errorf("config: CLICKHOUSE_HOST is required")
	}
	if c.RetryTries < 1 {
		return fmt.Errorf("config: RETRY_TRIES must be at least 1")
	}
	if c.RetryFactor <= 1 {
		return fmt.Errorf("config: RETRY_FACTOR must be greater than 1")
	}
	switch c.StateBackend {
	case "local", "s3", "redis":
	case "custom":
		return fmt.Errorf("config: STATE_BACKEND custom is reserved and not wired")
	default:
		return fmt.Errorf("config: unknown STATE_BACKEND %q", c.StateBackend)
	}
	switch c.StateSerializer {
	case "json", "yaml":
	default:
		return fmt.Errorf("config: unknown STATE_SERIALIZER %q", c.StateSerializer)
	}
	if c.StateBackend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("config: S3_BUCKET is required for the s3 state backend")
	}
	return nil
}
