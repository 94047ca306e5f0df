package domain

import (
	"fmt"
	"time"
)

// Wire layouts for DateTime64(3) / Date columns, always UTC.
const (
	dateTimeLayout = "2006-01-02T15:04:05.000"
	dateLayout     = "2006-01-02"
)

type DateTime time.Time

func NewDateTime(t time.Time) DateTime { return DateTime(t.UTC()) }

func DateTimePtr(t time.Time) *DateTime {
	d := NewDateTime(t)
	return &d
}

func (d DateTime) Time() time.Time { return time.Time(d) }
func (d DateTime) IsZero() bool    { return time.Time(d).IsZero() }

func (d DateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).UTC().Format(dateTimeLayout) + `"`), nil
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("domain: invalid datetime %s", s)
	}
	t, err := time.ParseInLocation(dateTimeLayout, s[1:len(s)-1], time.UTC)
	if err != nil {
		return fmt.Errorf("domain: invalid datetime %s: %w", s, err)
	}
	*d = DateTime(t)
	return nil
}

type Date time.Time

func NewDate(t time.Time) Date { return Date(t.UTC()) }

func DatePtr(t time.Time) *Date {
	d := NewDate(t)
	return &d
}

func (d Date) Time() time.Time { return time.Time(d) }
func (d Date) IsZero() bool    { return time.Time(d).IsZero() }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).UTC().Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("domain: invalid date %s", s)
	}
	t, err := time.ParseInLocation(dateLayout, s[1:len(s)-1], time.UTC)
	if err != nil {
		return fmt.Errorf("domain: invalid date %s: %w", s, err)
	}
	*d = Date(t)
	return nil
}

type Issue struct {
	Version     int64     `json:"version"`
	Queue       string    `json:"queue"`
	Key         string    `json:"issue_key"`
	Title       string    `json:"title"`
	IssueType   string    `json:"issue_type"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	Resolution  string    `json:"resolution,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	Author      string    `json:"author,omitempty"`
	Tags        []string  `json:"tags"`
	Components  []string  `json:"components"`
	Sprints     []string  `json:"sprints"`
	CreatedAt   DateTime  `json:"created_at"`
	UpdatedAt   DateTime  `json:"updated_at"`
	ResolvedAt  *DateTime `json:"resolved_at,omitempty"`
	ClosedAt    *DateTime `json:"closed_at,omitempty"`
	StartDate   *Date     `json:"start_date,omitempty"`
	EndDate     *Date     `json:"end_date,omitempty"`
	Deadline    *Date     `json:"deadline,omitempty"`
	StoryPoints float64   `json:"story_points"`
	ParentKey   string    `json:"parent_issue_key,omitempty"`
	EpicKey     string    `json:"epic_issue_key,omitempty"`
	IsSubtask   bool      `json:"is_subtask"`
	IsResolved  bool      `json:"is_resolved"`
	IsClosed    bool      `json:"is_closed"`
	WasMoved    bool      `json:"was_moved"`
	MovedAt     *DateTime `json:"moved_at,omitempty"`
	MovedBy     string    `json:"moved_by,omitempty"`
}

// StatusChange is one workflow transition, the unit the metrics calculator
// consumes. Ascending order by At is the producer's contract.
type StatusChange struct {
	At   time.Time
	From string
	To   string
}

// IssueBundle is one issue as fetched: the row itself, its raw changelog and
// the status transitions extracted from it. Version, closed flags and
// closed_at are finalized by the transform step.
type IssueBundle struct {
	Issue     Issue
	Changelog []ChangelogEvent
	StatusLog []StatusChange
}

type ChangelogEvent struct {
	Version      int64    `json:"version"`
	IssueKey     string   `json:"issue_key"`
	Queue        string   `json:"queue"`
	EventTime    DateTime `json:"event_time"`
	EventType    string   `json:"event_type"`
	Transport    string   `json:"transport"`
	Actor        string   `json:"actor"`
	ChangedField string   `json:"changed_field"`
	ChangedFrom  string   `json:"changed_from,omitempty"`
	ChangedTo    string   `json:"changed_to,omitempty"`
}

type StatusMetric struct {
	Version       int64    `json:"version"`
	IssueKey      string   `json:"issue_key"`
	StatusName    string   `json:"status_name"`
	Transitions   int      `json:"status_transitions_count"`
	DurationSecs  int64    `json:"duration"`
	HumanDuration string   `json:"human_readable_duration"`
	BusinessSecs  int64    `json:"busdays_duration"`
	HumanBusiness string   `json:"human_readable_busdays_duration"`
	LastSeen      DateTime `json:"last_seen"`
}
