/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package tracker adapts the remote issue tracker API to the shapes the ETL
// consumes: issue rows, changelog rows and status transition logs.
package tracker

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/rs/zerolog"

	"github.com/HamedShams/tracker-pulse/internal/config"
	"github.com/HamedShams/tracker-pulse/internal/domain"
)

type Client struct {
	jc       *jira.Client
	queues   []string
	extraJQL string
	pageSize int
	spField  string
	loc      *time.Location
	log      zerolog.Logger
}

func New(cfg config.Config, log zerolog.Logger) (*Client, error) {
	var hc *http.Client
	if cfg.TrackerPAT != "" {
		tp := jira.BearerAuthTransport{Token: cfg.TrackerPAT}
		hc = tp.Client()
	} else {
		tp := jira.BasicAuthTransport{Username: cfg.TrackerUsername, Password: cfg.TrackerPassword}
		hc = tp.Client()
	}
	hc.Timeout = cfg.TrackerTimeout

	jc, err := jira.NewClient(hc, cfg.TrackerBaseURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: client: %w", err)
	}
	return &Client{
		jc:       jc,
		queues:   cfg.TrackerQueues,
		extraJQL: cfg.TrackerExtraJQL,
		pageSize: cfg.TrackerPageSize,
		spField:  cfg.StoryPointsField,
		loc:      cfg.Location(),
		log:      log,
	}, nil
}

// buildJQL covers [since, until). JQL datetimes have minute precision and are
// interpreted in the configured timezone; the truncation can only widen the
// window, which replays tolerate.
func (c *Client) buildJQL(since, until time.Time) string {
	const layout = "2006-01-02 15:04"
	parts := make([]string, 0, 4)
	if len(c.queues) > 0 {
		parts = append(parts, fmt.Sprintf("project in (%s)", strings.Join(c.queues, ", ")))
	}
	parts = append(parts,
		fmt.Sprintf("updated >= '%s'", since.In(c.loc).Format(layout)),
		fmt.Sprintf("updated < '%s'", until.In(c.loc).Format(layout)),
	)
	if c.extraJQL != "" {
		parts = append(parts, c.extraJQL)
	}
	return strings.Join(parts, " AND ") + " ORDER BY updated ASC"
}

// Search pages through every issue updated inside [since, until) and returns
// their keys in the API's ascending update order.
func (c *Client) Search(ctx context.Context, since, until time.Time) ([]string, error) {
	jql := c.buildJQL(since, until)
	c.log.Debug().Str("jql", jql).Msg("searching issues")

	var keys []string
	start := 0
	for {
		issues, resp, err := c.jc.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{
			StartAt:    start,
			MaxResults: c.pageSize,
			Fields:     []string{"key", "updated"},
		})
		if err != nil {
			return nil, fmt.Errorf("tracker: search: %w", err)
		}
		for _, is := range issues {
			keys = append(keys, is.Key)
		}
		start += len(issues)
		if len(issues) == 0 || start >= resp.Total {
			return keys, nil
		}
	}
}

// Fetch loads one issue with its full changelog and converts it.
func (c *Client) Fetch(ctx context.Context, key string) (*domain.IssueBundle, error) {
	issue, _, err := c.jc.Issue.GetWithContext(ctx, key, &jira.GetQueryOptions{Expand: "changelog"})
	if err != nil {
		return nil, fmt.Errorf("tracker: fetch %s: %w", key, err)
	}
	return c.convert(issue)
}

func (c *Client) convert(issue *jira.Issue) (*domain.IssueBundle, error) {
	if issue.Fields == nil {
		return nil, domain.ContractViolation(issue.Key, "issue has no fields")
	}
	f := issue.Fields

	queue := f.Project.Key
	if queue == "" {
		queue, _, _ = strings.Cut(issue.Key, "-")
	}

	row := domain.Issue{
		Queue:      queue,
		Key:        issue.Key,
		Title:      domain.CleanTitle(f.Summary),
		IssueType:  domain.Snake(f.Type.Name),
		Tags:       append([]string(nil), f.Labels...),
		IsSubtask:  f.Type.Subtask,
		IsResolved: f.Resolution != nil,
	}
	if f.Status != nil {
		row.Status = domain.Snake(f.Status.Name)
	}
	if f.Priority != nil {
		row.Priority = domain.Snake(f.Priority.Name)
	}
	if f.Resolution != nil {
		row.Resolution = domain.Snake(f.Resolution.Name)
	}
	if f.Assignee != nil {
		row.Assignee = userIdent(f.Assignee)
	}
	if f.Creator != nil {
		row.Author = userIdent(f.Creator)
	} else if f.Reporter != nil {
		row.Author = userIdent(f.Reporter)
	}
	for _, comp := range f.Components {
		if comp != nil {
			row.Components = append(row.Components, comp.Name)
		}
	}
	if f.Sprint != nil {
		row.Sprints = append(row.Sprints, f.Sprint.Name)
	}
	if created := time.Time(f.Created); !created.IsZero() {
		row.CreatedAt = domain.NewDateTime(created)
	}
	if updated := time.Time(f.Updated); !updated.IsZero() {
		row.UpdatedAt = domain.NewDateTime(updated)
	}
	if resolved := time.Time(f.Resolutiondate); !resolved.IsZero() {
		row.ResolvedAt = domain.DateTimePtr(resolved)
	}
	if due := time.Time(f.Duedate); !due.IsZero() {
		row.Deadline = domain.DatePtr(due)
	}
	if f.Parent != nil {
		row.ParentKey = f.Parent.Key
		row.IsSubtask = true
	}
	if f.Epic != nil {
		row.EpicKey = f.Epic.Key
	}
	if v, ok := f.Unknowns[c.spField]; ok {
		if points, ok := v.(float64); ok {
			row.StoryPoints = points
		}
	}

	bundle := &domain.IssueBundle{Issue: row}
	if issue.Changelog != nil {
		if err := c.convertChangelog(issue.Key, queue, issue.Changelog, bundle); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(bundle.StatusLog, func(i, j int) bool {
		return bundle.StatusLog[i].At.Before(bundle.StatusLog[j].At)
	})
	return bundle, nil
}

func (c *Client) convertChangelog(key, queue string, cl *jira.Changelog, bundle *domain.IssueBundle) error {
	for _, h := range cl.Histories {
		at, err := h.CreatedTime()
		if err != nil {
			return domain.ContractViolation(key, "changelog entry %s has invalid time %q", h.Id, h.Created)
		}
		actor := userIdent(&h.Author)
		for _, item := range h.Items {
			field := strings.ToLower(item.Field)
			bundle.Changelog = append(bundle.Changelog, domain.ChangelogEvent{
				IssueKey:     key,
				Queue:        queue,
				EventTime:    domain.NewDateTime(at),
				EventType:    eventType(field),
				Transport:    "api",
				Actor:        actor,
				ChangedField: field,
				ChangedFrom:  item.FromString,
				ChangedTo:    item.ToString,
			})
			switch field {
			case "status":
				bundle.StatusLog = append(bundle.StatusLog, domain.StatusChange{
					At:   at,
					From: item.FromString,
					To:   item.ToString,
				})
			case "key", "project":
				bundle.Issue.WasMoved = true
				bundle.Issue.MovedAt = domain.DateTimePtr(at)
				bundle.Issue.MovedBy = actor
			}
		}
	}
	return nil
}

func eventType(field string) string {
	switch field {
	case "status":
		return "IssueWorkflow"
	case "key", "project":
		return "IssueMoved"
	default:
		return "IssueUpdated"
	}
}

func userIdent(u *jira.User) string {
	if u == nil {
		return ""
	}
	if u.EmailAddress != "" {
		return u.EmailAddress
	}
	if u.Name != "" {
		return u.Name
	}
	return u.DisplayName
}
