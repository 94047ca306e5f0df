/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package cycletime turns an issue's ordered status history into per-status
// duration metrics. Creation opens the first status, every status change
// closes the previous interval and opens the next, and the final interval
// closes at the resolution timestamp, at the closing transition for issues
// parked in a closed status, or at the transform instant otherwise.
package cycletime

import (
	"time"

	"github.com/HamedShams/tracker-pulse/internal/calendar"
	"github.com/HamedShams/tracker-pulse/internal/domain"
	"github.com/HamedShams/tracker-pulse/internal/timeutil"
)

// Input is everything the calculator needs about one issue. Events ascend by
// time; ties keep their original order.
type Input struct {
	IssueKey   string
	CreatedAt  time.Time
	Status     string
	ResolvedAt *time.Time
	Events     []domain.StatusChange
}

type Calculator struct {
	cal    *calendar.Calendar
	closed map[string]bool
	now    func() time.Time
}

// New builds a calculator. closedStatuses lists the status names treated as
// terminal; now is replaceable for tests and defaults to time.Now.
func New(cal *calendar.Calendar, closedStatuses []string, now func() time.Time) *Calculator {
	closed := make(map[string]bool, len(closedStatuses))
	for _, s := range closedStatuses {
		closed[domain.Snake(s)] = true
	}
	if now == nil {
		now = time.Now
	}
	return &Calculator{cal: cal, closed: closed, now: now}
}

// IsClosed reports whether a raw status name belongs to the terminal set.
func (c *Calculator) IsClosed(status string) bool {
	return c.closed[domain.Snake(status)]
}

type acc struct {
	visits   int
	wall     int64
	business int64
	lastSeen time.Time
}

// Metrics computes one StatusMetric per distinct status the issue has been
// in, ordered by first visit. Every issue with a creation time yields at
// least one metric. Version is left zero for the caller to stamp.
func (c *Calculator) Metrics(in Input) ([]domain.StatusMetric, error) {
	if in.CreatedAt.IsZero() {
		return nil, domain.ContractViolation(in.IssueKey, "missing creation time")
	}

	accs := map[string]*acc{}
	var order []string
	enter := func(status string, at time.Time) *acc {
		a, ok := accs[status]
		if !ok {
			a = &acc{}
			accs[status] = a
			order = append(order, status)
		}
		a.visits++
		if at.After(a.lastSeen) {
			a.lastSeen = at
		}
		return a
	}
	touch := func(a *acc, at time.Time) {
		if at.After(a.lastSeen) {
			a.lastSeen = at
		}
	}

	initial := domain.Snake(in.Status)
	if len(in.Events) > 0 {
		if in.Events[0].From == "" {
			return nil, domain.ContractViolation(in.IssueKey, "first status change has no origin status")
		}
		initial = domain.Snake(in.Events[0].From)
	}
	if initial == "" {
		return nil, domain.ContractViolation(in.IssueKey, "issue has no status")
	}

	cur := initial
	curAcc := enter(cur, in.CreatedAt)
	curStart := in.CreatedAt
	prev := in.CreatedAt

	for _, e := range in.Events {
		if e.At.Before(in.CreatedAt) {
			return nil, domain.ContractViolation(in.IssueKey, "status change at %s precedes creation at %s",
				e.At.Format(time.RFC3339), in.CreatedAt.Format(time.RFC3339))
		}
		if e.At.Before(prev) {
			return nil, domain.ContractViolation(in.IssueKey, "status changes out of order at %s", e.At.Format(time.RFC3339))
		}
		if e.To == "" {
			return nil, domain.ContractViolation(in.IssueKey, "status change at %s has no target status", e.At.Format(time.RFC3339))
		}
		if err := c.addSpan(curAcc, curStart, e.At); err != nil {
			return nil, domain.ContractViolation(in.IssueKey, "interval in %q: %v", cur, err)
		}
		touch(curAcc, e.At)

		cur = domain.Snake(e.To)
		curAcc = enter(cur, e.At)
		curStart = e.At
		prev = e.At
	}

	// Close the still-open interval. Resolution wins; a terminal status stops
	// the clock at its own transition; anything else is still accruing.
	end := c.now()
	switch {
	case in.ResolvedAt != nil:
		end = *in.ResolvedAt
	case c.closed[cur]:
		end = curStart
	}
	if end.Before(curStart) {
		end = curStart
	}
	if err := c.addSpan(curAcc, curStart, end); err != nil {
		return nil, domain.ContractViolation(in.IssueKey, "interval in %q: %v", cur, err)
	}

	out := make([]domain.StatusMetric, 0, len(order))
	for _, status := range order {
		a := accs[status]
		out = append(out, domain.StatusMetric{
			IssueKey:      in.IssueKey,
			StatusName:    status,
			Transitions:   a.visits,
			DurationSecs:  a.wall,
			HumanDuration: timeutil.ToHuman(time.Duration(a.wall) * time.Second),
			BusinessSecs:  a.business,
			HumanBusiness: timeutil.ToHuman(time.Duration(a.business) * time.Second),
			LastSeen:      domain.NewDateTime(a.lastSeen),
		})
	}
	return out, nil
}

func (c *Calculator) addSpan(a *acc, from, to time.Time) error {
	wall, err := c.cal.WallSeconds(from, to)
	if err != nil {
		return err
	}
	bus, err := c.cal.BusinessSeconds(from, to)
	if err != nil {
		return err
	}
	a.wall += wall
	a.business += bus
	return nil
}
