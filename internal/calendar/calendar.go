/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package calendar converts timestamp pairs into elapsed wall-clock and
// business seconds under a configured working-week schedule.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

// ErrNegativeInterval is returned when an interval's end precedes its start.
// Upstream transform code treats it as a data contract violation.
var ErrNegativeInterval = errors.New("calendar: interval end precedes start")

// Calendar measures business time inside [StartHour, EndHour) on the
// configured weekdays, evaluated in a fixed location.
type Calendar struct {
	workdays  map[time.Weekday]bool
	startHour int
	endHour   int
	loc       *time.Location
}

// New validates the schedule up front; a misconfigured calendar is a startup
// error, not something to discover mid-cycle.
func New(workdays []int, startHour, endHour int, loc *time.Location) (*Calendar, error) {
	if len(workdays) == 0 {
		return nil, fmt.Errorf("calendar: at least one workday is required")
	}
	days := make(map[time.Weekday]bool, len(workdays))
	for _, d := range workdays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("calendar: weekday %d out of range 0..6", d)
		}
		days[time.Weekday(d)] = true
	}
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return nil, fmt.Errorf("calendar: business hours %d..%d are not a valid window", startHour, endHour)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{workdays: days, startHour: startHour, endHour: endHour, loc: loc}, nil
}

// WallSeconds is the total elapsed time between start and end in whole seconds.
func (c *Calendar) WallSeconds(start, end time.Time) (int64, error) {
	if end.Before(start) {
		return 0, ErrNegativeInterval
	}
	return int64(end.Sub(start) / time.Second), nil
}

// BusinessSeconds counts only the seconds of [start, end) that fall inside a
// business window. Intervals entirely outside the schedule yield zero.
func (c *Calendar) BusinessSeconds(start, end time.Time) (int64, error) {
	if end.Before(start) {
		return 0, ErrNegativeInterval
	}
	start = start.In(c.loc)
	end = end.In(c.loc)

	var total int64
	for day := start; !c.dayStart(day).After(end); day = day.AddDate(0, 0, 1) {
		if !c.workdays[day.Weekday()] {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), c.startHour, 0, 0, 0, c.loc)
		closed := time.Date(day.Year(), day.Month(), day.Day(), c.endHour, 0, 0, 0, c.loc)
		s, e := start, end
		if s.Before(open) {
			s = open
		}
		if e.After(closed) {
			e = closed
		}
		if e.After(s) {
			total += int64(e.Sub(s) / time.Second)
		}
	}
	return total, nil
}

func (c *Calendar) dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}
