// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/senseyeio/duration"
)

// BusinessCalendar turns a timer expression into a due date.
type BusinessCalendar interface {
	ResolveDueDate(expression string, now time.Time) (time.Time, error)
}

type Calendars map[string]BusinessCalendar

func DefaultCalendars() Calendars {
	return Calendars{
		model.CalendarDuration: DurationCalendar{},
		model.CalendarDueDate:  DueDateCalendar{},
		model.CalendarCycle:    CycleCalendar{},
	}
}

func (c Calendars) ResolveDueDate(name string, expression string, now time.Time) (time.Time, error) {
	cal, ok := c[name]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown business calendar %q", name)
	}
	return cal.ResolveDueDate(expression, now)
}

// DurationCalendar resolves ISO-8601 durations such as PT1H relative to now.
type DurationCalendar struct{}

func (DurationCalendar) ResolveDueDate(expression string, now time.Time) (time.Time, error) {
	d, err := duration.ParseISO8601(strings.TrimSpace(expression))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", expression, err)
	}
	return d.Shift(now), nil
}

// DueDateCalendar resolves absolute ISO-8601 date times.
type DueDateCalendar struct{}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func (DueDateCalendar) ResolveDueDate(expression string, _ time.Time) (time.Time, error) {
	return parseDate(expression)
}

func parseDate(expression string) (time.Time, error) {
	expression = strings.TrimSpace(expression)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, expression); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", expression)
}

// CycleCalendar resolves repeating intervals R[n]/[start/]duration.
type CycleCalendar struct{}

func (CycleCalendar) ResolveDueDate(expression string, now time.Time) (time.Time, error) {
	c, err := ParseCycle(expression)
	if err != nil {
		return time.Time{}, err
	}
	if !c.Start.IsZero() && c.Start.After(now) {
		return c.Start, nil
	}
	return c.Interval.Shift(now), nil
}

// Cycle is a parsed repeating interval. Repetitions < 0 repeats forever.
type Cycle struct {
	Repetitions int
	Start       time.Time
	Interval    duration.Duration
	interval    string
}

func ParseCycle(expression string) (Cycle, error) {
	parts := strings.Split(strings.TrimSpace(expression), "/")
	c := Cycle{Repetitions: 1}
	if strings.HasPrefix(parts[0], "R") {
		if n := strings.TrimPrefix(parts[0], "R"); n == "" {
			c.Repetitions = -1
		} else {
			reps, err := strconv.Atoi(n)
			if err != nil || reps < 0 {
				return c, fmt.Errorf("invalid cycle repetitions in %q", expression)
			}
			c.Repetitions = reps
		}
		parts = parts[1:]
	}
	switch len(parts) {
	case 1:
	case 2:
		start, err := parseDate(parts[0])
		if err != nil {
			return c, fmt.Errorf("invalid cycle start in %q: %w", expression, err)
		}
		c.Start = start
		parts = parts[1:]
	default:
		return c, fmt.Errorf("invalid cycle %q", expression)
	}
	if parts[0] == "" {
		return c, errors.New("cycle without interval")
	}
	interval, err := duration.ParseISO8601(parts[0])
	if err != nil {
		return c, fmt.Errorf("invalid cycle interval in %q: %w", expression, err)
	}
	c.Interval = interval
	c.interval = parts[0]
	return c, nil
}

// Next returns the cycle expression left after one firing and whether the
// timer repeats at all.
func (c Cycle) Next() (string, bool) {
	switch {
	case c.Repetitions < 0:
		return "R/" + c.interval, true
	case c.Repetitions <= 1:
		return "", false
	}
	return fmt.Sprintf("R%d/%s", c.Repetitions-1, c.interval), true
}
