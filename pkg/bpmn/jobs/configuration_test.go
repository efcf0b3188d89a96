// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerConfigurationKeys(t *testing.T) {
	// given
	cfg := TimerConfiguration{ActivityId: "reminder", TimerEndDate: "2025-02-01T00:00:00Z", CalendarName: "cycle"}

	// when
	raw, err := cfg.Marshal()
	require.NoError(t, err)

	// then
	var keys map[string]string
	require.NoError(t, json.Unmarshal([]byte(raw), &keys))
	assert.Equal(t, map[string]string{
		"activityId":   "reminder",
		"timerEndDate": "2025-02-01T00:00:00Z",
		"calendarName": "cycle",
	}, keys)

	parsed, err := ParseTimerConfiguration(raw)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestTimerConfigurationAcceptsBareActivityId(t *testing.T) {
	cfg, err := ParseTimerConfiguration("reminder")
	require.NoError(t, err)
	assert.Equal(t, TimerConfiguration{ActivityId: "reminder"}, cfg)

	_, err = ParseTimerConfiguration("{broken")
	assert.Error(t, err)
}

func TestEventConfiguration(t *testing.T) {
	raw, err := EventConfiguration{EventName: "order-paid", Payload: map[string]any{"amount": 10.0}}.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"eventName":"order-paid","payload":{"amount":10}}`, raw)

	cfg, err := ParseEventConfiguration(raw)
	require.NoError(t, err)
	assert.Equal(t, "order-paid", cfg.EventName)
	assert.Equal(t, 10.0, cfg.Payload["amount"])
}

func TestCalendars(t *testing.T) {
	now := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)
	cals := DefaultCalendars()

	tests := map[string]struct {
		calendar   string
		expression string
		expected   time.Time
	}{
		"duration": {"duration", "PT1H", now.Add(time.Hour)},
		"days":     {"duration", "P1DT30M", now.Add(24*time.Hour + 30*time.Minute)},
		"due date": {"dueDate", "2025-03-01T08:00:00Z", time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)},
		"cycle":    {"cycle", "R3/PT10M", now.Add(10 * time.Minute)},
		"future":   {"cycle", "R/2025-02-01T00:00:00Z/PT1H", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			due, err := cals.ResolveDueDate(tc.calendar, tc.expression, now)
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(due), "expected %s, got %s", tc.expected, due)
		})
	}
}

func TestCalendarErrors(t *testing.T) {
	cals := DefaultCalendars()
	now := time.Now()

	_, err := cals.ResolveDueDate("duration", "one hour", now)
	assert.Error(t, err)
	_, err = cals.ResolveDueDate("dueDate", "tomorrow", now)
	assert.Error(t, err)
	_, err = cals.ResolveDueDate("cycle", "Rx/PT1M", now)
	assert.Error(t, err)
	_, err = cals.ResolveDueDate("lunar", "PT1M", now)
	assert.Error(t, err)
}

func TestCycleNext(t *testing.T) {
	c, err := ParseCycle("R3/PT10M")
	require.NoError(t, err)
	next, ok := c.Next()
	assert.True(t, ok)
	assert.Equal(t, "R2/PT10M", next)

	c, err = ParseCycle("R1/PT10M")
	require.NoError(t, err)
	_, ok = c.Next()
	assert.False(t, ok)

	c, err = ParseCycle("R/PT10M")
	require.NoError(t, err)
	next, ok = c.Next()
	assert.True(t, ok)
	assert.Equal(t, "R/PT10M", next)
}

func TestRetryPolicyBackoff(t *testing.T) {
	assert.Equal(t, 10*time.Second, DefaultRetryPolicy().Backoff(1))
	assert.Equal(t, 10*time.Second, DefaultRetryPolicy().Backoff(3))

	exp := RetryPolicy{Retries: 5, Wait: time.Second, Multiplier: 2, MaxWait: 5 * time.Second}
	assert.Equal(t, time.Second, exp.Backoff(1))
	assert.Equal(t, 2*time.Second, exp.Backoff(2))
	assert.Equal(t, 4*time.Second, exp.Backoff(3))
	assert.Equal(t, 5*time.Second, exp.Backoff(4))
}
