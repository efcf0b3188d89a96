// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	HandlerTimerEvent        = "timer-event"
	HandlerAsyncContinuation = "async-continuation"
	HandlerEvent             = "event"
)

// TimerConfiguration is the handler configuration of timer jobs. The json
// keys are shared with existing deployments and must not change.
type TimerConfiguration struct {
	ActivityId   string `json:"activityId"`
	TimerEndDate string `json:"timerEndDate,omitempty"`
	CalendarName string `json:"calendarName,omitempty"`
}

func (c TimerConfiguration) Marshal() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal timer configuration: %w", err)
	}
	return string(data), nil
}

// ParseTimerConfiguration also accepts a bare activity id which older jobs carry.
func ParseTimerConfiguration(raw string) (TimerConfiguration, error) {
	var c TimerConfiguration
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		c.ActivityId = raw
		return c, nil
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return c, fmt.Errorf("failed to parse timer configuration %q: %w", raw, err)
	}
	return c, nil
}

// EventConfiguration is the handler configuration of event jobs.
type EventConfiguration struct {
	ActivityId string         `json:"activityId,omitempty"`
	EventName  string         `json:"eventName"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func (c EventConfiguration) Marshal() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event configuration: %w", err)
	}
	return string(data), nil
}

func ParseEventConfiguration(raw string) (EventConfiguration, error) {
	var c EventConfiguration
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return c, fmt.Errorf("failed to parse event configuration %q: %w", raw, err)
	}
	return c, nil
}
