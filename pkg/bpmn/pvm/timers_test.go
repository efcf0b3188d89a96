// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"testing"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonInterruptingBoundaryTimerKeepsTheTask(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "user-task-boundary-timer.bpmn")
	pi := f.start(t, "user-task-boundary-timer", nil)
	task := f.task(t, pi, "task")
	assert.Equal(t, "john", task.Assignee)
	assert.Equal(t, []string{"reviewers"}, task.CandidateGroups)
	timers := f.jobsOf(t, pi)
	require.Len(t, timers, 1)
	assert.Equal(t, runtime.JobStateTimer, timers[0].State)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *timers[0].DueDate)
	cfg, err := jobs.ParseTimerConfiguration(timers[0].HandlerConfiguration)
	require.NoError(t, err)
	assert.Equal(t, "reminder", cfg.ActivityId)

	// when
	f.fire(t, pi)

	// then
	assert.Contains(t, f.started, "reminded")
	assert.Contains(t, f.started, "end_reminder")
	assert.Equal(t, task.Id, f.task(t, pi, "task").Id)
	assert.Empty(t, f.jobsOf(t, pi))
	assert.Contains(t, f.types, event.TimerFired)
	f.assertTree(t, pi)

	f.complete(t, task.Id, nil)
	assert.True(t, f.ended(t, pi))
}

func TestInterruptingBoundaryTimerCancelsTheTask(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "user-task-interrupting-timer.bpmn")
	pi := f.start(t, "user-task-interrupting-timer", nil)
	require.Len(t, f.executions(t, pi), 2)

	// when
	job := f.fire(t, pi)

	// then
	assert.Equal(t, f.clock.Now(), *job.DueDate)
	assert.Equal(t, []string{"escalated"}, f.taskActivities(t, pi))
	assert.Contains(t, f.cancelled, "task")
	executions := f.executions(t, pi)
	require.Len(t, executions, 1)
	assert.Equal(t, "escalated", executions[0].ActivityId)

	f.complete(t, f.task(t, pi, "escalated").Id, nil)
	assert.True(t, f.ended(t, pi))
}

func TestCompletingTheTaskRemovesItsBoundaryTimer(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "user-task-interrupting-timer.bpmn")
	pi := f.start(t, "user-task-interrupting-timer", nil)
	require.Len(t, f.jobsOf(t, pi), 1)

	// when
	f.complete(t, f.task(t, pi, "task").Id, nil)

	// then
	assert.True(t, f.ended(t, pi))
	assert.Empty(t, f.jobsOf(t, pi))
}

func TestCycleTimerFiresForEachRepetition(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "timer-cycle.bpmn")
	pi := f.start(t, "timer-cycle", nil)

	// when
	first := f.fire(t, pi)
	second := f.fire(t, pi)

	// then
	assert.Equal(t, first.DueDate.Add(10*time.Minute), *second.DueDate)
	assert.Empty(t, f.jobsOf(t, pi))
	pings := 0
	for _, id := range f.started {
		if id == "ping" {
			pings++
		}
	}
	assert.Equal(t, 2, pings)
	assert.Equal(t, []string{"task"}, f.taskActivities(t, pi))
	f.assertTree(t, pi)
}

func TestIntermediateTimerWaits(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "intermediate-timer.bpmn")
	pi := f.start(t, "intermediate-timer", nil)
	assert.False(t, f.ended(t, pi))

	// when
	job := f.fire(t, pi)

	// then
	assert.Equal(t, time.Date(2025, 1, 1, 12, 10, 0, 0, time.UTC), *job.DueDate)
	assert.True(t, f.ended(t, pi))
}
