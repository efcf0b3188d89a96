// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/persistence"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/clock"
	"github.com/pbinitiative/zenpvm/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHinter struct {
	mu  sync.Mutex
	ids []int64
}

func (h *recordingHinter) Hint(_ context.Context, jobIds ...int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, jobIds...)
}

func (h *recordingHinter) hinted() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.ids...)
}

type fixture struct {
	store    *inmemory.Storage
	clock    *clock.VirtualClock
	manager  *Manager
	executor *command.Executor
	hinter   *recordingHinter
	events   []event.Type
	exec     *runtime.Execution
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		store:  inmemory.NewStorage(),
		clock:  clock.NewVirtualClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)),
		hinter: &recordingHinter{},
		exec:   &runtime.Execution{Id: 100, ProcessInstanceId: 100, ProcessDefinitionId: "p:1:1"},
	}
	d := event.NewDispatcher(f.clock, nil)
	d.AddListener(event.ListenerFunc(func(_ context.Context, e event.Event) error {
		f.events = append(f.events, e.Type)
		return nil
	}), event.JobExecutionSuccess, event.JobExecutionFailure, event.JobRetriesDecremented, event.JobMovedToDeadLetter, event.TimerScheduled)
	f.manager = NewManager(NewRegistry(), f.clock, d, nil, opts...)
	f.manager.SetHinter(f.hinter)
	f.executor = command.NewExecutor(
		command.WithSessionFactory(persistence.NewSessionFactory(f.store, d)),
		command.WithSessionFactory(d.SessionFactory()),
		command.WithSessionFactory(f.manager.SessionFactory()),
	)
	return f
}

func (f *fixture) run(t *testing.T, fn func(cc *command.CommandContext) error) error {
	t.Helper()
	_, err := command.Run(t.Context(), f.executor, command.Func[struct{}](func(cc *command.CommandContext) (struct{}, error) {
		return struct{}{}, fn(cc)
	}))
	return err
}

func (f *fixture) asyncJob(t *testing.T) int64 {
	var id int64
	require.NoError(t, f.run(t, func(cc *command.CommandContext) error {
		job, err := f.manager.CreateAsyncContinuation(cc, f.exec, "task", true)
		id = job.Id
		return err
	}))
	return id
}

func (f *fixture) job(t *testing.T, id int64) runtime.Job {
	job, err := f.store.FindJobById(t.Context(), id)
	require.NoError(t, err)
	return job
}

func (f *fixture) executeJob(t *testing.T, id int64) error {
	_, err := command.RunNew(t.Context(), f.executor, f.manager.ExecuteJobCommand(id, ""))
	return err
}

func TestCommittedExecutableJobsAreHinted(t *testing.T) {
	// given
	f := newFixture()

	// when
	id := f.asyncJob(t)

	// then
	assert.Equal(t, []int64{id}, f.hinter.hinted())
	job := f.job(t, id)
	assert.Equal(t, runtime.JobStateExecutable, job.State)
	assert.Equal(t, HandlerAsyncContinuation, job.HandlerType)
	assert.Equal(t, "task", job.HandlerConfiguration)
	assert.Equal(t, 3, job.Retries)
}

func TestRolledBackJobsAreNotHinted(t *testing.T) {
	// given
	f := newFixture()

	// when
	err := f.run(t, func(cc *command.CommandContext) error {
		_, err := f.manager.CreateAsyncContinuation(cc, f.exec, "task", true)
		require.NoError(t, err)
		return errors.New("boom")
	})

	// then
	require.Error(t, err)
	assert.Empty(t, f.hinter.hinted())
}

func TestTimersAreNotHintedUntilPromoted(t *testing.T) {
	// given
	f := newFixture()
	var id int64
	require.NoError(t, f.run(t, func(cc *command.CommandContext) error {
		job, err := f.manager.CreateTimer(cc, f.exec, TimerConfiguration{ActivityId: "reminder", CalendarName: "duration"}, "PT1H")
		id = job.Id
		return err
	}))
	job := f.job(t, id)
	assert.Equal(t, runtime.JobStateTimer, job.State)
	assert.True(t, f.clock.Now().Add(time.Hour).Equal(*job.DueDate))
	assert.Contains(t, f.events, event.TimerScheduled)
	assert.Empty(t, f.hinter.hinted())

	// when
	var early, promoted bool
	require.NoError(t, f.run(t, func(cc *command.CommandContext) (err error) {
		early, err = f.manager.PromoteTimer(cc, id)
		return err
	}))
	f.clock.Advance(time.Hour)
	require.NoError(t, f.run(t, func(cc *command.CommandContext) (err error) {
		promoted, err = f.manager.PromoteTimer(cc, id)
		return err
	}))

	// then
	assert.False(t, early)
	assert.True(t, promoted)
	assert.Equal(t, runtime.JobStateExecutable, f.job(t, id).State)
}

func TestSuccessfulJobIsDeleted(t *testing.T) {
	// given
	f := newFixture()
	var calls int
	f.manager.Registry().Register(HandlerAsyncContinuation, HandlerFunc(func(cc *command.CommandContext, job *runtime.Job) error {
		calls++
		return nil
	}))
	id := f.asyncJob(t)

	// when
	err := f.executeJob(t, id)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	_, err = f.store.FindJobById(t.Context(), id)
	assert.Error(t, err)
	assert.Contains(t, f.events, event.JobExecutionSuccess)
}

func TestFailingJobIsAttemptedRetriesPlusOneTimes(t *testing.T) {
	// given
	f := newFixture(WithRetryPolicy(RetryPolicy{Retries: 2, Wait: 5 * time.Second, Multiplier: 1}))
	var attempts int
	f.manager.Registry().Register(HandlerAsyncContinuation, HandlerFunc(func(cc *command.CommandContext, job *runtime.Job) error {
		attempts++
		return errors.New("service unavailable")
	}))
	id := f.asyncJob(t)

	// when
	for range 3 {
		require.Error(t, f.executeJob(t, id))
	}

	// then
	assert.Equal(t, 3, attempts)
	job := f.job(t, id)
	assert.Equal(t, runtime.JobStateDead, job.State)
	assert.Equal(t, 0, job.Retries)
	assert.Equal(t, "service unavailable", job.ExceptionMessage)
	assert.Empty(t, job.LockOwner)
	assert.Equal(t, []event.Type{
		event.JobExecutionFailure, event.JobRetriesDecremented,
		event.JobExecutionFailure, event.JobRetriesDecremented,
		event.JobExecutionFailure, event.JobMovedToDeadLetter,
	}, f.events)
}

func TestFailedAttemptIsRescheduledWithBackoff(t *testing.T) {
	// given
	f := newFixture()
	f.manager.Registry().Register(HandlerAsyncContinuation, HandlerFunc(func(cc *command.CommandContext, job *runtime.Job) error {
		s, err := persistence.FromCommand(cc)
		require.NoError(t, err)
		// rolled back together with the attempt
		require.NoError(t, s.InsertJob(&runtime.Job{Type: runtime.JobTypeMessage, State: runtime.JobStateExecutable}))
		return errors.New("fail")
	}))
	id := f.asyncJob(t)

	// when
	require.Error(t, f.executeJob(t, id))

	// then
	job := f.job(t, id)
	assert.Equal(t, 2, job.Retries)
	assert.Equal(t, runtime.JobStateExecutable, job.State)
	assert.True(t, f.clock.Now().Add(10*time.Second).Equal(*job.DueDate))
	jobs, err := f.store.FindJobsByState(t.Context(), runtime.JobStateExecutable)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestPanickingHandlerKeepsStack(t *testing.T) {
	// given
	f := newFixture()
	f.manager.Registry().Register(HandlerAsyncContinuation, HandlerFunc(func(cc *command.CommandContext, job *runtime.Job) error {
		panic("broken handler")
	}))
	id := f.asyncJob(t)

	// when
	err := f.executeJob(t, id)

	// then
	assert.True(t, command.IsPanic(err))
	job := f.job(t, id)
	assert.Equal(t, 2, job.Retries)
	assert.NotEmpty(t, job.ExceptionStackTrace)
}

func TestMissingHandlerCountsAsFailure(t *testing.T) {
	// given
	f := newFixture()
	id := f.asyncJob(t)

	// when
	err := f.executeJob(t, id)

	// then
	assert.ErrorIs(t, err, ErrNoHandler)
	assert.Equal(t, 2, f.job(t, id).Retries)
}

func TestJobLockedByOtherOwnerIsNotExecuted(t *testing.T) {
	// given
	f := newFixture()
	id := f.asyncJob(t)
	now := f.clock.Now()
	locked, err := f.store.TryLockJob(t.Context(), id, "owner-a", now.Add(time.Minute), now)
	require.NoError(t, err)
	require.True(t, locked)

	// when
	_, err = command.RunNew(t.Context(), f.executor, f.manager.ExecuteJobCommand(id, "owner-b"))

	// then
	assert.ErrorIs(t, err, ErrJobNotLocked)
	assert.Equal(t, 3, f.job(t, id).Retries)
	assert.ErrorIs(t, f.run(t, func(cc *command.CommandContext) error {
		return f.manager.DeleteJob(cc, id)
	}), ErrJobLocked)
}

func TestDeadJobCanBeRevived(t *testing.T) {
	// given
	f := newFixture(WithRetryPolicy(RetryPolicy{Retries: 0, Wait: time.Second}))
	f.manager.Registry().Register(HandlerAsyncContinuation, HandlerFunc(func(cc *command.CommandContext, job *runtime.Job) error {
		return errors.New("fail")
	}))
	id := f.asyncJob(t)
	require.Error(t, f.executeJob(t, id))
	require.Equal(t, runtime.JobStateDead, f.job(t, id).State)

	// when
	err := f.run(t, func(cc *command.CommandContext) error {
		return f.manager.MoveDeadJobToExecutable(cc, id, 2)
	})

	// then
	require.NoError(t, err)
	job := f.job(t, id)
	assert.Equal(t, runtime.JobStateExecutable, job.State)
	assert.Equal(t, 2, job.Retries)
	assert.Nil(t, job.DueDate)
	assert.Equal(t, []int64{id, id}, f.hinter.hinted())

	assert.ErrorIs(t, f.run(t, func(cc *command.CommandContext) error {
		return f.manager.MoveDeadJobToExecutable(cc, id, 1)
	}), ErrJobNotDead)
}

func TestSetJobRetries(t *testing.T) {
	// given
	f := newFixture()
	id := f.asyncJob(t)

	// when
	err := f.run(t, func(cc *command.CommandContext) error {
		return f.manager.SetJobRetries(cc, id, 7)
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, 7, f.job(t, id).Retries)
	assert.Error(t, f.run(t, func(cc *command.CommandContext) error {
		return f.manager.SetJobRetries(cc, id, -1)
	}))
}

func TestSuspendAndActivateJobs(t *testing.T) {
	// given
	f := newFixture()
	asyncId := f.asyncJob(t)
	var timerId int64
	require.NoError(t, f.run(t, func(cc *command.CommandContext) error {
		job, err := f.manager.CreateTimer(cc, f.exec, TimerConfiguration{ActivityId: "reminder", CalendarName: "duration"}, "PT1H")
		timerId = job.Id
		return err
	}))

	// when
	require.NoError(t, f.run(t, func(cc *command.CommandContext) error {
		return f.manager.SuspendJobs(cc, f.exec.ProcessInstanceId)
	}))

	// then
	assert.Equal(t, runtime.JobStateSuspended, f.job(t, asyncId).State)
	assert.Equal(t, runtime.JobStateSuspended, f.job(t, timerId).State)
	assert.ErrorIs(t, f.executeJob(t, asyncId), ErrJobSuspended)

	// when
	require.NoError(t, f.run(t, func(cc *command.CommandContext) error {
		return f.manager.ActivateJobs(cc, f.exec.ProcessInstanceId)
	}))

	// then
	assert.Equal(t, runtime.JobStateExecutable, f.job(t, asyncId).State)
	assert.Equal(t, runtime.JobStateTimer, f.job(t, timerId).State)
}

func TestRepeatTimer(t *testing.T) {
	// given
	f := newFixture()
	var first *runtime.Job
	require.NoError(t, f.run(t, func(cc *command.CommandContext) (err error) {
		first, err = f.manager.CreateTimer(cc, f.exec, TimerConfiguration{ActivityId: "ping", CalendarName: "cycle"}, "R2/PT10M")
		return err
	}))
	require.Equal(t, "R2/PT10M", first.Repeat)

	// when
	var second, third *runtime.Job
	require.NoError(t, f.run(t, func(cc *command.CommandContext) (err error) {
		second, err = f.manager.RepeatTimer(cc, first)
		if err != nil {
			return err
		}
		third, err = f.manager.RepeatTimer(cc, second)
		return err
	}))

	// then
	require.NotNil(t, second)
	assert.Equal(t, "R1/PT10M", second.Repeat)
	assert.True(t, first.DueDate.Add(10*time.Minute).Equal(*second.DueDate))
	assert.Nil(t, third)
}

func TestRepeatTimerStopsAtEndDate(t *testing.T) {
	// given
	f := newFixture()
	cfg := TimerConfiguration{ActivityId: "ping", CalendarName: "cycle", TimerEndDate: "2025-01-01T12:15:00Z"}

	// when
	var first, second *runtime.Job
	require.NoError(t, f.run(t, func(cc *command.CommandContext) (err error) {
		first, err = f.manager.CreateTimer(cc, f.exec, cfg, "R/PT10M")
		if err != nil {
			return err
		}
		second, err = f.manager.RepeatTimer(cc, first)
		return err
	}))

	// then
	assert.Nil(t, second)
}
