// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	events []Event
}

func (c *collector) OnEvent(_ context.Context, e Event) error {
	c.events = append(c.events, e)
	return nil
}

func (c *collector) types() []Type {
	res := make([]Type, 0, len(c.events))
	for _, e := range c.events {
		res = append(res, e.Type)
	}
	return res
}

func newTestDispatcher() (*Dispatcher, *command.Executor, *clock.VirtualClock) {
	vc := clock.NewVirtualClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	d := NewDispatcher(vc, nil)
	e := command.NewExecutor(command.WithSessionFactory(d.SessionFactory()))
	return d, e, vc
}

func TestSynchronousListenersSeeEventsInsideTheCommand(t *testing.T) {
	// given
	d, e, vc := newTestDispatcher()
	all := &collector{}
	onlyTasks := &collector{}
	d.AddListener(all)
	d.AddListener(onlyTasks, TaskCreated, TaskCompleted)

	// when
	_, err := command.Run(t.Context(), e, command.Func[struct{}](func(cc *command.CommandContext) (struct{}, error) {
		require.NoError(t, d.Dispatch(cc, Event{Type: ProcessStarted, ProcessInstanceId: 1}))
		require.NoError(t, d.Dispatch(cc, Event{Type: TaskCreated, TaskId: 2}))
		assert.Len(t, all.events, 2)
		return struct{}{}, nil
	}))

	// then
	require.NoError(t, err)
	assert.Equal(t, []Type{ProcessStarted, TaskCreated}, all.types())
	assert.Equal(t, []Type{TaskCreated}, onlyTasks.types())
	assert.Equal(t, vc.Now(), all.events[0].Time)
}

func TestListenerErrorFailsTheCommand(t *testing.T) {
	// given
	d, e, _ := newTestDispatcher()
	boom := errors.New("listener refused")
	d.AddListener(ListenerFunc(func(ctx context.Context, e Event) error { return boom }))

	// when
	_, err := command.Run(t.Context(), e, command.Func[struct{}](func(cc *command.CommandContext) (struct{}, error) {
		return struct{}{}, d.Dispatch(cc, Event{Type: ActivityStarted})
	}))

	// then
	assert.ErrorIs(t, err, boom)
}

func TestDeferredListenersRunAfterCommit(t *testing.T) {
	// given
	d, e, _ := newTestDispatcher()
	deferred := &collector{}
	d.AddDeferredListener(deferred)

	// when
	_, err := command.Run(t.Context(), e, command.Func[struct{}](func(cc *command.CommandContext) (struct{}, error) {
		require.NoError(t, d.Dispatch(cc, Event{Type: TimerFired}))
		assert.Empty(t, deferred.events)
		return struct{}{}, nil
	}))

	// then
	require.NoError(t, err)
	assert.Equal(t, []Type{TimerFired}, deferred.types())
}

func TestDeferredEventsAreDroppedOnRollback(t *testing.T) {
	// given
	d, e, _ := newTestDispatcher()
	deferred := &collector{}
	d.AddDeferredListener(deferred)

	// when
	_, err := command.Run(t.Context(), e, command.Func[struct{}](func(cc *command.CommandContext) (struct{}, error) {
		require.NoError(t, d.Dispatch(cc, Event{Type: TimerFired}))
		return struct{}{}, errors.New("rolled back")
	}))

	// then
	require.Error(t, err)
	assert.Empty(t, deferred.events)
}

func TestEnabled(t *testing.T) {
	d, _, _ := newTestDispatcher()
	assert.False(t, d.Enabled(JobExecutionFailure))
	d.AddListener(&collector{}, JobExecutionFailure)
	assert.True(t, d.Enabled(JobExecutionFailure))
	assert.False(t, d.Enabled(JobExecutionSuccess))
}

func TestDispatchNowIgnoresListenerErrors(t *testing.T) {
	d, _, _ := newTestDispatcher()
	got := &collector{}
	d.AddListener(ListenerFunc(func(ctx context.Context, e Event) error { return errors.New("ignored") }))
	d.AddDeferredListener(got)

	d.DispatchNow(t.Context(), Event{Type: EngineCreated})

	assert.Equal(t, []Type{EngineCreated}, got.types())
}
