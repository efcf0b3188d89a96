// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"errors"
	"testing"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/expression"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/script/js"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserTaskLifecycle(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "simple-user-task.bpmn")
	pi := f.start(t, "simple-user-task", nil)
	task := f.task(t, pi, "task")
	assert.Equal(t, "alice", task.Assignee)
	assert.Equal(t, pi, task.ExecutionId)

	// when
	f.complete(t, task.Id, map[string]any{"approved": true})

	// then
	assert.True(t, f.ended(t, pi))
	assert.Empty(t, f.tasks(t, pi))
	assert.Subset(t, f.types, []event.Type{event.TaskCreated, event.TaskAssigned, event.TaskCompleted, event.ProcessCompleted})
	assert.Equal(t, []string{"start", "task", "end"}, f.started)
}

func TestClaimingATaskOfSomebodyElseFails(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "simple-user-task.bpmn")
	pi := f.start(t, "simple-user-task", nil)
	taskId := f.task(t, pi, "task").Id

	// when
	err := f.try(t, func(c *Context) error {
		task, err := c.Session().FindTask(taskId)
		if err != nil {
			return err
		}
		return c.ClaimTask(task, "bob")
	})

	// then
	assert.ErrorIs(t, err, ErrTaskClaimed)
	f.run(t, func(c *Context) error {
		task, err := c.Session().FindTask(taskId)
		if err != nil {
			return err
		}
		if err := c.UnclaimTask(task); err != nil {
			return err
		}
		return c.ClaimTask(task, "bob")
	})
	assert.Equal(t, "bob", f.task(t, pi, "task").Assignee)
}

func TestServiceTaskRunsTheDelegate(t *testing.T) {
	// given
	delegates := NewDelegates()
	delegates.RegisterType("compute", func(d *DelegateExecution) error {
		assert.Equal(t, "service", d.ActivityId())
		assert.Equal(t, "compute", d.TaskType())
		x, err := d.GetVariable("x")
		if err != nil {
			return err
		}
		return d.SetVariable("y", x.(int64)*2)
	})
	f := newFixture(t, WithDelegates(delegates))
	f.deploy(t, "service-task.bpmn")

	// when
	pi := f.start(t, "service-task", map[string]any{"x": 21})

	// then
	assert.Equal(t, int64(42), f.variable(t, pi, "y"))
	assert.Equal(t, []string{"wait"}, f.taskActivities(t, pi))
}

func TestDelegateRegisteredForTheActivityWins(t *testing.T) {
	// given
	var called string
	delegates := NewDelegates()
	delegates.RegisterType("compute", func(*DelegateExecution) error {
		called = "type"
		return nil
	})
	delegates.RegisterActivity("service", func(*DelegateExecution) error {
		called = "activity"
		return nil
	})
	f := newFixture(t, WithDelegates(delegates))
	f.deploy(t, "service-task.bpmn")

	// when
	f.start(t, "service-task", nil)

	// then
	assert.Equal(t, "activity", called)
}

func TestMissingDelegateRollsBackTheStart(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "service-task.bpmn")

	// when
	err := f.try(t, func(c *Context) error {
		def, err := f.deployments.Latest(c.Command(), "service-task")
		if err != nil {
			return err
		}
		_, err = c.StartProcessInstance(def, StartOptions{})
		return err
	})

	// then
	var engineErr *runtime.EngineError
	require.ErrorAs(t, err, &engineErr)
	instances, err := f.store.FindProcessInstances(t.Context(), "")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestScriptTaskStoresTheResult(t *testing.T) {
	// given
	rt, err := js.NewJsRuntime(t.Context(), 2, 1)
	require.NoError(t, err)
	f := newFixture(t, WithLanguage("javascript", expression.NewJavaScriptEvaluator(rt)))
	f.deploy(t, "script-task.bpmn")

	// when
	pi := f.start(t, "script-task", map[string]any{"a": 2, "b": 3})

	// then
	assert.EqualValues(t, 5, f.variable(t, pi, "total"))
	assert.Equal(t, []string{"wait"}, f.taskActivities(t, pi))
}

func TestScriptTaskWithoutEvaluatorForItsLanguageFails(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "script-task.bpmn")

	// when
	err := f.try(t, func(c *Context) error {
		def, err := f.deployments.Latest(c.Command(), "script-task")
		if err != nil {
			return err
		}
		_, err = c.StartProcessInstance(def, StartOptions{Variables: map[string]any{"a": 2, "b": 3}})
		return err
	})

	// then
	var engineErr *runtime.EngineError
	assert.ErrorAs(t, err, &engineErr)
}

func TestAsyncServiceTaskRunsInTheJob(t *testing.T) {
	// given
	charged := 0
	delegates := NewDelegates()
	delegates.RegisterType("charge-card", func(*DelegateExecution) error {
		charged++
		return nil
	})
	f := newFixture(t, WithDelegates(delegates))
	f.deploy(t, "async-service-task.bpmn")
	pi := f.start(t, "async-service-task", nil)
	assert.Zero(t, charged)
	found := f.jobsOf(t, pi)
	require.Len(t, found, 1)
	assert.Equal(t, runtime.JobStateExecutable, found[0].State)
	assert.Equal(t, "charge", found[0].HandlerConfiguration)

	// when
	f.fire(t, pi)

	// then
	assert.Equal(t, 1, charged)
	assert.True(t, f.ended(t, pi))
	assert.Empty(t, f.jobsOf(t, pi))
}

func TestFailingAsyncDelegateDecrementsRetries(t *testing.T) {
	// given
	delegates := NewDelegates()
	delegates.RegisterType("charge-card", func(*DelegateExecution) error {
		return errors.New("card declined")
	})
	f := newFixture(t, WithDelegates(delegates))
	f.deploy(t, "async-service-task.bpmn")
	pi := f.start(t, "async-service-task", nil)
	job := f.jobsOf(t, pi)[0]

	// when
	_, err := command.RunNew(t.Context(), f.executor, f.jobs.ExecuteJobCommand(job.Id, ""))

	// then
	require.ErrorContains(t, err, "card declined")
	failed, err := f.store.FindJobById(t.Context(), job.Id)
	require.NoError(t, err)
	assert.Equal(t, job.Retries-1, failed.Retries)
	assert.Contains(t, failed.ExceptionMessage, "card declined")
	assert.Equal(t, f.clock.Now().Add(10*time.Second), *failed.DueDate)
	executions := f.executions(t, pi)
	require.Len(t, executions, 1)
	assert.Equal(t, "charge", executions[0].ActivityId)
}

func TestReceiveTaskWaitsForSignal(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "receive-task.bpmn")
	pi := f.start(t, "receive-task", nil)
	assert.False(t, f.ended(t, pi))

	// when
	f.run(t, func(c *Context) error {
		exec, err := c.Session().FindExecution(pi)
		if err != nil {
			return err
		}
		return c.Signal(exec, "received", map[string]any{"payload": "ok"})
	})

	// then
	assert.True(t, f.ended(t, pi))
}

func TestAsyncSignalIsDeliveredByAJob(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "receive-task.bpmn")
	pi := f.start(t, "receive-task", nil)

	// when
	f.run(t, func(c *Context) error {
		exec, err := c.Session().FindExecution(pi)
		if err != nil {
			return err
		}
		_, err = c.SignalAsync(exec, "received", nil)
		return err
	})
	assert.False(t, f.ended(t, pi))
	f.fire(t, pi)

	// then
	assert.True(t, f.ended(t, pi))
}

func TestSuspendedInstanceRefusesSignals(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "simple-user-task.bpmn")
	pi := f.start(t, "simple-user-task", nil)
	taskId := f.task(t, pi, "task").Id
	withRoot := func(fn func(c *Context, root *runtime.Execution) error) func(c *Context) error {
		return func(c *Context) error {
			root, err := c.Session().FindExecution(pi)
			if err != nil {
				return err
			}
			return fn(c, root)
		}
	}
	f.run(t, withRoot((*Context).SuspendProcessInstance))

	// when
	err := f.try(t, func(c *Context) error {
		task, err := c.Session().FindTask(taskId)
		if err != nil {
			return err
		}
		return c.CompleteTask(task, nil)
	})

	// then
	assert.ErrorIs(t, err, ErrSuspended)
	assert.False(t, f.ended(t, pi))
	f.run(t, withRoot((*Context).ActivateProcessInstance))
	f.complete(t, taskId, nil)
	assert.True(t, f.ended(t, pi))
}

func TestDeletingAProcessInstance(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "user-task-boundary-timer.bpmn")
	pi := f.start(t, "user-task-boundary-timer", nil)

	// when
	f.run(t, func(c *Context) error {
		root, err := c.Session().FindExecution(pi)
		if err != nil {
			return err
		}
		return c.DeleteProcessInstance(root, "no longer needed")
	})

	// then
	assert.True(t, f.ended(t, pi))
	assert.Empty(t, f.tasks(t, pi))
	assert.Empty(t, f.jobsOf(t, pi))
	assert.Empty(t, f.executions(t, pi))
	assert.Contains(t, f.types, event.ProcessCancelled)
	assert.Contains(t, f.cancelled, "task")
}

func TestOperationLimitStopsTheCommand(t *testing.T) {
	// given
	f := newFixture(t, WithMaxOperations(5))
	f.deploy(t, "sub-process.bpmn")

	// when
	err := f.try(t, func(c *Context) error {
		def, err := f.deployments.Latest(c.Command(), "sub-process")
		if err != nil {
			return err
		}
		_, err = c.StartProcessInstance(def, StartOptions{})
		return err
	})

	// then
	var engineErr *runtime.EngineError
	assert.ErrorAs(t, err, &engineErr)
}
