// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"cmp"
	"context"
	"errors"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/cache"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/deployment"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/persistence"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/clock"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/pbinitiative/zenpvm/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store       *inmemory.Storage
	clock       *clock.VirtualClock
	dispatcher  *event.Dispatcher
	jobs        *jobs.Manager
	deployments *deployment.Manager
	interp      *Interpreter
	executor    *command.Executor

	mu        sync.Mutex
	started   []string
	cancelled []string
	types     []event.Type
}

func newFixture(t *testing.T, options ...Option) *fixture {
	t.Helper()
	logger := hclog.NewNullLogger()
	clk := clock.NewVirtualClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	d := event.NewDispatcher(clk, logger)
	f := &fixture{
		store:       inmemory.NewStorage(),
		clock:       clk,
		dispatcher:  d,
		jobs:        jobs.NewManager(jobs.NewRegistry(), clk, d, logger),
		deployments: deployment.NewManager(cache.NewLRU(10), clk, logger),
	}
	f.interp = New(f.deployments, f.jobs, d, clk, logger, options...)
	f.executor = command.NewExecutor(
		command.WithSessionFactory(persistence.NewSessionFactory(f.store, d)),
		command.WithSessionFactory(d.SessionFactory()),
		command.WithSessionFactory(f.jobs.SessionFactory()),
		command.WithInvoker(f.interp.Invoker()),
	)
	d.AddListener(event.ListenerFunc(func(_ context.Context, e event.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.types = append(f.types, e.Type)
		switch e.Type {
		case event.ActivityStarted:
			f.started = append(f.started, e.ActivityId)
		case event.ActivityCancelled:
			f.cancelled = append(f.cancelled, e.ActivityId)
		}
		return nil
	}))
	return f
}

func (f *fixture) try(t *testing.T, fn func(c *Context) error) error {
	t.Helper()
	_, err := command.Run(t.Context(), f.executor, command.Func[struct{}](func(cc *command.CommandContext) (struct{}, error) {
		c, err := f.interp.ContextOf(cc)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, fn(c)
	}))
	return err
}

func (f *fixture) run(t *testing.T, fn func(c *Context) error) {
	t.Helper()
	require.NoError(t, f.try(t, fn))
}

func (f *fixture) deploy(t *testing.T, name string) {
	t.Helper()
	data, err := os.ReadFile("../test-cases/" + name)
	require.NoError(t, err)
	_, err = command.Run(t.Context(), f.executor, command.Func[deployment.Result](func(cc *command.CommandContext) (deployment.Result, error) {
		return f.deployments.Deploy(cc, deployment.NewBuilder(name).AddResource(name, data))
	}))
	require.NoError(t, err)
}

func (f *fixture) start(t *testing.T, key string, vars map[string]any) int64 {
	t.Helper()
	var id int64
	f.run(t, func(c *Context) error {
		def, err := f.deployments.Latest(c.Command(), key)
		if err != nil {
			return err
		}
		root, err := c.StartProcessInstance(def, StartOptions{Variables: vars})
		if err != nil {
			return err
		}
		id = root.Id
		return nil
	})
	return id
}

func (f *fixture) tasks(t *testing.T, processInstanceId int64) []runtime.Task {
	t.Helper()
	tasks, err := f.store.FindTasksByProcessInstanceId(t.Context(), processInstanceId)
	require.NoError(t, err)
	slices.SortFunc(tasks, func(a, b runtime.Task) int { return cmp.Compare(a.Id, b.Id) })
	return tasks
}

// task returns the only task of the instance waiting at activityId.
func (f *fixture) task(t *testing.T, processInstanceId int64, activityId string) runtime.Task {
	t.Helper()
	var found []runtime.Task
	for _, task := range f.tasks(t, processInstanceId) {
		if task.ActivityId == activityId {
			found = append(found, task)
		}
	}
	require.Len(t, found, 1, "tasks at %s", activityId)
	return found[0]
}

func (f *fixture) taskActivities(t *testing.T, processInstanceId int64) []string {
	t.Helper()
	var res []string
	for _, task := range f.tasks(t, processInstanceId) {
		res = append(res, task.ActivityId)
	}
	slices.Sort(res)
	return res
}

func (f *fixture) complete(t *testing.T, taskId int64, vars map[string]any) {
	t.Helper()
	f.run(t, func(c *Context) error {
		task, err := c.Session().FindTask(taskId)
		if err != nil {
			return err
		}
		return c.CompleteTask(task, vars)
	})
}

func (f *fixture) executions(t *testing.T, processInstanceId int64) []runtime.Execution {
	t.Helper()
	executions, err := f.store.FindExecutionsByProcessInstanceId(t.Context(), processInstanceId)
	require.NoError(t, err)
	return executions
}

func (f *fixture) ended(t *testing.T, processInstanceId int64) bool {
	t.Helper()
	_, err := f.store.FindExecutionById(t.Context(), processInstanceId)
	if errors.Is(err, storage.ErrNotFound) {
		return true
	}
	require.NoError(t, err)
	return false
}

func (f *fixture) variable(t *testing.T, executionId int64, name string) any {
	t.Helper()
	vars, err := f.store.FindVariablesByExecutionId(t.Context(), executionId)
	require.NoError(t, err)
	for _, v := range vars {
		if v.Name == name {
			val, err := v.Value()
			require.NoError(t, err)
			return val
		}
	}
	return nil
}

func (f *fixture) jobsOf(t *testing.T, processInstanceId int64) []runtime.Job {
	t.Helper()
	found, err := f.store.FindJobsByProcessInstanceId(t.Context(), processInstanceId)
	require.NoError(t, err)
	slices.SortFunc(found, func(a, b runtime.Job) int { return cmp.Compare(a.Id, b.Id) })
	return found
}

// fire moves the clock to the due date of the only job of the instance and executes it.
func (f *fixture) fire(t *testing.T, processInstanceId int64) runtime.Job {
	t.Helper()
	found := f.jobsOf(t, processInstanceId)
	require.Len(t, found, 1)
	job := found[0]
	if job.DueDate != nil {
		f.clock.Set(*job.DueDate)
	}
	_, err := command.RunNew(t.Context(), f.executor, f.jobs.ExecuteJobCommand(job.Id, ""))
	require.NoError(t, err)
	return job
}

// assertTree checks the shape every persisted instance keeps between commands.
func (f *fixture) assertTree(t *testing.T, processInstanceId int64) {
	t.Helper()
	executions := f.executions(t, processInstanceId)
	byId := map[int64]runtime.Execution{}
	for _, e := range executions {
		byId[e.Id] = e
	}
	children := map[int64]int{}
	for _, e := range executions {
		if e.ParentId == 0 {
			assert.Equal(t, e.Id, e.ProcessInstanceId)
			assert.True(t, e.IsScope)
			continue
		}
		parent, ok := byId[e.ParentId]
		require.True(t, ok, "parent %d of %d", e.ParentId, e.Id)
		assert.False(t, parent.IsActive, "parent %d of %d is active", parent.Id, e.Id)
		children[parent.Id]++
	}
	for _, e := range executions {
		if !e.IsActive && children[e.Id] == 0 && e.ActivityId != "" {
			assert.Contains(t, []string{"join"}, e.ActivityId, "inactive leaf %d at %s", e.Id, e.ActivityId)
		}
	}
}
