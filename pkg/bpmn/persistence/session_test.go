// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/clock"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/pbinitiative/zenpvm/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store      *inmemory.Storage
	dispatcher *event.Dispatcher
	executor   *command.Executor
}

func newFixture() *fixture {
	store := inmemory.NewStorage()
	d := event.NewDispatcher(clock.NewVirtualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), nil)
	return &fixture{
		store:      store,
		dispatcher: d,
		executor: command.NewExecutor(
			command.WithSessionFactory(NewSessionFactory(store, d)),
			command.WithSessionFactory(d.SessionFactory()),
		),
	}
}

func (f *fixture) run(t *testing.T, fn func(s *Session) error) error {
	t.Helper()
	_, err := command.Run(t.Context(), f.executor, command.Func[struct{}](func(cc *command.CommandContext) (struct{}, error) {
		s, err := FromCommand(cc)
		require.NoError(t, err)
		return struct{}{}, fn(s)
	}))
	return err
}

// startInstance stores a root with one child and returns both ids.
func (f *fixture) startInstance(t *testing.T) (int64, int64) {
	var rootId, childId int64
	err := f.run(t, func(s *Session) error {
		root := &runtime.Execution{ProcessDefinitionId: "p:1:1", ActivityId: "start", IsActive: true, IsScope: true}
		require.NoError(t, s.InsertExecution(root))
		child := &runtime.Execution{ParentId: root.Id, ProcessInstanceId: root.Id, ActivityId: "task", IsActive: true, IsConcurrent: true}
		require.NoError(t, s.InsertExecution(child))
		rootId, childId = root.Id, child.Id
		return nil
	})
	require.NoError(t, err)
	return rootId, childId
}

func TestInsertedExecutionsAreStoredOnCommit(t *testing.T) {
	// given
	f := newFixture()

	// when
	rootId, childId := f.startInstance(t)

	// then
	root, err := f.store.FindExecutionById(t.Context(), rootId)
	require.NoError(t, err)
	assert.Equal(t, rootId, root.ProcessInstanceId)
	assert.Equal(t, 1, root.Revision)
	child, err := f.store.FindExecutionById(t.Context(), childId)
	require.NoError(t, err)
	assert.Equal(t, rootId, child.ParentId)
}

func TestOnlyChangedRowsAreUpdated(t *testing.T) {
	// given
	f := newFixture()
	rootId, childId := f.startInstance(t)

	// when
	err := f.run(t, func(s *Session) error {
		tree, err := s.Tree(rootId)
		require.NoError(t, err)
		tree.Get(childId).ActivityId = "next"
		return nil
	})

	// then
	require.NoError(t, err)
	root, _ := f.store.FindExecutionById(t.Context(), rootId)
	child, _ := f.store.FindExecutionById(t.Context(), childId)
	assert.Equal(t, 1, root.Revision)
	assert.Equal(t, 2, child.Revision)
	assert.Equal(t, "next", child.ActivityId)
}

func TestTouchedExecutionIsWrittenWithoutChanges(t *testing.T) {
	// given
	f := newFixture()
	rootId, _ := f.startInstance(t)

	// when
	err := f.run(t, func(s *Session) error {
		tree, err := s.Tree(rootId)
		require.NoError(t, err)
		s.TouchExecution(tree.Root())
		// an overlapping command writes the same row first
		return f.run(t, func(other *Session) error {
			tree, err := other.Tree(rootId)
			require.NoError(t, err)
			other.TouchExecution(tree.Root())
			return nil
		})
	})

	// then
	assert.True(t, command.IsOptimisticLockingFailure(err))
	root, _ := f.store.FindExecutionById(t.Context(), rootId)
	assert.Equal(t, 2, root.Revision)
	assert.Equal(t, "start", root.ActivityId)
}

func TestFailedCommandLeavesStorageUntouched(t *testing.T) {
	// given
	f := newFixture()
	rootId, childId := f.startInstance(t)

	// when
	err := f.run(t, func(s *Session) error {
		tree, err := s.Tree(rootId)
		require.NoError(t, err)
		tree.Get(childId).ActivityId = "moved"
		require.NoError(t, s.InsertJob(&runtime.Job{ExecutionId: childId, ProcessInstanceId: rootId, State: runtime.JobStateExecutable}))
		return errors.New("behavior failed")
	})

	// then
	require.Error(t, err)
	child, _ := f.store.FindExecutionById(t.Context(), childId)
	assert.Equal(t, "task", child.ActivityId)
	jobs, err := f.store.FindJobsByProcessInstanceId(t.Context(), rootId)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestConcurrentModificationIsAnOptimisticLockingFailure(t *testing.T) {
	// given
	f := newFixture()
	rootId, childId := f.startInstance(t)

	// when
	err := f.run(t, func(s *Session) error {
		e, err := s.FindExecution(childId)
		require.NoError(t, err)
		e.ActivityId = "first"
		// a second command commits in between
		require.NoError(t, f.run(t, func(other *Session) error {
			tree, err := other.Tree(rootId)
			require.NoError(t, err)
			tree.Get(childId).ActivityId = "second"
			return nil
		}))
		return nil
	})

	// then
	require.Error(t, err)
	assert.True(t, command.IsOptimisticLockingFailure(err))
	assert.ErrorIs(t, err, storage.ErrConcurrentModification)
	child, _ := f.store.FindExecutionById(t.Context(), childId)
	assert.Equal(t, "second", child.ActivityId)
}

func TestScopeWithChildrenCannotBeDeleted(t *testing.T) {
	// given
	f := newFixture()
	rootId, childId := f.startInstance(t)

	// when
	err := f.run(t, func(s *Session) error {
		tree, err := s.Tree(rootId)
		require.NoError(t, err)
		assert.ErrorIs(t, s.DeleteExecution(tree.Root()), runtime.ErrScopeHasChildren)
		require.NoError(t, s.DeleteExecution(tree.Get(childId)))
		return s.DeleteExecution(tree.Root())
	})

	// then
	require.NoError(t, err)
	_, err = f.store.FindExecutionById(t.Context(), rootId)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.store.FindExecutionById(t.Context(), childId)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsertThenDeleteWritesNothing(t *testing.T) {
	// given
	f := newFixture()
	rootId, _ := f.startInstance(t)
	created := 0
	f.dispatcher.AddListener(event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		created++
		return nil
	}), event.EntityCreated)

	// when
	err := f.run(t, func(s *Session) error {
		task := &runtime.Task{ProcessInstanceId: rootId, ActivityId: "task"}
		require.NoError(t, s.InsertTask(task))
		found, err := s.TasksByProcessInstance(rootId)
		require.NoError(t, err)
		assert.Len(t, found, 1)
		return s.DeleteTask(task)
	})

	// then
	require.NoError(t, err)
	tasks, _ := f.store.FindTasksByProcessInstanceId(t.Context(), rootId)
	assert.Empty(t, tasks)
	assert.Zero(t, created)
}

func TestVariablesThroughTheSession(t *testing.T) {
	// given
	f := newFixture()
	rootId, childId := f.startInstance(t)

	// when
	err := f.run(t, func(s *Session) error {
		tree, err := s.Tree(rootId)
		require.NoError(t, err)
		scope, err := s.VariableScope(tree.Get(childId))
		require.NoError(t, err)
		require.NoError(t, scope.SetProcessVariable("amount", 10))
		return scope.SetVariableLocal("note", "local")
	})
	require.NoError(t, err)
	err = f.run(t, func(s *Session) error {
		tree, err := s.Tree(rootId)
		require.NoError(t, err)
		scope, err := s.VariableScope(tree.Get(childId))
		require.NoError(t, err)
		amount, err := scope.GetVariable("amount")
		require.NoError(t, err)
		assert.Equal(t, int64(10), amount)
		return scope.SetVariable("amount", 11)
	})

	// then
	require.NoError(t, err)
	onRoot, _ := f.store.FindVariablesByExecutionId(t.Context(), rootId)
	require.Len(t, onRoot, 1)
	assert.Equal(t, int64(11), *onRoot[0].LongValue)
	assert.Equal(t, 2, onRoot[0].Revision)
	onChild, _ := f.store.FindVariablesByExecutionId(t.Context(), childId)
	require.Len(t, onChild, 1)
	assert.Equal(t, "note", onChild[0].Name)
}

func TestEntityEventsAreFiredOnFlush(t *testing.T) {
	// given
	f := newFixture()
	var types []event.Type
	f.dispatcher.AddDeferredListener(event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		types = append(types, e.Type)
		return nil
	}), event.EntityCreated, event.EntityUpdated, event.EntityDeleted)

	// when
	rootId, childId := f.startInstance(t)
	err := f.run(t, func(s *Session) error {
		tree, err := s.Tree(rootId)
		require.NoError(t, err)
		tree.Root().IsActive = false
		return s.DeleteExecution(tree.Get(childId))
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, []event.Type{event.EntityCreated, event.EntityCreated, event.EntityUpdated, event.EntityDeleted}, types)
}

func TestProcessDefinitionsDeployedInTheSameCommandAreVisible(t *testing.T) {
	// given
	f := newFixture()

	// when
	err := f.run(t, func(s *Session) error {
		d := &runtime.Deployment{Name: "d"}
		require.NoError(t, s.InsertDeployment(d))
		require.NoError(t, s.InsertProcessDefinition(runtime.ProcessDefinitionEntity{Id: "p:1:1", Key: "p", Version: 1, DeploymentId: d.Id}))
		require.NoError(t, s.InsertProcessDefinition(runtime.ProcessDefinitionEntity{Id: "p:2:1", Key: "p", Version: 2, DeploymentId: d.Id}))
		latest, err := s.LatestProcessDefinition("p")
		require.NoError(t, err)
		assert.Equal(t, int32(2), latest.Version)
		return nil
	})

	// then
	require.NoError(t, err)
	latest, err := f.store.FindLatestProcessDefinitionByKey(t.Context(), "p")
	require.NoError(t, err)
	assert.Equal(t, "p:2:1", latest.Id)
}

func TestVariableEventsAreFiredOnFlush(t *testing.T) {
	// given
	f := newFixture()
	rootId, _ := f.startInstance(t)
	var names []string
	var types []event.Type
	f.dispatcher.AddListener(event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		names = append(names, e.VariableName)
		types = append(types, e.Type)
		return nil
	}), event.VariableCreated, event.VariableUpdated, event.VariableDeleted)

	// when
	err := f.run(t, func(s *Session) error {
		tree, err := s.Tree(rootId)
		require.NoError(t, err)
		scope, err := s.VariableScope(tree.Root())
		require.NoError(t, err)
		return scope.SetVariable("approved", true)
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, []string{"approved"}, names)
	assert.Equal(t, []event.Type{event.VariableCreated}, types)
}
