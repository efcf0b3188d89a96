// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package persistence implements the command session that reads entities
// through a per-command cache and writes every change of the command in one
// storage batch.
package persistence

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

const SessionName = "persistence"

// Session is not safe for concurrent use; it lives inside one command context.
type Session struct {
	cc         *command.CommandContext
	store      storage.Storage
	dispatcher *event.Dispatcher

	executions *entityCache[runtime.Execution]
	variables  *entityCache[runtime.VariableInstance]
	jobs       *entityCache[runtime.Job]
	tasks      *entityCache[runtime.Task]

	trees        map[int64]*runtime.ExecutionTree
	localsLoaded map[int64]bool

	deployments        []runtime.Deployment
	definitions        []runtime.ProcessDefinitionEntity
	removedDeployments []int64
	removedDefinitions []string

	batch       storage.Batch
	afterCommit []func()
}

var _ command.TransactionalSession = &Session{}
var _ runtime.VariableStore = &Session{}

// NewSessionFactory opens persistence sessions over store. dispatcher may be nil.
func NewSessionFactory(store storage.Storage, dispatcher *event.Dispatcher) command.SessionFactory {
	return command.NewSessionFactory(SessionName, func(cc *command.CommandContext) (command.Session, error) {
		return newSession(cc, store, dispatcher), nil
	})
}

func newSession(cc *command.CommandContext, store storage.Storage, dispatcher *event.Dispatcher) *Session {
	return &Session{
		cc:           cc,
		store:        store,
		dispatcher:   dispatcher,
		executions:   newEntityCache("execution", func(e *runtime.Execution) int64 { return e.Id }, func(e *runtime.Execution) *int { return &e.Revision }),
		variables:    newEntityCache("variable", func(v *runtime.VariableInstance) int64 { return v.Id }, func(v *runtime.VariableInstance) *int { return &v.Revision }),
		jobs:         newEntityCache("job", func(j *runtime.Job) int64 { return j.Id }, func(j *runtime.Job) *int { return &j.Revision }),
		tasks:        newEntityCache("task", func(t *runtime.Task) int64 { return t.Id }, func(t *runtime.Task) *int { return &t.Revision }),
		trees:        map[int64]*runtime.ExecutionTree{},
		localsLoaded: map[int64]bool{},
	}
}

// FromCommand returns the persistence session of cc.
func FromCommand(cc *command.CommandContext) (*Session, error) {
	return command.GetSession[*Session](cc, SessionName)
}

// Storage gives direct read access to committed state.
func (s *Session) Storage() storage.Storage {
	return s.store
}

func (s *Session) GenerateId() int64 {
	return s.store.GenerateId()
}

func notFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, storage.ErrNotFound)
}

// executions

func (s *Session) FindExecution(id int64) (*runtime.Execution, error) {
	if e, known := s.executions.get(id); known {
		if e == nil {
			return nil, notFound("execution", id)
		}
		return e, nil
	}
	row, err := s.store.FindExecutionById(s.cc.Context(), id)
	if err != nil {
		return nil, err
	}
	return s.executions.load(row), nil
}

// Tree returns the execution tree of a process instance. The tree and the
// executions in it are shared by everybody working in this command.
func (s *Session) Tree(processInstanceId int64) (*runtime.ExecutionTree, error) {
	if t, ok := s.trees[processInstanceId]; ok {
		return t, nil
	}
	rows, err := s.store.FindExecutionsByProcessInstanceId(s.cc.Context(), processInstanceId)
	if err != nil {
		return nil, err
	}
	s.executions.loadAll(rows)
	live := s.executions.live(func(e *runtime.Execution) bool { return e.ProcessInstanceId == processInstanceId })
	if len(live) == 0 {
		return nil, notFound("process instance", processInstanceId)
	}
	t, err := runtime.BuildExecutionTree(live)
	if err != nil {
		return nil, fmt.Errorf("failed to build execution tree of %d: %w", processInstanceId, err)
	}
	s.trees[processInstanceId] = t
	return t, nil
}

// InsertExecution assigns an id when e has none. A root execution becomes
// its own process instance.
func (s *Session) InsertExecution(e *runtime.Execution) error {
	if e.Id == 0 {
		e.Id = s.store.GenerateId()
	}
	if e.ParentId == 0 {
		e.ProcessInstanceId = e.Id
		s.executions.insert(e)
		s.trees[e.Id] = runtime.NewExecutionTree(e)
		s.localsLoaded[e.Id] = true
		return nil
	}
	t, err := s.Tree(e.ProcessInstanceId)
	if err != nil {
		return err
	}
	if err := t.Attach(e); err != nil {
		return err
	}
	s.executions.insert(e)
	s.localsLoaded[e.Id] = true
	return nil
}

// DeleteExecution removes a leaf execution. Executions with children are refused.
func (s *Session) DeleteExecution(e *runtime.Execution) error {
	t, err := s.Tree(e.ProcessInstanceId)
	if err != nil {
		return err
	}
	if e.ParentId == 0 {
		if len(t.Children(e.Id)) > 0 {
			return fmt.Errorf("process instance %d: %w", e.Id, runtime.ErrScopeHasChildren)
		}
		delete(s.trees, e.Id)
	} else if err := t.Detach(e.Id); err != nil {
		return err
	}
	s.executions.delete(e)
	return nil
}

// TouchExecution writes e on flush even when none of its fields changed. Two
// commands touching the same execution cannot both commit.
func (s *Session) TouchExecution(e *runtime.Execution) {
	s.executions.touch(e.Id)
}

// FindProcessInstances returns the root executions, optionally of one definition.
func (s *Session) FindProcessInstances(processDefinitionId string) ([]*runtime.Execution, error) {
	rows, err := s.store.FindProcessInstances(s.cc.Context(), processDefinitionId)
	if err != nil {
		return nil, err
	}
	s.executions.loadAll(rows)
	return s.executions.live(func(e *runtime.Execution) bool {
		return e.IsProcessInstance() && (processDefinitionId == "" || e.ProcessDefinitionId == processDefinitionId)
	}), nil
}

// FindSubProcessInstance returns the process instance called by a call activity execution.
func (s *Session) FindSubProcessInstance(superExecutionId int64) (*runtime.Execution, error) {
	match := func(e *runtime.Execution) bool { return e.IsProcessInstance() && e.SuperExecutionId == superExecutionId }
	if live := s.executions.live(match); len(live) > 0 {
		return live[0], nil
	}
	row, err := s.store.FindSubProcessInstance(s.cc.Context(), superExecutionId)
	if err != nil {
		return nil, err
	}
	if e := s.executions.load(row); e != nil && match(e) {
		return e, nil
	}
	return nil, notFound("sub process instance of", superExecutionId)
}

// variables

func (s *Session) LocalVariables(executionId int64) ([]*runtime.VariableInstance, error) {
	if !s.localsLoaded[executionId] {
		rows, err := s.store.FindVariablesByExecutionId(s.cc.Context(), executionId)
		if err != nil {
			return nil, err
		}
		s.variables.loadAll(rows)
		s.localsLoaded[executionId] = true
	}
	return s.variables.live(func(v *runtime.VariableInstance) bool { return v.ExecutionId == executionId }), nil
}

func (s *Session) InsertVariable(v *runtime.VariableInstance) error {
	if v.Id == 0 {
		v.Id = s.store.GenerateId()
	}
	s.variables.insert(v)
	return nil
}

// UpdateVariable is a no-op, changes of cached variables are detected on flush.
func (s *Session) UpdateVariable(v *runtime.VariableInstance) error {
	if _, known := s.variables.get(v.Id); !known {
		return notFound("variable", v.Id)
	}
	return nil
}

func (s *Session) DeleteVariable(v *runtime.VariableInstance) error {
	s.variables.delete(v)
	return nil
}

// VariableScope returns the variable scope of e, which must belong to a loaded tree.
func (s *Session) VariableScope(e *runtime.Execution) (*runtime.VariableScope, error) {
	t, err := s.Tree(e.ProcessInstanceId)
	if err != nil {
		return nil, err
	}
	return runtime.NewVariableScope(t, s, e), nil
}

// jobs

func (s *Session) FindJob(id int64) (*runtime.Job, error) {
	if j, known := s.jobs.get(id); known {
		if j == nil {
			return nil, notFound("job", id)
		}
		return j, nil
	}
	row, err := s.store.FindJobById(s.cc.Context(), id)
	if err != nil {
		return nil, err
	}
	return s.jobs.load(row), nil
}

func (s *Session) JobsByExecution(executionId int64) ([]*runtime.Job, error) {
	rows, err := s.store.FindJobsByExecutionId(s.cc.Context(), executionId)
	if err != nil {
		return nil, err
	}
	s.jobs.loadAll(rows)
	return s.jobs.live(func(j *runtime.Job) bool { return j.ExecutionId == executionId }), nil
}

func (s *Session) JobsByProcessInstance(processInstanceId int64) ([]*runtime.Job, error) {
	rows, err := s.store.FindJobsByProcessInstanceId(s.cc.Context(), processInstanceId)
	if err != nil {
		return nil, err
	}
	s.jobs.loadAll(rows)
	return s.jobs.live(func(j *runtime.Job) bool { return j.ProcessInstanceId == processInstanceId }), nil
}

func (s *Session) JobsByState(state runtime.JobState) ([]*runtime.Job, error) {
	rows, err := s.store.FindJobsByState(s.cc.Context(), state)
	if err != nil {
		return nil, err
	}
	s.jobs.loadAll(rows)
	return s.jobs.live(func(j *runtime.Job) bool { return j.State == state }), nil
}

func (s *Session) InsertJob(j *runtime.Job) error {
	if j.Id == 0 {
		j.Id = s.store.GenerateId()
	}
	s.jobs.insert(j)
	return nil
}

func (s *Session) DeleteJob(j *runtime.Job) error {
	s.jobs.delete(j)
	return nil
}

// tasks

func (s *Session) FindTask(id int64) (*runtime.Task, error) {
	if t, known := s.tasks.get(id); known {
		if t == nil {
			return nil, notFound("task", id)
		}
		return t, nil
	}
	row, err := s.store.FindTaskById(s.cc.Context(), id)
	if err != nil {
		return nil, err
	}
	return s.tasks.load(row), nil
}

func (s *Session) TasksByExecution(executionId int64) ([]*runtime.Task, error) {
	return s.findTasks(storage.TaskFilter{}, func() ([]runtime.Task, error) {
		return s.store.FindTasksByExecutionId(s.cc.Context(), executionId)
	}, func(t *runtime.Task) bool { return t.ExecutionId == executionId })
}

func (s *Session) TasksByProcessInstance(processInstanceId int64) ([]*runtime.Task, error) {
	filter := storage.TaskFilter{ProcessInstanceId: processInstanceId}
	return s.findTasks(filter, func() ([]runtime.Task, error) {
		return s.store.FindTasksByProcessInstanceId(s.cc.Context(), processInstanceId)
	}, nil)
}

func (s *Session) FindTasks(filter storage.TaskFilter) ([]*runtime.Task, error) {
	return s.findTasks(filter, func() ([]runtime.Task, error) {
		return s.store.FindTasks(s.cc.Context(), filter)
	}, nil)
}

// findTasks merges rows from query with the tasks of this command matching
// filter and extra.
func (s *Session) findTasks(filter storage.TaskFilter, query func() ([]runtime.Task, error), extra func(*runtime.Task) bool) ([]*runtime.Task, error) {
	rows, err := query()
	if err != nil {
		return nil, err
	}
	s.tasks.loadAll(rows)
	return s.tasks.live(func(t *runtime.Task) bool {
		return filter.Matches(*t) && (extra == nil || extra(t))
	}), nil
}

func (s *Session) InsertTask(t *runtime.Task) error {
	if t.Id == 0 {
		t.Id = s.store.GenerateId()
	}
	s.tasks.insert(t)
	return nil
}

func (s *Session) DeleteTask(t *runtime.Task) error {
	s.tasks.delete(t)
	return nil
}

// deployments

func (s *Session) InsertDeployment(d *runtime.Deployment) error {
	if d.Id == 0 {
		d.Id = s.store.GenerateId()
	}
	s.deployments = append(s.deployments, *d)
	return nil
}

func (s *Session) InsertProcessDefinition(def runtime.ProcessDefinitionEntity) error {
	s.definitions = append(s.definitions, def)
	return nil
}

func (s *Session) DeleteDeployment(id int64) {
	s.removedDeployments = append(s.removedDeployments, id)
}

func (s *Session) DeleteProcessDefinition(id string) {
	s.removedDefinitions = append(s.removedDefinitions, id)
}

func (s *Session) FindDeployment(id int64) (runtime.Deployment, error) {
	if slices.Contains(s.removedDeployments, id) {
		return runtime.Deployment{}, notFound("deployment", id)
	}
	for _, d := range s.deployments {
		if d.Id == id {
			return d, nil
		}
	}
	return s.store.FindDeploymentById(s.cc.Context(), id)
}

func (s *Session) FindProcessDefinitionEntity(id string) (runtime.ProcessDefinitionEntity, error) {
	if slices.Contains(s.removedDefinitions, id) {
		return runtime.ProcessDefinitionEntity{}, notFound("process definition", id)
	}
	for _, d := range s.definitions {
		if d.Id == id {
			return d, nil
		}
	}
	return s.store.FindProcessDefinitionById(s.cc.Context(), id)
}

// ProcessDefinitionsByKey returns all versions of key ordered by version,
// including the ones deployed by this command.
func (s *Session) ProcessDefinitionsByKey(key string) ([]runtime.ProcessDefinitionEntity, error) {
	rows, err := s.store.FindProcessDefinitionsByKey(s.cc.Context(), key)
	if err != nil {
		return nil, err
	}
	for _, d := range s.definitions {
		if d.Key == key {
			rows = append(rows, d)
		}
	}
	rows = slices.DeleteFunc(rows, func(d runtime.ProcessDefinitionEntity) bool {
		return slices.Contains(s.removedDefinitions, d.Id)
	})
	slices.SortStableFunc(rows, func(a, b runtime.ProcessDefinitionEntity) int { return int(a.Version - b.Version) })
	return rows, nil
}

func (s *Session) LatestProcessDefinition(key string) (runtime.ProcessDefinitionEntity, error) {
	rows, err := s.ProcessDefinitionsByKey(key)
	if err != nil {
		return runtime.ProcessDefinitionEntity{}, err
	}
	if len(rows) == 0 {
		return runtime.ProcessDefinitionEntity{}, notFound("process definition with key", key)
	}
	return rows[len(rows)-1], nil
}

func (s *Session) ProcessDefinitionsByDeployment(deploymentId int64) ([]runtime.ProcessDefinitionEntity, error) {
	rows, err := s.store.FindProcessDefinitionsByDeploymentId(s.cc.Context(), deploymentId)
	if err != nil {
		return nil, err
	}
	for _, d := range s.definitions {
		if d.DeploymentId == deploymentId {
			rows = append(rows, d)
		}
	}
	return slices.DeleteFunc(rows, func(d runtime.ProcessDefinitionEntity) bool {
		return slices.Contains(s.removedDefinitions, d.Id)
	}), nil
}

// session lifecycle

// Flush queues every change of the command into a new storage batch.
func (s *Session) Flush() error {
	ctx := s.cc.Context()
	b := s.store.NewBatch()
	s.batch = b
	for _, d := range s.deployments {
		if err := b.InsertDeployment(ctx, d); err != nil {
			return err
		}
	}
	for _, d := range s.definitions {
		if err := b.InsertProcessDefinition(ctx, d); err != nil {
			return err
		}
	}
	executions, err := s.executions.flush(ctx, b.InsertExecution, b.UpdateExecution, b.DeleteExecution)
	if err != nil {
		return err
	}
	variables, err := s.variables.flush(ctx, b.InsertVariable, b.UpdateVariable, b.DeleteVariable)
	if err != nil {
		return err
	}
	tasks, err := s.tasks.flush(ctx, b.InsertTask, b.UpdateTask, b.DeleteTask)
	if err != nil {
		return err
	}
	jobs, err := s.jobs.flush(ctx, b.InsertJob, b.UpdateJob, b.DeleteJob)
	if err != nil {
		return err
	}
	for _, id := range s.removedDefinitions {
		if err := b.DeleteProcessDefinition(ctx, id); err != nil {
			return err
		}
	}
	for _, id := range s.removedDeployments {
		if err := b.DeleteDeployment(ctx, id); err != nil {
			return err
		}
	}
	s.afterCommit = []func(){
		func() { s.executions.committed(executions) },
		func() { s.variables.committed(variables) },
		func() { s.tasks.committed(tasks) },
		func() { s.jobs.committed(jobs) },
	}
	return errors.Join(
		dispatchEntityEvents(s, executions),
		dispatchEntityEvents(s, variables),
		dispatchVariableEvents(s, variables),
		dispatchEntityEvents(s, tasks),
		dispatchEntityEvents(s, jobs),
	)
}

func (s *Session) Commit() error {
	if s.batch == nil {
		return nil
	}
	err := s.batch.Flush(s.cc.Context())
	s.batch = nil
	if err != nil {
		if errors.Is(err, storage.ErrConcurrentModification) {
			return &command.OptimisticLockingError{Err: err}
		}
		return err
	}
	for _, f := range s.afterCommit {
		f()
	}
	s.afterCommit = nil
	s.deployments, s.definitions = nil, nil
	s.removedDeployments, s.removedDefinitions = nil, nil
	return nil
}

// Rollback forgets the queued batch; nothing was written yet.
func (s *Session) Rollback() {
	s.batch = nil
	s.afterCommit = nil
}

func (s *Session) Close() {
	s.trees = nil
}

func dispatchEntityEvents[T any](s *Session, res flushResult[T]) error {
	if s.dispatcher == nil {
		return nil
	}
	var errs []error
	fire := func(t event.Type, rows []*T) {
		if len(rows) == 0 || !s.dispatcher.Enabled(t) {
			return
		}
		for _, row := range rows {
			errs = append(errs, s.dispatcher.Dispatch(s.cc, entityEvent(t, *row)))
		}
	}
	fire(event.EntityCreated, res.inserted)
	fire(event.EntityUpdated, res.updated)
	fire(event.EntityDeleted, res.deleted)
	return errors.Join(errs...)
}

func dispatchVariableEvents(s *Session, res flushResult[runtime.VariableInstance]) error {
	if s.dispatcher == nil {
		return nil
	}
	var errs []error
	fire := func(t event.Type, rows []*runtime.VariableInstance) {
		if len(rows) == 0 || !s.dispatcher.Enabled(t) {
			return
		}
		for _, v := range rows {
			errs = append(errs, s.dispatcher.Dispatch(s.cc, entityEvent(t, *v)))
		}
	}
	fire(event.VariableCreated, res.inserted)
	fire(event.VariableUpdated, res.updated)
	fire(event.VariableDeleted, res.deleted)
	return errors.Join(errs...)
}

func entityEvent(t event.Type, entity any) event.Event {
	e := event.Event{Type: t, Entity: entity}
	switch v := entity.(type) {
	case runtime.Execution:
		e.ExecutionId, e.ProcessInstanceId, e.ProcessDefinitionId, e.ActivityId = v.Id, v.ProcessInstanceId, v.ProcessDefinitionId, v.ActivityId
	case runtime.VariableInstance:
		e.ExecutionId, e.ProcessInstanceId, e.VariableName = v.ExecutionId, v.ProcessInstanceId, v.Name
	case runtime.Task:
		e.TaskId, e.ExecutionId, e.ProcessInstanceId, e.ActivityId = v.Id, v.ExecutionId, v.ProcessInstanceId, v.ActivityId
	case runtime.Job:
		e.JobId, e.ExecutionId, e.ProcessInstanceId, e.ProcessDefinitionId = v.Id, v.ExecutionId, v.ProcessInstanceId, v.ProcessDefinitionId
	}
	return e
}
