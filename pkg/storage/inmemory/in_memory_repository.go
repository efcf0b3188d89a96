// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory

import (
	"cmp"
	"context"
	"sync"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/pbinitiative/zenpvm/pkg/zenflake"
)

// Storage keeps process information in memory,
// please use NewStorage to create a new object of this type.
type Storage struct {
	mu        sync.RWMutex
	generator *zenflake.Generator

	deployments *table[int64, runtime.Deployment]
	definitions *table[string, runtime.ProcessDefinitionEntity]
	executions  *table[int64, runtime.Execution]
	variables   *table[int64, runtime.VariableInstance]
	jobs        *table[int64, runtime.Job]
	tasks       *table[int64, runtime.Task]
}

func NewStorage() *Storage {
	return &Storage{
		generator: zenflake.NewGeneratorFromEnv(),
		deployments: newTable("deployment",
			func(d runtime.Deployment) int64 { return d.Id },
			func(a, b runtime.Deployment) int { return cmp.Compare(a.Id, b.Id) },
			nil),
		definitions: newTable("process definition",
			func(d runtime.ProcessDefinitionEntity) string { return d.Id },
			func(a, b runtime.ProcessDefinitionEntity) int {
				return cmp.Or(cmp.Compare(a.Key, b.Key), cmp.Compare(a.Version, b.Version))
			},
			nil),
		executions: newTable("execution",
			func(e runtime.Execution) int64 { return e.Id },
			func(a, b runtime.Execution) int { return cmp.Compare(a.Id, b.Id) },
			func(e *runtime.Execution) *int { return &e.Revision }),
		variables: newTable("variable",
			func(v runtime.VariableInstance) int64 { return v.Id },
			func(a, b runtime.VariableInstance) int { return cmp.Compare(a.Id, b.Id) },
			func(v *runtime.VariableInstance) *int { return &v.Revision }),
		jobs: newTable("job",
			func(j runtime.Job) int64 { return j.Id },
			func(a, b runtime.Job) int { return cmp.Compare(a.Id, b.Id) },
			func(j *runtime.Job) *int { return &j.Revision }),
		tasks: newTable("task",
			func(t runtime.Task) int64 { return t.Id },
			func(a, b runtime.Task) int { return cmp.Compare(a.Id, b.Id) },
			func(t *runtime.Task) *int { return &t.Revision }),
	}
}

var _ storage.Storage = &Storage{}

func (mem *Storage) GenerateId() int64 {
	return mem.generator.Generate()
}

func (mem *Storage) NewBatch() storage.Batch {
	return &StorageBatch{
		db:        mem,
		stmtToRun: make([]statement, 0, 10),
	}
}

var _ storage.DeploymentStorageReader = &Storage{}

func (mem *Storage) FindDeploymentById(ctx context.Context, id int64) (runtime.Deployment, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.deployments.get(id)
}

func (mem *Storage) FindDeployments(ctx context.Context) ([]runtime.Deployment, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.deployments.filter(func(runtime.Deployment) bool { return true }), nil
}

var _ storage.ProcessDefinitionStorageReader = &Storage{}

func (mem *Storage) FindProcessDefinitionById(ctx context.Context, id string) (runtime.ProcessDefinitionEntity, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.definitions.get(id)
}

func (mem *Storage) FindLatestProcessDefinitionByKey(ctx context.Context, key string) (runtime.ProcessDefinitionEntity, error) {
	defs, _ := mem.FindProcessDefinitionsByKey(ctx, key)
	if len(defs) == 0 {
		return runtime.ProcessDefinitionEntity{}, storage.ErrNotFound
	}
	return defs[len(defs)-1], nil
}

func (mem *Storage) FindProcessDefinitionsByKey(ctx context.Context, key string) ([]runtime.ProcessDefinitionEntity, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.definitions.filter(func(d runtime.ProcessDefinitionEntity) bool { return d.Key == key }), nil
}

func (mem *Storage) FindProcessDefinitionsByDeploymentId(ctx context.Context, deploymentId int64) ([]runtime.ProcessDefinitionEntity, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.definitions.filter(func(d runtime.ProcessDefinitionEntity) bool { return d.DeploymentId == deploymentId }), nil
}

var _ storage.ExecutionStorageReader = &Storage{}

func (mem *Storage) FindExecutionById(ctx context.Context, id int64) (runtime.Execution, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.executions.get(id)
}

func (mem *Storage) FindExecutionsByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.Execution, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.executions.filter(func(e runtime.Execution) bool { return e.ProcessInstanceId == processInstanceId }), nil
}

func (mem *Storage) FindProcessInstances(ctx context.Context, processDefinitionId string) ([]runtime.Execution, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.executions.filter(func(e runtime.Execution) bool {
		return e.ParentId == 0 && (processDefinitionId == "" || e.ProcessDefinitionId == processDefinitionId)
	}), nil
}

func (mem *Storage) FindSubProcessInstance(ctx context.Context, superExecutionId int64) (runtime.Execution, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := mem.executions.filter(func(e runtime.Execution) bool {
		return e.ParentId == 0 && e.SuperExecutionId == superExecutionId
	})
	if len(res) == 0 {
		return runtime.Execution{}, storage.ErrNotFound
	}
	return res[0], nil
}

var _ storage.VariableStorageReader = &Storage{}

func (mem *Storage) FindVariablesByExecutionId(ctx context.Context, executionId int64) ([]runtime.VariableInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.variables.filter(func(v runtime.VariableInstance) bool { return v.ExecutionId == executionId }), nil
}

func (mem *Storage) FindVariablesByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.VariableInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.variables.filter(func(v runtime.VariableInstance) bool { return v.ProcessInstanceId == processInstanceId }), nil
}

var _ storage.JobStorageReader = &Storage{}

func (mem *Storage) FindJobById(ctx context.Context, id int64) (runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.jobs.get(id)
}

func (mem *Storage) FindJobsByExecutionId(ctx context.Context, executionId int64) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.jobs.filter(func(j runtime.Job) bool { return j.ExecutionId == executionId }), nil
}

func (mem *Storage) FindJobsByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.jobs.filter(func(j runtime.Job) bool { return j.ProcessInstanceId == processInstanceId }), nil
}

func (mem *Storage) FindJobsByState(ctx context.Context, state runtime.JobState) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.jobs.filter(func(j runtime.Job) bool { return j.State == state }), nil
}

func (mem *Storage) FindDueTimerJobs(ctx context.Context, now time.Time, limit int) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := mem.jobs.filter(func(j runtime.Job) bool { return j.State == runtime.JobStateTimer && j.IsDue(now) })
	storage.SortByDueDate(res)
	return storage.Limit(res, limit), nil
}

func (mem *Storage) FindAcquirableJobs(ctx context.Context, now time.Time, limit int) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := mem.jobs.filter(func(j runtime.Job) bool { return storage.Acquirable(j, now) })
	storage.SortByDueDate(res)
	return storage.Limit(res, limit), nil
}

var _ storage.JobLocker = &Storage{}

func (mem *Storage) TryLockJob(ctx context.Context, id int64, owner string, until time.Time, now time.Time) (bool, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	job, ok := mem.jobs.rows[id]
	if !ok || !storage.Acquirable(job, now) {
		return false, nil
	}
	job.LockOwner = owner
	job.LockExpirationTime = &until
	job.Revision++
	mem.jobs.rows[id] = job
	return true, nil
}

func (mem *Storage) UnlockJob(ctx context.Context, id int64, owner string) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	job, ok := mem.jobs.rows[id]
	if !ok || job.LockOwner != owner {
		return nil
	}
	job.LockOwner = ""
	job.LockExpirationTime = nil
	job.Revision++
	mem.jobs.rows[id] = job
	return nil
}

var _ storage.TaskStorageReader = &Storage{}

func (mem *Storage) FindTaskById(ctx context.Context, id int64) (runtime.Task, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.tasks.get(id)
}

func (mem *Storage) FindTasksByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.Task, error) {
	return mem.FindTasks(ctx, storage.TaskFilter{ProcessInstanceId: processInstanceId})
}

func (mem *Storage) FindTasksByExecutionId(ctx context.Context, executionId int64) ([]runtime.Task, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.tasks.filter(func(t runtime.Task) bool { return t.ExecutionId == executionId }), nil
}

func (mem *Storage) FindTasks(ctx context.Context, filter storage.TaskFilter) ([]runtime.Task, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return mem.tasks.filter(filter.Matches), nil
}

// statement applies one change and returns how to revert it.
type statement func() (undo func(), err error)

type StorageBatch struct {
	db        *Storage
	stmtToRun []statement
}

var _ storage.Batch = &StorageBatch{}

// Flush runs the statements under the write lock. The first failing statement
// reverts everything applied before it.
func (b *StorageBatch) Flush(ctx context.Context) error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	undos := make([]func(), 0, len(b.stmtToRun))
	for _, stmt := range b.stmtToRun {
		undo, err := stmt()
		if err != nil {
			for i := len(undos) - 1; i >= 0; i-- {
				undos[i]()
			}
			b.stmtToRun = make([]statement, 0)
			return err
		}
		undos = append(undos, undo)
	}
	b.stmtToRun = make([]statement, 0)
	return nil
}

func (b *StorageBatch) add(stmt statement) error {
	b.stmtToRun = append(b.stmtToRun, stmt)
	return nil
}

var _ storage.DeploymentStorageWriter = &StorageBatch{}

func (b *StorageBatch) InsertDeployment(ctx context.Context, deployment runtime.Deployment) error {
	return b.add(func() (func(), error) { return b.db.deployments.insert(deployment) })
}

func (b *StorageBatch) DeleteDeployment(ctx context.Context, id int64) error {
	return b.add(func() (func(), error) { return b.db.deployments.removeKey(id) })
}

var _ storage.ProcessDefinitionStorageWriter = &StorageBatch{}

func (b *StorageBatch) InsertProcessDefinition(ctx context.Context, definition runtime.ProcessDefinitionEntity) error {
	return b.add(func() (func(), error) {
		taken := b.db.definitions.filter(func(d runtime.ProcessDefinitionEntity) bool {
			return d.Key == definition.Key && d.Version == definition.Version && d.Id != definition.Id
		})
		if len(taken) > 0 {
			return nil, storage.NewVersionConflict(definition.Key, definition.Version)
		}
		return b.db.definitions.insert(definition)
	})
}

func (b *StorageBatch) DeleteProcessDefinition(ctx context.Context, id string) error {
	return b.add(func() (func(), error) { return b.db.definitions.removeKey(id) })
}

var _ storage.ExecutionStorageWriter = &StorageBatch{}

func (b *StorageBatch) InsertExecution(ctx context.Context, execution runtime.Execution) error {
	return b.add(func() (func(), error) { return b.db.executions.insert(execution) })
}

func (b *StorageBatch) UpdateExecution(ctx context.Context, execution runtime.Execution) error {
	return b.add(func() (func(), error) { return b.db.executions.update(execution) })
}

func (b *StorageBatch) DeleteExecution(ctx context.Context, execution runtime.Execution) error {
	return b.add(func() (func(), error) { return b.db.executions.remove(execution) })
}

var _ storage.VariableStorageWriter = &StorageBatch{}

func (b *StorageBatch) InsertVariable(ctx context.Context, variable runtime.VariableInstance) error {
	return b.add(func() (func(), error) { return b.db.variables.insert(variable) })
}

func (b *StorageBatch) UpdateVariable(ctx context.Context, variable runtime.VariableInstance) error {
	return b.add(func() (func(), error) { return b.db.variables.update(variable) })
}

func (b *StorageBatch) DeleteVariable(ctx context.Context, variable runtime.VariableInstance) error {
	return b.add(func() (func(), error) { return b.db.variables.remove(variable) })
}

var _ storage.JobStorageWriter = &StorageBatch{}

func (b *StorageBatch) InsertJob(ctx context.Context, job runtime.Job) error {
	return b.add(func() (func(), error) { return b.db.jobs.insert(job) })
}

func (b *StorageBatch) UpdateJob(ctx context.Context, job runtime.Job) error {
	return b.add(func() (func(), error) { return b.db.jobs.update(job) })
}

func (b *StorageBatch) DeleteJob(ctx context.Context, job runtime.Job) error {
	return b.add(func() (func(), error) { return b.db.jobs.remove(job) })
}

var _ storage.TaskStorageWriter = &StorageBatch{}

func (b *StorageBatch) InsertTask(ctx context.Context, task runtime.Task) error {
	return b.add(func() (func(), error) { return b.db.tasks.insert(task) })
}

func (b *StorageBatch) UpdateTask(ctx context.Context, task runtime.Task) error {
	return b.add(func() (func(), error) { return b.db.tasks.update(task) })
}

func (b *StorageBatch) DeleteTask(ctx context.Context, task runtime.Task) error {
	return b.add(func() (func(), error) { return b.db.tasks.remove(task) })
}
