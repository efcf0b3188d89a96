// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package boltstore persists engine state in a single bbolt file. Every batch
// is applied inside one bolt read-write transaction.
package boltstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/pbinitiative/zenpvm/pkg/zenflake"
	bolt "go.etcd.io/bbolt"
)

type Storage struct {
	db        *bolt.DB
	generator *zenflake.Generator

	deployments *bucket[int64, runtime.Deployment]
	definitions *bucket[string, runtime.ProcessDefinitionEntity]
	executions  *bucket[int64, runtime.Execution]
	variables   *bucket[int64, runtime.VariableInstance]
	jobs        *bucket[int64, runtime.Job]
	tasks       *bucket[int64, runtime.Task]
}

var _ storage.Storage = &Storage{}

// Open opens (or creates) the database file at path. timeout bounds the wait
// for the file lock held by another process.
func Open(path string, timeout time.Duration) (*Storage, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}
	s := &Storage{
		db:        db,
		generator: zenflake.NewGeneratorFromEnv(),
		deployments: &bucket[int64, runtime.Deployment]{
			name:      []byte("deployments"),
			entity:    "deployment",
			key:       func(d runtime.Deployment) int64 { return d.Id },
			encodeKey: int64Key,
			order:     func(a, b runtime.Deployment) int { return cmp.Compare(a.Id, b.Id) },
		},
		definitions: &bucket[string, runtime.ProcessDefinitionEntity]{
			name:      []byte("process_definitions"),
			entity:    "process definition",
			key:       func(d runtime.ProcessDefinitionEntity) string { return d.Id },
			encodeKey: stringKey,
			order:     func(a, b runtime.ProcessDefinitionEntity) int {
				return cmp.Or(cmp.Compare(a.Key, b.Key), cmp.Compare(a.Version, b.Version))
			},
		},
		executions: &bucket[int64, runtime.Execution]{
			name:      []byte("executions"),
			entity:    "execution",
			key:       func(e runtime.Execution) int64 { return e.Id },
			encodeKey: int64Key,
			order:     func(a, b runtime.Execution) int { return cmp.Compare(a.Id, b.Id) },
			revision:  func(e *runtime.Execution) *int { return &e.Revision },
		},
		variables: &bucket[int64, runtime.VariableInstance]{
			name:      []byte("variables"),
			entity:    "variable",
			key:       func(v runtime.VariableInstance) int64 { return v.Id },
			encodeKey: int64Key,
			order:     func(a, b runtime.VariableInstance) int { return cmp.Compare(a.Id, b.Id) },
			revision:  func(v *runtime.VariableInstance) *int { return &v.Revision },
		},
		jobs: &bucket[int64, runtime.Job]{
			name:      []byte("jobs"),
			entity:    "job",
			key:       func(j runtime.Job) int64 { return j.Id },
			encodeKey: int64Key,
			order:     func(a, b runtime.Job) int { return cmp.Compare(a.Id, b.Id) },
			revision:  func(j *runtime.Job) *int { return &j.Revision },
		},
		tasks: &bucket[int64, runtime.Task]{
			name:      []byte("tasks"),
			entity:    "task",
			key:       func(t runtime.Task) int64 { return t.Id },
			encodeKey: int64Key,
			order:     func(a, b runtime.Task) int { return cmp.Compare(a.Id, b.Id) },
			revision:  func(t *runtime.Task) *int { return &t.Revision },
		},
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{s.deployments.name, s.definitions.name, s.executions.name, s.variables.name, s.jobs.name, s.tasks.name} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) GenerateId() int64 {
	return s.generator.Generate()
}

func (s *Storage) NewBatch() storage.Batch {
	return &Batch{db: s}
}

func view[T any](s *Storage, fn func(tx *bolt.Tx) (T, error)) (T, error) {
	var res T
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		res, err = fn(tx)
		return err
	})
	return res, err
}

func (s *Storage) FindDeploymentById(ctx context.Context, id int64) (runtime.Deployment, error) {
	return view(s, func(tx *bolt.Tx) (runtime.Deployment, error) { return s.deployments.get(tx, id) })
}

func (s *Storage) FindDeployments(ctx context.Context) ([]runtime.Deployment, error) {
	return view(s, func(tx *bolt.Tx) ([]runtime.Deployment, error) {
		return s.deployments.filter(tx, func(runtime.Deployment) bool { return true })
	})
}

func (s *Storage) FindProcessDefinitionById(ctx context.Context, id string) (runtime.ProcessDefinitionEntity, error) {
	return view(s, func(tx *bolt.Tx) (runtime.ProcessDefinitionEntity, error) { return s.definitions.get(tx, id) })
}

func (s *Storage) FindLatestProcessDefinitionByKey(ctx context.Context, key string) (runtime.ProcessDefinitionEntity, error) {
	defs, err := s.FindProcessDefinitionsByKey(ctx, key)
	if err != nil {
		return runtime.ProcessDefinitionEntity{}, err
	}
	if len(defs) == 0 {
		return runtime.ProcessDefinitionEntity{}, storage.ErrNotFound
	}
	return defs[len(defs)-1], nil
}

func (s *Storage) FindProcessDefinitionsByKey(ctx context.Context, key string) ([]runtime.ProcessDefinitionEntity, error) {
	return view(s, func(tx *bolt.Tx) ([]runtime.ProcessDefinitionEntity, error) {
		return s.definitions.filter(tx, func(d runtime.ProcessDefinitionEntity) bool { return d.Key == key })
	})
}

func (s *Storage) FindProcessDefinitionsByDeploymentId(ctx context.Context, deploymentId int64) ([]runtime.ProcessDefinitionEntity, error) {
	return view(s, func(tx *bolt.Tx) ([]runtime.ProcessDefinitionEntity, error) {
		return s.definitions.filter(tx, func(d runtime.ProcessDefinitionEntity) bool { return d.DeploymentId == deploymentId })
	})
}

func (s *Storage) FindExecutionById(ctx context.Context, id int64) (runtime.Execution, error) {
	return view(s, func(tx *bolt.Tx) (runtime.Execution, error) { return s.executions.get(tx, id) })
}

func (s *Storage) FindExecutionsByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.Execution, error) {
	return view(s, func(tx *bolt.Tx) ([]runtime.Execution, error) {
		return s.executions.filter(tx, func(e runtime.Execution) bool { return e.ProcessInstanceId == processInstanceId })
	})
}

func (s *Storage) FindProcessInstances(ctx context.Context, processDefinitionId string) ([]runtime.Execution, error) {
	return view(s, func(tx *bolt.Tx) ([]runtime.Execution, error) {
		return s.executions.filter(tx, func(e runtime.Execution) bool {
			return e.ParentId == 0 && (processDefinitionId == "" || e.ProcessDefinitionId == processDefinitionId)
		})
	})
}

func (s *Storage) FindSubProcessInstance(ctx context.Context, superExecutionId int64) (runtime.Execution, error) {
	res, err := view(s, func(tx *bolt.Tx) ([]runtime.Execution, error) {
		return s.executions.filter(tx, func(e runtime.Execution) bool {
			return e.ParentId == 0 && e.SuperExecutionId == superExecutionId
		})
	})
	if err != nil {
		return runtime.Execution{}, err
	}
	if len(res) == 0 {
		return runtime.Execution{}, storage.ErrNotFound
	}
	return res[0], nil
}

func (s *Storage) FindVariablesByExecutionId(ctx context.Context, executionId int64) ([]runtime.VariableInstance, error) {
	return view(s, func(tx *bolt.Tx) ([]runtime.VariableInstance, error) {
		return s.variables.filter(tx, func(v runtime.VariableInstance) bool { return v.ExecutionId == executionId })
	})
}

func (s *Storage) FindVariablesByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.VariableInstance, error) {
	return view(s, func(tx *bolt.Tx) ([]runtime.VariableInstance, error) {
		return s.variables.filter(tx, func(v runtime.VariableInstance) bool { return v.ProcessInstanceId == processInstanceId })
	})
}

func (s *Storage) FindJobById(ctx context.Context, id int64) (runtime.Job, error) {
	return view(s, func(tx *bolt.Tx) (runtime.Job, error) { return s.jobs.get(tx, id) })
}

func (s *Storage) findJobs(match func(runtime.Job) bool) ([]runtime.Job, error) {
	return view(s, func(tx *bolt.Tx) ([]runtime.Job, error) { return s.jobs.filter(tx, match) })
}

func (s *Storage) FindJobsByExecutionId(ctx context.Context, executionId int64) ([]runtime.Job, error) {
	return s.findJobs(func(j runtime.Job) bool { return j.ExecutionId == executionId })
}

func (s *Storage) FindJobsByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.Job, error) {
	return s.findJobs(func(j runtime.Job) bool { return j.ProcessInstanceId == processInstanceId })
}

func (s *Storage) FindJobsByState(ctx context.Context, state runtime.JobState) ([]runtime.Job, error) {
	return s.findJobs(func(j runtime.Job) bool { return j.State == state })
}

func (s *Storage) FindDueTimerJobs(ctx context.Context, now time.Time, limit int) ([]runtime.Job, error) {
	res, err := s.findJobs(func(j runtime.Job) bool { return j.State == runtime.JobStateTimer && j.IsDue(now) })
	if err != nil {
		return nil, err
	}
	storage.SortByDueDate(res)
	return storage.Limit(res, limit), nil
}

func (s *Storage) FindAcquirableJobs(ctx context.Context, now time.Time, limit int) ([]runtime.Job, error) {
	res, err := s.findJobs(func(j runtime.Job) bool { return storage.Acquirable(j, now) })
	if err != nil {
		return nil, err
	}
	storage.SortByDueDate(res)
	return storage.Limit(res, limit), nil
}

// TryLockJob re-checks the job inside the write transaction; bolt serializes
// writers so a second acquirer sees the first lock.
func (s *Storage) TryLockJob(ctx context.Context, id int64, owner string, until time.Time, now time.Time) (bool, error) {
	locked := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		job, err := s.jobs.get(tx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !storage.Acquirable(job, now) {
			return nil
		}
		job.LockOwner = owner
		job.LockExpirationTime = &until
		job.Revision++
		locked = true
		return s.jobs.put(tx, job)
	})
	return locked, err
}

func (s *Storage) UnlockJob(ctx context.Context, id int64, owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := s.jobs.get(tx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if job.LockOwner != owner {
			return nil
		}
		job.LockOwner = ""
		job.LockExpirationTime = nil
		job.Revision++
		return s.jobs.put(tx, job)
	})
}

func (s *Storage) FindTaskById(ctx context.Context, id int64) (runtime.Task, error) {
	return view(s, func(tx *bolt.Tx) (runtime.Task, error) { return s.tasks.get(tx, id) })
}

func (s *Storage) FindTasksByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.Task, error) {
	return s.FindTasks(ctx, storage.TaskFilter{ProcessInstanceId: processInstanceId})
}

func (s *Storage) FindTasksByExecutionId(ctx context.Context, executionId int64) ([]runtime.Task, error) {
	return view(s, func(tx *bolt.Tx) ([]runtime.Task, error) {
		return s.tasks.filter(tx, func(t runtime.Task) bool { return t.ExecutionId == executionId })
	})
}

func (s *Storage) FindTasks(ctx context.Context, filter storage.TaskFilter) ([]runtime.Task, error) {
	return view(s, func(tx *bolt.Tx) ([]runtime.Task, error) { return s.tasks.filter(tx, filter.Matches) })
}

// Batch collects statements that Flush runs in one bolt transaction.
type Batch struct {
	db    *Storage
	stmts []func(tx *bolt.Tx) error
}

var _ storage.Batch = &Batch{}

func (b *Batch) Flush(ctx context.Context) error {
	stmts := b.stmts
	b.stmts = nil
	if len(stmts) == 0 {
		return nil
	}
	return b.db.db.Update(func(tx *bolt.Tx) error {
		for _, stmt := range stmts {
			if err := stmt(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Batch) add(stmt func(tx *bolt.Tx) error) error {
	b.stmts = append(b.stmts, stmt)
	return nil
}

func (b *Batch) InsertDeployment(ctx context.Context, deployment runtime.Deployment) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.deployments.insert(tx, deployment) })
}

func (b *Batch) DeleteDeployment(ctx context.Context, id int64) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.deployments.removeKey(tx, id) })
}

func (b *Batch) InsertProcessDefinition(ctx context.Context, definition runtime.ProcessDefinitionEntity) error {
	return b.add(func(tx *bolt.Tx) error {
		taken, err := b.db.definitions.filter(tx, func(d runtime.ProcessDefinitionEntity) bool {
			return d.Key == definition.Key && d.Version == definition.Version && d.Id != definition.Id
		})
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return storage.NewVersionConflict(definition.Key, definition.Version)
		}
		return b.db.definitions.insert(tx, definition)
	})
}

func (b *Batch) DeleteProcessDefinition(ctx context.Context, id string) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.definitions.removeKey(tx, id) })
}

func (b *Batch) InsertExecution(ctx context.Context, execution runtime.Execution) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.executions.insert(tx, execution) })
}

func (b *Batch) UpdateExecution(ctx context.Context, execution runtime.Execution) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.executions.update(tx, execution) })
}

func (b *Batch) DeleteExecution(ctx context.Context, execution runtime.Execution) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.executions.remove(tx, execution) })
}

func (b *Batch) InsertVariable(ctx context.Context, variable runtime.VariableInstance) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.variables.insert(tx, variable) })
}

func (b *Batch) UpdateVariable(ctx context.Context, variable runtime.VariableInstance) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.variables.update(tx, variable) })
}

func (b *Batch) DeleteVariable(ctx context.Context, variable runtime.VariableInstance) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.variables.remove(tx, variable) })
}

func (b *Batch) InsertJob(ctx context.Context, job runtime.Job) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.jobs.insert(tx, job) })
}

func (b *Batch) UpdateJob(ctx context.Context, job runtime.Job) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.jobs.update(tx, job) })
}

func (b *Batch) DeleteJob(ctx context.Context, job runtime.Job) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.jobs.remove(tx, job) })
}

func (b *Batch) InsertTask(ctx context.Context, task runtime.Task) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.tasks.insert(tx, task) })
}

func (b *Batch) UpdateTask(ctx context.Context, task runtime.Task) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.tasks.update(tx, task) })
}

func (b *Batch) DeleteTask(ctx context.Context, task runtime.Task) error {
	return b.add(func(tx *bolt.Tx) error { return b.db.tasks.remove(tx, task) })
}
