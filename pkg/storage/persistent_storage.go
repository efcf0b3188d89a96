// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storage

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

// Storage is used by the engine to read persisted state. All writes go
// through a Batch so that one command is applied atomically.
//
// Methods that are expected to return exactly one match MUST return ErrNotFound when the result does not exist
type Storage interface {
	DeploymentStorageReader
	ProcessDefinitionStorageReader
	ExecutionStorageReader
	VariableStorageReader
	JobStorageReader
	TaskStorageReader
	JobLocker

	GenerateId() int64
	NewBatch() Batch
}

type Batch interface {
	DeploymentStorageWriter
	ProcessDefinitionStorageWriter
	ExecutionStorageWriter
	VariableStorageWriter
	JobStorageWriter
	TaskStorageWriter

	// Flush applies all queued statements or none of them and prepares the batch for new statements
	Flush(ctx context.Context) error
}

type DeploymentStorageReader interface {
	FindDeploymentById(ctx context.Context, id int64) (runtime.Deployment, error)
	FindDeployments(ctx context.Context) ([]runtime.Deployment, error)
}

type DeploymentStorageWriter interface {
	InsertDeployment(ctx context.Context, deployment runtime.Deployment) error
	DeleteDeployment(ctx context.Context, id int64) error
}

type ProcessDefinitionStorageReader interface {
	FindProcessDefinitionById(ctx context.Context, id string) (runtime.ProcessDefinitionEntity, error)

	FindLatestProcessDefinitionByKey(ctx context.Context, key string) (runtime.ProcessDefinitionEntity, error)

	// FindProcessDefinitionsByKey return zero or many registered processes with given key
	// result array is ordered by version number, from 1 (first) and largest version (last)
	FindProcessDefinitionsByKey(ctx context.Context, key string) ([]runtime.ProcessDefinitionEntity, error)

	FindProcessDefinitionsByDeploymentId(ctx context.Context, deploymentId int64) ([]runtime.ProcessDefinitionEntity, error)
}

type ProcessDefinitionStorageWriter interface {
	// InsertProcessDefinition fails with ErrConcurrentModification when another
	// definition already holds the key and version.
	InsertProcessDefinition(ctx context.Context, definition runtime.ProcessDefinitionEntity) error
	DeleteProcessDefinition(ctx context.Context, id string) error
}

type ExecutionStorageReader interface {
	FindExecutionById(ctx context.Context, id int64) (runtime.Execution, error)

	// FindExecutionsByProcessInstanceId returns every execution of the instance including the root
	FindExecutionsByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.Execution, error)

	// FindProcessInstances returns the root executions, optionally limited to one process definition
	FindProcessInstances(ctx context.Context, processDefinitionId string) ([]runtime.Execution, error)

	// FindSubProcessInstance returns the process instance started by a call activity execution
	FindSubProcessInstance(ctx context.Context, superExecutionId int64) (runtime.Execution, error)
}

// ExecutionStorageWriter and the other writers check the Revision of updated
// and deleted rows against the stored one and increment it on update.
type ExecutionStorageWriter interface {
	InsertExecution(ctx context.Context, execution runtime.Execution) error
	UpdateExecution(ctx context.Context, execution runtime.Execution) error
	DeleteExecution(ctx context.Context, execution runtime.Execution) error
}

type VariableStorageReader interface {
	FindVariablesByExecutionId(ctx context.Context, executionId int64) ([]runtime.VariableInstance, error)
	FindVariablesByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.VariableInstance, error)
}

type VariableStorageWriter interface {
	InsertVariable(ctx context.Context, variable runtime.VariableInstance) error
	UpdateVariable(ctx context.Context, variable runtime.VariableInstance) error
	DeleteVariable(ctx context.Context, variable runtime.VariableInstance) error
}

type JobStorageReader interface {
	FindJobById(ctx context.Context, id int64) (runtime.Job, error)
	FindJobsByExecutionId(ctx context.Context, executionId int64) ([]runtime.Job, error)
	FindJobsByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.Job, error)
	FindJobsByState(ctx context.Context, state runtime.JobState) ([]runtime.Job, error)

	// FindDueTimerJobs returns up to limit jobs in timer state whose due date is not after now, oldest due date first
	FindDueTimerJobs(ctx context.Context, now time.Time, limit int) ([]runtime.Job, error)

	// FindAcquirableJobs returns up to limit executable jobs that are due and not locked (or whose lock expired)
	FindAcquirableJobs(ctx context.Context, now time.Time, limit int) ([]runtime.Job, error)
}

type JobStorageWriter interface {
	InsertJob(ctx context.Context, job runtime.Job) error
	UpdateJob(ctx context.Context, job runtime.Job) error
	DeleteJob(ctx context.Context, job runtime.Job) error
}

// JobLocker performs the conditional lock updates of job acquisition outside of any batch.
type JobLocker interface {
	// TryLockJob locks the job for owner until the given time when it is executable, due and
	// not locked at now. It returns false when another owner holds the lock or the job is gone.
	TryLockJob(ctx context.Context, id int64, owner string, until time.Time, now time.Time) (bool, error)

	// UnlockJob releases a lock held by owner. Locks of other owners are left untouched.
	UnlockJob(ctx context.Context, id int64, owner string) error
}

type TaskStorageReader interface {
	FindTaskById(ctx context.Context, id int64) (runtime.Task, error)
	FindTasksByProcessInstanceId(ctx context.Context, processInstanceId int64) ([]runtime.Task, error)
	FindTasksByExecutionId(ctx context.Context, executionId int64) ([]runtime.Task, error)
	FindTasks(ctx context.Context, filter TaskFilter) ([]runtime.Task, error)
}

type TaskStorageWriter interface {
	InsertTask(ctx context.Context, task runtime.Task) error
	UpdateTask(ctx context.Context, task runtime.Task) error
	DeleteTask(ctx context.Context, task runtime.Task) error
}

// TaskFilter zero values match everything.
type TaskFilter struct {
	ProcessInstanceId int64
	Assignee          string
	CandidateGroup    string
	ActivityId        string
}

func (f TaskFilter) Matches(t runtime.Task) bool {
	if f.ProcessInstanceId != 0 && t.ProcessInstanceId != f.ProcessInstanceId {
		return false
	}
	if f.Assignee != "" && t.Assignee != f.Assignee {
		return false
	}
	if f.ActivityId != "" && t.ActivityId != f.ActivityId {
		return false
	}
	if f.CandidateGroup != "" {
		for _, g := range t.CandidateGroups {
			if g == f.CandidateGroup {
				return true
			}
		}
		return false
	}
	return true
}

// Acquirable reports whether job may be locked at now.
func Acquirable(job runtime.Job, now time.Time) bool {
	return job.State == runtime.JobStateExecutable && job.IsDue(now) && !job.IsLocked(now)
}

// SortByDueDate orders jobs by due date, jobs without due date first, then by id.
func SortByDueDate(jobs []runtime.Job) {
	slices.SortStableFunc(jobs, func(a, b runtime.Job) int {
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return -1
		case a.DueDate != nil && b.DueDate == nil:
			return 1
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Compare(*b.DueDate)
		}
		return cmp.Compare(a.Id, b.Id)
	})
}

// Limit cuts rows to at most limit entries; limit <= 0 keeps everything.
func Limit[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
