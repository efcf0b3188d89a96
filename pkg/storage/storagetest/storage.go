// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package storagetest is the conformance suite every storage implementation runs.
package storagetest

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	stdruntime "runtime"

	bpmnruntime "github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/ptr"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

type StorageTester struct {
	deployment        bpmnruntime.Deployment
	processDefinition bpmnruntime.ProcessDefinitionEntity
	now               time.Time
}

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestDeploymentStorage,
		st.TestProcessDefinitionStorageReader,
		st.TestProcessDefinitionVersionIsTakenOnce,
		st.TestExecutionStorage,
		st.TestExecutionRevisionConflicts,
		st.TestBatchIsAtomic,
		st.TestSubProcessInstance,
		st.TestVariableStorage,
		st.TestJobStorage,
		st.TestDueTimerJobs,
		st.TestAcquirableJobs,
		st.TestJobLocking,
		st.TestTaskStorage,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		strippedName = strings.TrimSuffix(strippedName, "-fm")
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func getDeployment(r int64, now time.Time) bpmnruntime.Deployment {
	data := `<?xml version="1.0" encoding="UTF-8"?><definitions><process id="Simple_Task_Process%d" name="aName" isExecutable="true"></process></definitions>`
	return bpmnruntime.Deployment{
		Id:         r,
		Name:       fmt.Sprintf("deployment-%d", r),
		DeployTime: now,
		Resources:  map[string][]byte{"process.bpmn": []byte(fmt.Sprintf(data, r))},
	}
}

func getProcessDefinition(key string, version int32, deploymentId int64) bpmnruntime.ProcessDefinitionEntity {
	return bpmnruntime.ProcessDefinitionEntity{
		Id:           fmt.Sprintf("%s:%d:%d", key, version, deploymentId),
		Key:          key,
		Version:      version,
		Name:         "aName",
		DeploymentId: deploymentId,
		ResourceName: "process.bpmn",
		Checksum:     [16]byte{1},
	}
}

func (st *StorageTester) getRoot(s storage.Storage) bpmnruntime.Execution {
	r := s.GenerateId()
	return bpmnruntime.Execution{
		Id:                  r,
		ProcessInstanceId:   r,
		ProcessDefinitionId: st.processDefinition.Id,
		ActivityId:          "start",
		IsActive:            true,
		IsScope:             true,
		StartTime:           st.now,
		Revision:            1,
	}
}

func (st *StorageTester) getChild(s storage.Storage, parent bpmnruntime.Execution) bpmnruntime.Execution {
	return bpmnruntime.Execution{
		Id:                  s.GenerateId(),
		ProcessInstanceId:   parent.ProcessInstanceId,
		ParentId:            parent.Id,
		ProcessDefinitionId: parent.ProcessDefinitionId,
		ActivityId:          "task",
		IsActive:            true,
		IsConcurrent:        true,
		StartTime:           st.now,
		Revision:            1,
	}
}

func (st *StorageTester) getJob(s storage.Storage, execution bpmnruntime.Execution, state bpmnruntime.JobState, due *time.Time) bpmnruntime.Job {
	return bpmnruntime.Job{
		Id:                   s.GenerateId(),
		Type:                 bpmnruntime.JobTypeTimer,
		State:                state,
		ExecutionId:          execution.Id,
		ProcessInstanceId:    execution.ProcessInstanceId,
		ProcessDefinitionId:  execution.ProcessDefinitionId,
		HandlerType:          "timer-event",
		HandlerConfiguration: `{"activityId":"timer"}`,
		DueDate:              due,
		Retries:              3,
		Exclusive:            true,
		CreateTime:           st.now,
		Revision:             1,
	}
}

func flush(t *testing.T, b storage.Batch) {
	t.Helper()
	require.NoError(t, b.Flush(t.Context()))
}

func (st *StorageTester) insertExecutions(t *testing.T, s storage.Storage, executions ...bpmnruntime.Execution) {
	t.Helper()
	b := s.NewBatch()
	for _, e := range executions {
		require.NoError(t, b.InsertExecution(t.Context(), e))
	}
	flush(t, b)
}

// PrepareTestData will prepare common data for the tests
func (st *StorageTester) PrepareTestData(s storage.Storage, t *testing.T) {
	st.now = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	r := s.GenerateId()
	st.deployment = getDeployment(r, st.now)
	st.processDefinition = getProcessDefinition(fmt.Sprintf("process-%d", r), 1, r)

	b := s.NewBatch()
	require.NoError(t, b.InsertDeployment(t.Context(), st.deployment))
	require.NoError(t, b.InsertProcessDefinition(t.Context(), st.processDefinition))
	flush(t, b)
}

func (st *StorageTester) TestDeploymentStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		deployment := getDeployment(r, st.now)
		def := getProcessDefinition(fmt.Sprintf("deployment-test-%d", r), 1, r)

		b := s.NewBatch()
		require.NoError(t, b.InsertDeployment(t.Context(), deployment))
		require.NoError(t, b.InsertProcessDefinition(t.Context(), def))
		flush(t, b)

		found, err := s.FindDeploymentById(t.Context(), r)
		require.NoError(t, err)
		assert.Equal(t, deployment.Name, found.Name)
		assert.Equal(t, deployment.Resources, found.Resources)
		assert.True(t, deployment.DeployTime.Equal(found.DeployTime))

		all, err := s.FindDeployments(t.Context())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 2)

		b = s.NewBatch()
		require.NoError(t, b.DeleteProcessDefinition(t.Context(), def.Id))
		require.NoError(t, b.DeleteDeployment(t.Context(), r))
		flush(t, b)

		_, err = s.FindDeploymentById(t.Context(), r)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindProcessDefinitionById(t.Context(), def.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestProcessDefinitionStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		key := fmt.Sprintf("versioned-%d", r)

		b := s.NewBatch()
		for _, v := range []int32{2, 1, 3} {
			require.NoError(t, b.InsertProcessDefinition(t.Context(), getProcessDefinition(key, v, st.deployment.Id)))
		}
		flush(t, b)

		latest, err := s.FindLatestProcessDefinitionByKey(t.Context(), key)
		require.NoError(t, err)
		assert.Equal(t, int32(3), latest.Version)

		definitions, err := s.FindProcessDefinitionsByKey(t.Context(), key)
		require.NoError(t, err)
		require.Len(t, definitions, 3)
		assert.Equal(t, int32(1), definitions[0].Version)
		assert.Equal(t, int32(3), definitions[2].Version)

		byDeployment, err := s.FindProcessDefinitionsByDeploymentId(t.Context(), st.deployment.Id)
		require.NoError(t, err)
		assert.Len(t, byDeployment, 4)

		_, err = s.FindLatestProcessDefinitionByKey(t.Context(), "does-not-exist")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		b = s.NewBatch()
		require.NoError(t, b.InsertProcessDefinition(t.Context(), latest))
		assert.ErrorIs(t, b.Flush(t.Context()), storage.ErrDuplicateKey)
	}
}

func (st *StorageTester) TestProcessDefinitionVersionIsTakenOnce(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		key := fmt.Sprintf("raced-%d", s.GenerateId())
		b := s.NewBatch()
		require.NoError(t, b.InsertProcessDefinition(t.Context(), getProcessDefinition(key, 1, s.GenerateId())))
		flush(t, b)

		b = s.NewBatch()
		require.NoError(t, b.InsertProcessDefinition(t.Context(), getProcessDefinition(key, 1, s.GenerateId())))
		assert.ErrorIs(t, b.Flush(t.Context()), storage.ErrConcurrentModification)

		definitions, err := s.FindProcessDefinitionsByKey(t.Context(), key)
		require.NoError(t, err)
		assert.Len(t, definitions, 1)
	}
}

func (st *StorageTester) TestExecutionStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		root := st.getRoot(s)
		child := st.getChild(s, root)
		st.insertExecutions(t, s, root, child)

		executions, err := s.FindExecutionsByProcessInstanceId(t.Context(), root.Id)
		require.NoError(t, err)
		require.Len(t, executions, 2)
		assert.Equal(t, root.Id, executions[0].Id)
		assert.Equal(t, child.Id, executions[1].Id)

		instances, err := s.FindProcessInstances(t.Context(), st.processDefinition.Id)
		require.NoError(t, err)
		assert.Contains(t, instances, root)
		assert.NotContains(t, instances, child)

		child.ActivityId = "next"
		b := s.NewBatch()
		require.NoError(t, b.UpdateExecution(t.Context(), child))
		flush(t, b)

		found, err := s.FindExecutionById(t.Context(), child.Id)
		require.NoError(t, err)
		assert.Equal(t, "next", found.ActivityId)
		assert.Equal(t, 2, found.Revision)

		b = s.NewBatch()
		require.NoError(t, b.DeleteExecution(t.Context(), found))
		require.NoError(t, b.DeleteExecution(t.Context(), root))
		flush(t, b)

		_, err = s.FindExecutionById(t.Context(), child.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestExecutionRevisionConflicts(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		root := st.getRoot(s)
		st.insertExecutions(t, s, root)

		// two transactions read revision 1, the first one wins
		first, second := root, root
		first.ActivityId = "a"
		second.ActivityId = "b"

		b := s.NewBatch()
		require.NoError(t, b.UpdateExecution(t.Context(), first))
		flush(t, b)

		b = s.NewBatch()
		require.NoError(t, b.UpdateExecution(t.Context(), second))
		err := b.Flush(t.Context())
		assert.ErrorIs(t, err, storage.ErrConcurrentModification)
		var conflict *storage.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, 1, conflict.Expected)
		assert.Equal(t, 2, conflict.Actual)

		b = s.NewBatch()
		require.NoError(t, b.DeleteExecution(t.Context(), second))
		assert.ErrorIs(t, b.Flush(t.Context()), storage.ErrConcurrentModification)

		found, err := s.FindExecutionById(t.Context(), root.Id)
		require.NoError(t, err)
		assert.Equal(t, "a", found.ActivityId)

		gone := st.getRoot(s)
		b = s.NewBatch()
		require.NoError(t, b.UpdateExecution(t.Context(), gone))
		assert.ErrorIs(t, b.Flush(t.Context()), storage.ErrConcurrentModification)
	}
}

func (st *StorageTester) TestBatchIsAtomic(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		root := st.getRoot(s)
		st.insertExecutions(t, s, root)
		stale := root
		stale.Revision = 7

		child := st.getChild(s, root)
		job := st.getJob(s, child, bpmnruntime.JobStateExecutable, nil)
		b := s.NewBatch()
		require.NoError(t, b.InsertExecution(t.Context(), child))
		require.NoError(t, b.InsertJob(t.Context(), job))
		require.NoError(t, b.UpdateExecution(t.Context(), stale))
		assert.ErrorIs(t, b.Flush(t.Context()), storage.ErrConcurrentModification)

		_, err := s.FindExecutionById(t.Context(), child.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindJobById(t.Context(), job.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		found, err := s.FindExecutionById(t.Context(), root.Id)
		require.NoError(t, err)
		assert.Equal(t, 1, found.Revision)

		// the batch is reusable after a failed flush
		require.NoError(t, b.InsertExecution(t.Context(), child))
		flush(t, b)
		_, err = s.FindExecutionById(t.Context(), child.Id)
		assert.NoError(t, err)
	}
}

func (st *StorageTester) TestSubProcessInstance(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		parent := st.getRoot(s)
		callActivity := st.getChild(s, parent)
		sub := st.getRoot(s)
		sub.SuperExecutionId = callActivity.Id
		st.insertExecutions(t, s, parent, callActivity, sub)

		found, err := s.FindSubProcessInstance(t.Context(), callActivity.Id)
		require.NoError(t, err)
		assert.Equal(t, sub.Id, found.Id)

		_, err = s.FindSubProcessInstance(t.Context(), parent.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestVariableStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		root := st.getRoot(s)
		child := st.getChild(s, root)
		st.insertExecutions(t, s, root, child)

		v1, err := bpmnruntime.NewVariable("amount", 12.5)
		require.NoError(t, err)
		v1.Id, v1.ExecutionId, v1.ProcessInstanceId, v1.Revision = s.GenerateId(), root.Id, root.Id, 1
		v2, err := bpmnruntime.NewVariable("items", []string{"a", "b"})
		require.NoError(t, err)
		v2.Id, v2.ExecutionId, v2.ProcessInstanceId, v2.Revision = s.GenerateId(), child.Id, root.Id, 1

		b := s.NewBatch()
		require.NoError(t, b.InsertVariable(t.Context(), *v1))
		require.NoError(t, b.InsertVariable(t.Context(), *v2))
		flush(t, b)

		local, err := s.FindVariablesByExecutionId(t.Context(), root.Id)
		require.NoError(t, err)
		require.Len(t, local, 1)
		value, err := local[0].Value()
		require.NoError(t, err)
		assert.Equal(t, 12.5, value)

		all, err := s.FindVariablesByProcessInstanceId(t.Context(), root.Id)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, v1.SetValue(int64(99)))
		b = s.NewBatch()
		require.NoError(t, b.UpdateVariable(t.Context(), *v1))
		require.NoError(t, b.DeleteVariable(t.Context(), *v2))
		flush(t, b)

		all, err = s.FindVariablesByProcessInstanceId(t.Context(), root.Id)
		require.NoError(t, err)
		require.Len(t, all, 1)
		value, err = all[0].Value()
		require.NoError(t, err)
		assert.Equal(t, int64(99), value)
		assert.Equal(t, 2, all[0].Revision)
	}
}

func (st *StorageTester) TestJobStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		root := st.getRoot(s)
		st.insertExecutions(t, s, root)
		job := st.getJob(s, root, bpmnruntime.JobStateTimer, ptr.To(st.now.Add(time.Hour)))

		b := s.NewBatch()
		require.NoError(t, b.InsertJob(t.Context(), job))
		flush(t, b)

		found, err := s.FindJobById(t.Context(), job.Id)
		require.NoError(t, err)
		assert.Equal(t, job.HandlerConfiguration, found.HandlerConfiguration)
		assert.True(t, job.DueDate.Equal(*found.DueDate))

		byExecution, err := s.FindJobsByExecutionId(t.Context(), root.Id)
		require.NoError(t, err)
		assert.Len(t, byExecution, 1)
		byInstance, err := s.FindJobsByProcessInstanceId(t.Context(), root.Id)
		require.NoError(t, err)
		assert.Len(t, byInstance, 1)

		found.State = bpmnruntime.JobStateDead
		found.Retries = 0
		found.ExceptionMessage = "boom"
		b = s.NewBatch()
		require.NoError(t, b.UpdateJob(t.Context(), found))
		flush(t, b)

		dead, err := s.FindJobsByState(t.Context(), bpmnruntime.JobStateDead)
		require.NoError(t, err)
		require.NotEmpty(t, dead)
		var ids []int64
		for _, j := range dead {
			ids = append(ids, j.Id)
		}
		assert.Contains(t, ids, job.Id)

		found.Revision = 2
		b = s.NewBatch()
		require.NoError(t, b.DeleteJob(t.Context(), found))
		flush(t, b)
		_, err = s.FindJobById(t.Context(), job.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestDueTimerJobs(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		root := st.getRoot(s)
		st.insertExecutions(t, s, root)
		// far in the past so that jobs of other tests do not interfere
		base := st.now.Add(-100 * 24 * time.Hour)
		late := st.getJob(s, root, bpmnruntime.JobStateTimer, ptr.To(base.Add(2*time.Minute)))
		early := st.getJob(s, root, bpmnruntime.JobStateTimer, ptr.To(base.Add(time.Minute)))
		future := st.getJob(s, root, bpmnruntime.JobStateTimer, ptr.To(base.Add(time.Hour)))

		b := s.NewBatch()
		for _, j := range []bpmnruntime.Job{late, early, future} {
			require.NoError(t, b.InsertJob(t.Context(), j))
		}
		flush(t, b)

		due, err := s.FindDueTimerJobs(t.Context(), base.Add(10*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, early.Id, due[0].Id)
		assert.Equal(t, late.Id, due[1].Id)

		limited, err := s.FindDueTimerJobs(t.Context(), base.Add(10*time.Minute), 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, early.Id, limited[0].Id)
	}
}

func (st *StorageTester) TestAcquirableJobs(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		root := st.getRoot(s)
		st.insertExecutions(t, s, root)
		base := st.now.Add(-50 * 24 * time.Hour)
		now := base.Add(time.Hour)

		dueNow := st.getJob(s, root, bpmnruntime.JobStateExecutable, nil)
		dueBefore := st.getJob(s, root, bpmnruntime.JobStateExecutable, ptr.To(base))
		notYet := st.getJob(s, root, bpmnruntime.JobStateExecutable, ptr.To(now.Add(time.Minute)))
		locked := st.getJob(s, root, bpmnruntime.JobStateExecutable, ptr.To(base))
		locked.LockOwner = "other"
		locked.LockExpirationTime = ptr.To(now.Add(time.Minute))
		expired := st.getJob(s, root, bpmnruntime.JobStateExecutable, ptr.To(base))
		expired.LockOwner = "crashed"
		expired.LockExpirationTime = ptr.To(now.Add(-time.Minute))
		timer := st.getJob(s, root, bpmnruntime.JobStateTimer, ptr.To(base))

		b := s.NewBatch()
		for _, j := range []bpmnruntime.Job{dueNow, dueBefore, notYet, locked, expired, timer} {
			require.NoError(t, b.InsertJob(t.Context(), j))
		}
		flush(t, b)

		jobs, err := s.FindAcquirableJobs(t.Context(), now, 0)
		require.NoError(t, err)
		var ids []int64
		for _, j := range jobs {
			if j.ProcessInstanceId == root.Id {
				ids = append(ids, j.Id)
			}
		}
		assert.ElementsMatch(t, []int64{dueNow.Id, dueBefore.Id, expired.Id}, ids)
	}
}

func (st *StorageTester) TestJobLocking(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		root := st.getRoot(s)
		st.insertExecutions(t, s, root)
		job := st.getJob(s, root, bpmnruntime.JobStateExecutable, nil)
		b := s.NewBatch()
		require.NoError(t, b.InsertJob(t.Context(), job))
		flush(t, b)
		now := st.now

		ok, err := s.TryLockJob(t.Context(), job.Id, "owner-a", now.Add(time.Minute), now)
		require.NoError(t, err)
		assert.True(t, ok)

		// the second acquirer loses
		ok, err = s.TryLockJob(t.Context(), job.Id, "owner-b", now.Add(time.Minute), now)
		require.NoError(t, err)
		assert.False(t, ok)

		found, err := s.FindJobById(t.Context(), job.Id)
		require.NoError(t, err)
		assert.Equal(t, "owner-a", found.LockOwner)
		assert.Equal(t, 2, found.Revision)

		// unlocking with a foreign owner is a no-op
		require.NoError(t, s.UnlockJob(t.Context(), job.Id, "owner-b"))
		found, err = s.FindJobById(t.Context(), job.Id)
		require.NoError(t, err)
		assert.Equal(t, "owner-a", found.LockOwner)

		// an expired lock can be taken over
		ok, err = s.TryLockJob(t.Context(), job.Id, "owner-b", now.Add(3*time.Minute), now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.UnlockJob(t.Context(), job.Id, "owner-b"))
		found, err = s.FindJobById(t.Context(), job.Id)
		require.NoError(t, err)
		assert.Empty(t, found.LockOwner)
		assert.Nil(t, found.LockExpirationTime)

		ok, err = s.TryLockJob(t.Context(), s.GenerateId(), "owner-a", now.Add(time.Minute), now)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func (st *StorageTester) TestTaskStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		root := st.getRoot(s)
		child := st.getChild(s, root)
		st.insertExecutions(t, s, root, child)
		task := bpmnruntime.Task{
			Id:                  s.GenerateId(),
			Name:                "Review",
			ActivityId:          "review",
			ExecutionId:         child.Id,
			ProcessInstanceId:   root.Id,
			ProcessDefinitionId: root.ProcessDefinitionId,
			CandidateGroups:     []string{"reviewers", "admins"},
			CreateTime:          st.now,
			Revision:            1,
		}
		b := s.NewBatch()
		require.NoError(t, b.InsertTask(t.Context(), task))
		flush(t, b)

		byExecution, err := s.FindTasksByExecutionId(t.Context(), child.Id)
		require.NoError(t, err)
		require.Len(t, byExecution, 1)
		assert.Equal(t, task.CandidateGroups, byExecution[0].CandidateGroups)

		task.Assignee = "alice"
		b = s.NewBatch()
		require.NoError(t, b.UpdateTask(t.Context(), task))
		flush(t, b)

		tasks, err := s.FindTasks(t.Context(), storage.TaskFilter{ProcessInstanceId: root.Id, Assignee: "alice"})
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
		tasks, err = s.FindTasks(t.Context(), storage.TaskFilter{ProcessInstanceId: root.Id, CandidateGroup: "admins"})
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
		tasks, err = s.FindTasks(t.Context(), storage.TaskFilter{ProcessInstanceId: root.Id, Assignee: "bob"})
		require.NoError(t, err)
		assert.Empty(t, tasks)

		found, err := s.FindTaskById(t.Context(), task.Id)
		require.NoError(t, err)
		b = s.NewBatch()
		require.NoError(t, b.DeleteTask(t.Context(), found))
		flush(t, b)
		tasks, err = s.FindTasksByProcessInstanceId(t.Context(), root.Id)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	}
}
