// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package runtime holds the persisted state of running processes: executions,
// variables, jobs, user tasks and deployments.
package runtime

import (
	"time"
)

// Execution is one token of a process instance. The root execution of a
// process instance has ProcessInstanceId == Id and ParentId == 0.
type Execution struct {
	Id                  int64     `json:"id"`
	ProcessInstanceId   int64     `json:"processInstanceId"`
	ParentId            int64     `json:"parentId,omitempty"`
	SuperExecutionId    int64     `json:"superExecutionId,omitempty"`
	ProcessDefinitionId string    `json:"processDefinitionId"`
	ActivityId          string    `json:"activityId,omitempty"`
	BusinessKey         string    `json:"businessKey,omitempty"`
	IsActive            bool      `json:"isActive"`
	IsScope             bool      `json:"isScope"`
	IsConcurrent        bool      `json:"isConcurrent"`
	IsMultiInstanceRoot bool      `json:"isMultiInstanceRoot"`
	IsEnded             bool      `json:"isEnded"`
	Suspended           bool      `json:"suspended"`
	DeleteReason        string    `json:"deleteReason,omitempty"`
	StartTime           time.Time `json:"startTime"`
	Revision            int       `json:"revision"`
}

func (e *Execution) IsProcessInstance() bool {
	return e.ParentId == 0
}

// ProcessInstance is the read model handed out by the engine.
type ProcessInstance struct {
	Id                  int64
	ProcessDefinitionId string
	BusinessKey         string
	SuperExecutionId    int64
	StartTime           time.Time
	Ended               bool
	Suspended           bool
}

type JobType string

const (
	JobTypeTimer             JobType = "timer"
	JobTypeMessage           JobType = "message"
	JobTypeAsyncContinuation JobType = "async-continuation"
)

type JobState string

const (
	// JobStateTimer jobs wait for their due date.
	JobStateTimer JobState = "timer"
	// JobStateExecutable jobs are visible to acquisition.
	JobStateExecutable JobState = "executable"
	// JobStateDead jobs exhausted their retries and wait for manual intervention.
	JobStateDead JobState = "dead"
	// JobStateSuspended jobs belong to a suspended process instance.
	JobStateSuspended JobState = "suspended"
)

type Job struct {
	Id                   int64    `json:"id"`
	Type                 JobType  `json:"type"`
	State                JobState `json:"state"`
	ExecutionId          int64    `json:"executionId"`
	ProcessInstanceId    int64    `json:"processInstanceId"`
	ProcessDefinitionId  string   `json:"processDefinitionId"`
	HandlerType          string   `json:"handlerType"`
	HandlerConfiguration string   `json:"handlerConfiguration,omitempty"`
	// DueDate nil means due now.
	DueDate *time.Time `json:"dueDate,omitempty"`
	// Repeat holds the remaining cycle expression of repeating timers.
	Repeat              string     `json:"repeat,omitempty"`
	Retries             int        `json:"retries"`
	LockOwner           string     `json:"lockOwner,omitempty"`
	LockExpirationTime  *time.Time `json:"lockExpirationTime,omitempty"`
	ExceptionMessage    string     `json:"exceptionMessage,omitempty"`
	ExceptionStackTrace string     `json:"exceptionStackTrace,omitempty"`
	Exclusive           bool       `json:"exclusive"`
	CreateTime          time.Time  `json:"createTime"`
	Revision            int        `json:"revision"`
}

// IsDue reports whether the job may run at now.
func (j *Job) IsDue(now time.Time) bool {
	return j.DueDate == nil || !j.DueDate.After(now)
}

// IsLocked reports whether a live lock is held at now.
func (j *Job) IsLocked(now time.Time) bool {
	return j.LockOwner != "" && j.LockExpirationTime != nil && j.LockExpirationTime.After(now)
}

// Task is a user task waiting for completion.
type Task struct {
	Id                  int64     `json:"id"`
	Name                string    `json:"name,omitempty"`
	ActivityId          string    `json:"activityId"`
	ExecutionId         int64     `json:"executionId"`
	ProcessInstanceId   int64     `json:"processInstanceId"`
	ProcessDefinitionId string    `json:"processDefinitionId"`
	Assignee            string    `json:"assignee,omitempty"`
	CandidateGroups     []string  `json:"candidateGroups,omitempty"`
	CreateTime          time.Time `json:"createTime"`
	Revision            int       `json:"revision"`
}

type Deployment struct {
	Id         int64             `json:"id"`
	Name       string            `json:"name"`
	DeployTime time.Time         `json:"deployTime"`
	Resources  map[string][]byte `json:"resources"`
}

// ProcessDefinitionEntity is the persisted metadata of a deployed process graph.
// The graph itself is rebuilt from the deployment resource.
type ProcessDefinitionEntity struct {
	Id           string   `json:"id"`
	Key          string   `json:"key"`
	Version      int32    `json:"version"`
	Name         string   `json:"name,omitempty"`
	DeploymentId int64    `json:"deploymentId"`
	ResourceName string   `json:"resourceName"`
	Checksum     [16]byte `json:"checksum"`
}
