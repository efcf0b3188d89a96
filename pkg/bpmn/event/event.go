// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package event delivers typed engine lifecycle events to registered listeners.
package event

import (
	"context"
	"time"
)

type Type string

const (
	EngineCreated         Type = "ENGINE_CREATED"
	EngineClosed          Type = "ENGINE_CLOSED"
	EntityCreated         Type = "ENTITY_CREATED"
	EntityUpdated         Type = "ENTITY_UPDATED"
	EntityDeleted         Type = "ENTITY_DELETED"
	ProcessStarted        Type = "PROCESS_STARTED"
	ProcessCompleted      Type = "PROCESS_COMPLETED"
	ProcessCancelled      Type = "PROCESS_CANCELLED"
	ActivityStarted       Type = "ACTIVITY_STARTED"
	ActivityCompleted     Type = "ACTIVITY_COMPLETED"
	ActivityCancelled     Type = "ACTIVITY_CANCELLED"
	TransitionTaken       Type = "TRANSITION_TAKEN"
	TimerScheduled        Type = "TIMER_SCHEDULED"
	TimerFired            Type = "TIMER_FIRED"
	JobExecutionSuccess   Type = "JOB_EXECUTION_SUCCESS"
	JobExecutionFailure   Type = "JOB_EXECUTION_FAILURE"
	JobRetriesDecremented Type = "JOB_RETRIES_DECREMENTED"
	JobMovedToDeadLetter  Type = "JOB_MOVED_TO_DEADLETTER"
	TaskCreated           Type = "TASK_CREATED"
	TaskAssigned          Type = "TASK_ASSIGNED"
	TaskCompleted         Type = "TASK_COMPLETED"
	VariableCreated       Type = "VARIABLE_CREATED"
	VariableUpdated       Type = "VARIABLE_UPDATED"
	VariableDeleted       Type = "VARIABLE_DELETED"
)

// Event is a snapshot of something that happened inside the engine. Fields
// that do not apply to the event type are left empty.
type Event struct {
	Type                Type
	Time                time.Time
	ProcessInstanceId   int64
	ExecutionId         int64
	ProcessDefinitionId string
	ActivityId          string
	TransitionId        string
	JobId               int64
	TaskId              int64
	VariableName        string
	// Entity carries a copy of the entity for ENTITY_* events.
	Entity any
	// Err is set on failure events.
	Err error
}

type Listener interface {
	OnEvent(ctx context.Context, e Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e Event) error

func (f ListenerFunc) OnEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}
