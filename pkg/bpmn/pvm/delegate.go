// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"context"
	"sync"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

// Delegate implements a service task. Returning an error rolls the command back.
type Delegate func(d *DelegateExecution) error

// DelegateExecution is the view of the running execution handed to delegates.
type DelegateExecution struct {
	c         *Context
	execution *runtime.Execution
	activity  *model.Activity
}

func (d *DelegateExecution) Context() context.Context {
	return d.c.Context()
}

func (d *DelegateExecution) ActivityId() string {
	return d.activity.Id
}

func (d *DelegateExecution) TaskType() string {
	return d.activity.TaskType
}

func (d *DelegateExecution) ExecutionId() int64 {
	return d.execution.Id
}

func (d *DelegateExecution) ProcessInstanceId() int64 {
	return d.execution.ProcessInstanceId
}

func (d *DelegateExecution) ProcessDefinitionId() string {
	return d.execution.ProcessDefinitionId
}

func (d *DelegateExecution) BusinessKey() string {
	return d.execution.BusinessKey
}

func (d *DelegateExecution) GetVariable(name string) (any, error) {
	scope, err := d.c.Scope(d.execution)
	if err != nil {
		return nil, err
	}
	return scope.GetVariable(name)
}

func (d *DelegateExecution) Variables() (map[string]any, error) {
	return d.c.Variables(d.execution)
}

// SetVariable updates the nearest definition of name or creates it on the
// process instance.
func (d *DelegateExecution) SetVariable(name string, value any) error {
	scope, err := d.c.Scope(d.execution)
	if err != nil {
		return err
	}
	return scope.SetProcessVariable(name, value)
}

func (d *DelegateExecution) SetVariableLocal(name string, value any) error {
	scope, err := d.c.Scope(d.execution)
	if err != nil {
		return err
	}
	return scope.SetVariableLocal(name, value)
}

// Delegates resolves service task implementations. Delegates registered for
// an activity id win over those registered for a task type.
type Delegates struct {
	mu         sync.RWMutex
	byType     map[string]Delegate
	byActivity map[string]Delegate
}

func NewDelegates() *Delegates {
	return &Delegates{byType: map[string]Delegate{}, byActivity: map[string]Delegate{}}
}

func (d *Delegates) RegisterType(taskType string, fn Delegate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byType[taskType] = fn
}

func (d *Delegates) RegisterActivity(activityId string, fn Delegate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byActivity[activityId] = fn
}

func (d *Delegates) Lookup(a *model.Activity) (Delegate, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if fn, ok := d.byActivity[a.Id]; ok {
		return fn, true
	}
	fn, ok := d.byType[a.TaskType]
	return fn, ok
}
