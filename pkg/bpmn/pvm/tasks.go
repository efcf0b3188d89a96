// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

var ErrTaskClaimed = errors.New("task is already claimed")

type userTask struct{}

func (userTask) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	assignee, err := c.stringValue(exec, a.Assignee)
	if err != nil {
		return err
	}
	task := &runtime.Task{
		Name:                a.Name,
		ActivityId:          a.Id,
		ExecutionId:         exec.Id,
		ProcessInstanceId:   exec.ProcessInstanceId,
		ProcessDefinitionId: exec.ProcessDefinitionId,
		Assignee:            assignee,
		CandidateGroups:     slices.Clone(a.CandidateGroups),
		CreateTime:          c.Now(),
	}
	if err := c.session.InsertTask(task); err != nil {
		return err
	}
	if err := c.dispatchTask(event.TaskCreated, task); err != nil {
		return err
	}
	if task.Assignee != "" {
		return c.dispatchTask(event.TaskAssigned, task)
	}
	return nil
}

func (userTask) Signal(c *Context, exec *runtime.Execution, a *model.Activity, _ string, _ map[string]any) error {
	return c.Leave(exec, a)
}

// stringValue evaluates expr when it starts with "=".
func (c *Context) stringValue(exec *runtime.Execution, expr string) (string, error) {
	if !strings.HasPrefix(strings.TrimSpace(expr), "=") {
		return expr, nil
	}
	vars, err := c.Variables(exec)
	if err != nil {
		return "", err
	}
	v, err := c.interp.evaluator.Evaluate(c.Context(), expr, vars)
	if err != nil || v == nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

func (c *Context) dispatchTask(t event.Type, task *runtime.Task) error {
	if !c.interp.dispatcher.Enabled(t) {
		return nil
	}
	return c.interp.dispatcher.Dispatch(c.cc, event.Event{
		Type:                t,
		ProcessInstanceId:   task.ProcessInstanceId,
		ExecutionId:         task.ExecutionId,
		ProcessDefinitionId: task.ProcessDefinitionId,
		ActivityId:          task.ActivityId,
		TaskId:              task.Id,
	})
}

// CompleteTask stores vars in the process, removes the task and continues
// its execution.
func (c *Context) CompleteTask(task *runtime.Task, vars map[string]any) error {
	exec, err := c.session.FindExecution(task.ExecutionId)
	if err != nil {
		return err
	}
	if _, err := c.Tree(exec); err != nil {
		return err
	}
	if exec.Suspended {
		return ErrSuspended
	}
	if err := c.setProcessVariables(exec, vars); err != nil {
		return err
	}
	if err := c.session.DeleteTask(task); err != nil {
		return err
	}
	if err := c.dispatchTask(event.TaskCompleted, task); err != nil {
		return err
	}
	c.Plan(SignalExecution{Execution: exec, Signal: "complete"})
	return nil
}

// ClaimTask assigns the task to user. A task claimed by somebody else is refused.
func (c *Context) ClaimTask(task *runtime.Task, user string) error {
	if task.Assignee != "" && task.Assignee != user {
		return fmt.Errorf("task %d claimed by %s: %w", task.Id, task.Assignee, ErrTaskClaimed)
	}
	if task.Assignee == user {
		return nil
	}
	task.Assignee = user
	return c.dispatchTask(event.TaskAssigned, task)
}

func (c *Context) UnclaimTask(task *runtime.Task) error {
	task.Assignee = ""
	return nil
}

// setProcessVariables updates existing variables in place and creates new
// ones on the process instance, in name order.
func (c *Context) setProcessVariables(exec *runtime.Execution, vars map[string]any) error {
	if len(vars) == 0 {
		return nil
	}
	scope, err := c.Scope(exec)
	if err != nil {
		return err
	}
	for _, name := range slices.Sorted(maps.Keys(vars)) {
		if err := scope.SetProcessVariable(name, vars[name]); err != nil {
			return err
		}
	}
	return nil
}

type manualTask struct{}

func (manualTask) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	return c.Leave(exec, a)
}

// receiveTask waits for a signal; the signal data becomes process variables.
type receiveTask struct{}

func (receiveTask) Execute(*Context, *runtime.Execution, *model.Activity) error {
	return nil
}

func (receiveTask) Signal(c *Context, exec *runtime.Execution, a *model.Activity, _ string, data map[string]any) error {
	if err := c.setProcessVariables(exec, data); err != nil {
		return err
	}
	return c.Leave(exec, a)
}

// serviceTask runs the delegate registered for the activity id or task type.
type serviceTask struct{}

func (serviceTask) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	delegate, ok := c.interp.delegates.Lookup(a)
	if !ok {
		return runtime.NewEngineErrorf("no delegate registered for service task %s of type %q", a.Id, a.TaskType)
	}
	if err := delegate(&DelegateExecution{c: c, execution: exec, activity: a}); err != nil {
		return fmt.Errorf("service task %s failed: %w", a.Id, err)
	}
	return c.Leave(exec, a)
}

// Service tasks wait for a signal when they are completed externally.
func (serviceTask) Signal(c *Context, exec *runtime.Execution, a *model.Activity, _ string, data map[string]any) error {
	if err := c.setProcessVariables(exec, data); err != nil {
		return err
	}
	return c.Leave(exec, a)
}

// scriptTask evaluates the script and stores the result in ResultVariable.
type scriptTask struct{}

func (scriptTask) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	format := strings.ToLower(a.ScriptFormat)
	if format == "" {
		format = "feel"
	}
	ev, err := c.interp.languages.For(format)
	if err != nil {
		return runtime.NewEngineErrorf("script task %s: %s", a.Id, err)
	}
	script := a.Script
	if format == "feel" && !strings.HasPrefix(strings.TrimSpace(script), "=") {
		script = "=" + script
	}
	vars, err := c.Variables(exec)
	if err != nil {
		return err
	}
	res, err := ev.Evaluate(c.Context(), script, vars)
	if err != nil {
		return fmt.Errorf("script task %s failed: %w", a.Id, err)
	}
	if a.ResultVariable != "" {
		scope, err := c.Scope(exec)
		if err != nil {
			return err
		}
		if err := scope.SetProcessVariable(a.ResultVariable, res); err != nil {
			return err
		}
	}
	return c.Leave(exec, a)
}
