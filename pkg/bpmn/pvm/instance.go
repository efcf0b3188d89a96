// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"maps"
	"slices"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type StartOptions struct {
	BusinessKey string
	Variables   map[string]any
	// SuperExecution is the calling execution of a called process.
	SuperExecution *runtime.Execution
}

// StartProcessInstance creates the root execution and plans the initial activity.
// The returned root stays live until the command ends.
func (c *Context) StartProcessInstance(def *model.ProcessDefinition, opts StartOptions) (*runtime.Execution, error) {
	initial := def.Activity(def.InitialActivityId)
	if initial == nil {
		return nil, runtime.NewEngineErrorf("process definition %s has no initial activity", def.Id)
	}
	root := &runtime.Execution{
		ProcessDefinitionId: def.Id,
		BusinessKey:         opts.BusinessKey,
		ActivityId:          initial.Id,
		IsActive:            true,
		IsScope:             true,
		StartTime:           c.Now(),
	}
	if opts.SuperExecution != nil {
		root.SuperExecutionId = opts.SuperExecution.Id
	}
	if err := c.session.InsertExecution(root); err != nil {
		return nil, err
	}
	if len(opts.Variables) > 0 {
		scope, err := c.Scope(root)
		if err != nil {
			return nil, err
		}
		for _, name := range slices.Sorted(maps.Keys(opts.Variables)) {
			if err := scope.SetVariableLocal(name, opts.Variables[name]); err != nil {
				return nil, err
			}
		}
	}
	if err := c.dispatch(event.ProcessStarted, root, ""); err != nil {
		return nil, err
	}
	if m := c.interp.metrics; m != nil {
		attrs := metric.WithAttributes(attribute.String(otel.AttributeProcessDefinitionKey, def.Key))
		m.ProcessesStarted.Add(c.Context(), 1, attrs)
		m.ProcessesRunning.Add(c.Context(), 1)
	}
	c.interp.logger.Debug("process instance started", "processInstanceId", root.Id, "processDefinitionId", def.Id)
	c.Plan(ExecuteActivity{Execution: root, Activity: initial})
	return root, nil
}

// Signal plans the delivery of signal to a waiting execution.
func (c *Context) Signal(exec *runtime.Execution, signal string, data map[string]any) error {
	if _, err := c.Tree(exec); err != nil {
		return err
	}
	if exec.Suspended {
		return ErrSuspended
	}
	c.Plan(SignalExecution{Execution: exec, Signal: signal, Data: data})
	return nil
}

// SignalAsync delivers the signal from a job in a later transaction.
func (c *Context) SignalAsync(exec *runtime.Execution, signal string, data map[string]any) (*runtime.Job, error) {
	if exec.Suspended {
		return nil, ErrSuspended
	}
	cfg := jobs.EventConfiguration{ActivityId: exec.ActivityId, EventName: signal, Payload: data}
	return c.interp.jobs.CreateEventJob(c.cc, exec, cfg)
}

// SuspendProcessInstance blocks signals and job execution for the instance.
func (c *Context) SuspendProcessInstance(root *runtime.Execution) error {
	return c.setSuspended(root, true)
}

func (c *Context) ActivateProcessInstance(root *runtime.Execution) error {
	return c.setSuspended(root, false)
}

func (c *Context) setSuspended(root *runtime.Execution, suspended bool) error {
	if !root.IsProcessInstance() {
		return runtime.NewEngineErrorf("execution %d is not a process instance", root.Id)
	}
	tree, err := c.Tree(root)
	if err != nil {
		return err
	}
	for _, e := range tree.All() {
		e.Suspended = suspended
	}
	if suspended {
		return c.interp.jobs.SuspendJobs(c.cc, root.Id)
	}
	return c.interp.jobs.ActivateJobs(c.cc, root.Id)
}
