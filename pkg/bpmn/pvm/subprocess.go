// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

// subProcess runs its children in the scope execution created on entry.
type subProcess struct{}

func (subProcess) Execute(c *Context, scope *runtime.Execution, a *model.Activity) error {
	_, initial, err := c.activity(scope, a.InitialActivityId)
	if err != nil {
		return err
	}
	c.Plan(ExecuteActivity{Execution: scope, Activity: initial})
	return nil
}

func (subProcess) LastExecutionEnded(c *Context, scope *runtime.Execution, a *model.Activity) error {
	scope.ActivityId = a.Id
	scope.IsActive = true
	return c.Leave(scope, a)
}

// callActivity starts the latest version of the called process and waits
// until that instance ends.
type callActivity struct{}

func (callActivity) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	key, err := c.stringValue(exec, a.CalledElement)
	if err != nil {
		return err
	}
	if key == "" {
		return runtime.NewEngineErrorf("call activity %s has no called element", a.Id)
	}
	def, err := c.interp.definitions.Latest(c.cc, key)
	if err != nil {
		return err
	}
	vars, err := c.Variables(exec)
	if err != nil {
		return err
	}
	inputs, err := c.mapVariables(a.InputMappings, vars)
	if err != nil {
		return err
	}
	_, err = c.StartProcessInstance(def, StartOptions{
		BusinessKey:    exec.BusinessKey,
		Variables:      inputs,
		SuperExecution: exec,
	})
	return err
}

// resumeSuper copies the outputs of an ended called instance to the calling
// execution and leaves the call activity.
func (c *Context) resumeSuper(superExecutionId int64, childVars map[string]any) error {
	super, err := c.session.FindExecution(superExecutionId)
	if err != nil {
		return err
	}
	if _, err := c.Tree(super); err != nil {
		return err
	}
	_, a, err := c.activity(super, super.ActivityId)
	if err != nil {
		return err
	}
	outputs, err := c.mapVariables(a.OutputMappings, childVars)
	if err != nil {
		return err
	}
	if err := c.setProcessVariables(super, outputs); err != nil {
		return err
	}
	return c.Leave(super, a)
}
