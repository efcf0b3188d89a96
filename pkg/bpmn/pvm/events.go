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

type noneStart struct{}

func (noneStart) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	return c.Leave(exec, a)
}

// noneEnd ends the token. Outgoing flows of an end event are ignored.
type noneEnd struct{}

func (noneEnd) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	c.Plan(TakeTransitions{Execution: exec})
	return nil
}

// terminateEnd ends every token of the enclosing scope.
type terminateEnd struct{}

func (terminateEnd) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	tree, err := c.Tree(exec)
	if err != nil {
		return err
	}
	scope := exec
	for !scope.IsScope || scope.IsConcurrent {
		scope = tree.Parent(scope)
	}
	c.Plan(DestroyScope{Scope: scope, Reason: "terminated by " + a.Id})
	return nil
}

// boundaryEvent continues after its timer fired.
type boundaryEvent struct{}

func (boundaryEvent) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	return c.Leave(exec, a)
}

type intermediateTimer struct{}

func (intermediateTimer) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	_, err := c.scheduleTimer(exec, a)
	return err
}
