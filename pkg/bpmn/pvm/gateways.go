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

// exclusiveGateway takes the first outgoing flow whose condition holds, in
// declaration order, else the default flow.
type exclusiveGateway struct{}

func (exclusiveGateway) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	if len(a.Outgoing) == 0 {
		return runtime.NewEngineErrorf("no outgoing sequence flow of exclusive gateway %s could be selected", a.Id)
	}
	var fallback *model.Transition
	for _, t := range a.Outgoing {
		if t.Id == a.DefaultTransitionId {
			fallback = t
			continue
		}
		ok, err := c.condition(exec, t.Condition)
		if err != nil {
			return err
		}
		if ok {
			c.Plan(TakeTransitions{Execution: exec, Transitions: []*model.Transition{t}})
			return nil
		}
	}
	if fallback == nil {
		return runtime.NewEngineErrorf("no outgoing sequence flow of exclusive gateway %s could be selected", a.Id)
	}
	c.Plan(TakeTransitions{Execution: exec, Transitions: []*model.Transition{fallback}})
	return nil
}

// parallelGateway forks over every outgoing flow, ignoring conditions. With
// more than one incoming flow it first waits for a token on each of them.
type parallelGateway struct{}

func (parallelGateway) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	if len(a.Outgoing) == 0 {
		return deadEnd(a)
	}
	if len(a.Incoming) <= 1 {
		c.Plan(TakeTransitions{Execution: exec, Transitions: a.Outgoing})
		return nil
	}
	tree, err := c.Tree(exec)
	if err != nil {
		return err
	}
	joined := arrived(c, tree, exec, a)
	if len(joined) < len(a.Incoming) {
		return nil
	}
	c.Plan(TakeTransitions{Execution: exec, Transitions: a.Outgoing, Joined: joined})
	return nil
}

// arrived parks exec at the join a and returns every token waiting there.
// Every arrival writes the parent scope so overlapping arrivals conflict.
func arrived(c *Context, tree *runtime.ExecutionTree, exec *runtime.Execution, a *model.Activity) []*runtime.Execution {
	exec.IsActive = false
	if !exec.IsConcurrent {
		return []*runtime.Execution{exec}
	}
	parent := tree.Parent(exec)
	c.session.TouchExecution(parent)
	var res []*runtime.Execution
	for _, e := range tree.Children(parent.Id) {
		if e.ActivityId == a.Id && !e.IsActive {
			res = append(res, e)
		}
	}
	return res
}

// inclusiveGateway joins once no other token of the scope can still reach it,
// then forks over every outgoing flow whose condition holds.
type inclusiveGateway struct{}

func (inclusiveGateway) Execute(c *Context, exec *runtime.Execution, a *model.Activity) error {
	tree, err := c.Tree(exec)
	if err != nil {
		return err
	}
	joined := arrived(c, tree, exec, a)
	if exec.IsConcurrent {
		def, err := c.Definition(exec)
		if err != nil {
			return err
		}
		for _, other := range tree.Children(tree.Parent(exec).Id) {
			if other.ActivityId == a.Id {
				continue
			}
			if at := def.Activity(other.ActivityId); at != nil && def.CanReach(at, a) {
				return nil
			}
		}
	}
	transitions, err := c.outgoing(exec, a)
	if err != nil {
		return err
	}
	c.Plan(TakeTransitions{Execution: exec, Transitions: transitions, Joined: joined})
	return nil
}
