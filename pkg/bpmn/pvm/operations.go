// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"slices"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

// ExecuteActivity moves the token to the activity and runs its behavior.
type ExecuteActivity struct {
	Execution *runtime.Execution
	Activity  *model.Activity
	// SkipAsync is set when running the async continuation of the activity.
	SkipAsync bool
}

func (op ExecuteActivity) Run(c *Context) error {
	exec, a := op.Execution, op.Activity
	if exec.IsEnded {
		return nil
	}
	exec.ActivityId = a.Id
	exec.IsActive = true
	if a.AsyncBefore && !op.SkipAsync {
		_, err := c.interp.jobs.CreateAsyncContinuation(c.cc, exec, a.Id, a.Exclusive)
		return err
	}
	def, err := c.Definition(exec)
	if err != nil {
		return err
	}
	tree, err := c.Tree(exec)
	if err != nil {
		return err
	}
	instance := isInstance(tree, exec, a)
	if a.MultiInstance != nil && !instance {
		return c.enterMultiInstance(def, exec, a)
	}
	if a.NeedsScope() && !instance {
		scope, err := c.newChild(exec, a.Id, false, true)
		if err != nil {
			return err
		}
		exec.IsActive = false
		if err := c.scheduleBoundaryTimers(def, scope, a); err != nil {
			return err
		}
		exec = scope
	}
	if err := c.dispatch(event.ActivityStarted, exec, a.Id); err != nil {
		return err
	}
	b, err := c.interp.behaviors.Behavior(a)
	if err != nil {
		return err
	}
	return b.Execute(c, exec, a)
}

// TakeTransition follows one sequence flow.
type TakeTransition struct {
	Execution  *runtime.Execution
	Transition *model.Transition
}

func (op TakeTransition) Run(c *Context) error {
	exec := op.Execution
	if exec.IsEnded {
		return nil
	}
	_, dest, err := c.activity(exec, op.Transition.DestinationId)
	if err != nil {
		return err
	}
	if c.interp.dispatcher.Enabled(event.TransitionTaken) {
		err := c.interp.dispatcher.Dispatch(c.cc, event.Event{
			Type:                event.TransitionTaken,
			ProcessInstanceId:   exec.ProcessInstanceId,
			ExecutionId:         exec.Id,
			ProcessDefinitionId: exec.ProcessDefinitionId,
			ActivityId:          op.Transition.SourceId,
			TransitionId:        op.Transition.Id,
		})
		if err != nil {
			return err
		}
	}
	c.Plan(ExecuteActivity{Execution: exec, Activity: dest})
	return nil
}

// TakeTransitions leaves the current activity of Execution over the given
// transitions. Joined holds the executions a join absorbed; they are reused
// for the outgoing transitions or deleted.
type TakeTransitions struct {
	Execution   *runtime.Execution
	Transitions []*model.Transition
	Joined      []*runtime.Execution
}

func (op TakeTransitions) Run(c *Context) error {
	exec := op.Execution
	if exec.IsEnded {
		return nil
	}
	tree, err := c.Tree(exec)
	if err != nil {
		return err
	}
	_, a, err := c.activity(exec, exec.ActivityId)
	if err != nil {
		return err
	}
	exec, err = c.leaveScope(tree, exec, a)
	if err != nil {
		return err
	}
	if err := c.dispatch(event.ActivityCompleted, exec, a.Id); err != nil {
		return err
	}

	pool := []*runtime.Execution{exec}
	for _, j := range op.Joined {
		if j != exec && !j.IsEnded {
			pool = append(pool, j)
		}
	}
	if len(op.Transitions) == 0 {
		if err := c.deleteAll(pool[1:]); err != nil {
			return err
		}
		c.Plan(EndExecution{Execution: exec})
		return nil
	}

	if !exec.IsConcurrent {
		if len(op.Transitions) == 1 {
			c.Plan(TakeTransition{Execution: exec, Transition: op.Transitions[0]})
			return nil
		}
		exec.IsActive = false
		for _, t := range op.Transitions {
			child, err := c.newChild(exec, a.Id, true, false)
			if err != nil {
				return err
			}
			c.Plan(TakeTransition{Execution: child, Transition: t})
		}
		return nil
	}

	root := tree.Parent(exec)
	others := slices.DeleteFunc(tree.Children(root.Id), func(e *runtime.Execution) bool {
		return slices.Contains(pool, e)
	})
	if len(op.Transitions) == 1 && len(others) == 0 {
		if err := c.deleteAll(pool); err != nil {
			return err
		}
		root.ActivityId = a.Id
		root.IsActive = true
		c.Plan(TakeTransition{Execution: root, Transition: op.Transitions[0]})
		return nil
	}
	for i, t := range op.Transitions {
		var e *runtime.Execution
		if i < len(pool) {
			e = pool[i]
			e.ActivityId = a.Id
			e.IsActive = true
		} else if e, err = c.newChild(root, a.Id, true, false); err != nil {
			return err
		}
		c.Plan(TakeTransition{Execution: e, Transition: t})
	}
	if len(pool) > len(op.Transitions) {
		return c.deleteAll(pool[len(op.Transitions):])
	}
	return nil
}

func (c *Context) deleteAll(executions []*runtime.Execution) error {
	for _, e := range executions {
		if err := c.deleteExecution(e, ""); err != nil {
			return err
		}
	}
	return nil
}

// leaveScope ends the scope execution created for a and returns the execution
// continuing in the parent.
func (c *Context) leaveScope(tree *runtime.ExecutionTree, exec *runtime.Execution, a *model.Activity) (*runtime.Execution, error) {
	if !a.NeedsScope() || !exec.IsScope || exec.IsProcessInstance() || exec.IsMultiInstanceRoot {
		return exec, nil
	}
	parent := tree.Parent(exec)
	if parent.ActivityId != a.Id || parent.IsMultiInstanceRoot {
		return exec, nil
	}
	if err := c.deleteExecution(exec, ""); err != nil {
		return nil, err
	}
	return c.continueFrom(tree, parent, a.Id)
}

// EndExecution ends a token that has no way to continue.
type EndExecution struct {
	Execution *runtime.Execution
}

func (op EndExecution) Run(c *Context) error {
	exec := op.Execution
	if exec.IsEnded {
		return nil
	}
	if exec.IsProcessInstance() {
		c.Plan(EndProcessInstance{Execution: exec})
		return nil
	}
	tree, err := c.Tree(exec)
	if err != nil {
		return err
	}
	if !exec.IsConcurrent {
		return c.scopeEnded(tree, exec)
	}
	root := tree.Parent(exec)
	if err := c.deleteExecution(exec, ""); err != nil {
		return err
	}
	if len(tree.Children(root.Id)) > 0 {
		return nil
	}
	return c.scopeEnded(tree, root)
}

// scopeEnded handles a scope execution whose last token ended.
func (c *Context) scopeEnded(tree *runtime.ExecutionTree, scope *runtime.Execution) error {
	if scope.IsProcessInstance() {
		c.Plan(EndProcessInstance{Execution: scope})
		return nil
	}
	parent := tree.Parent(scope)
	def, err := c.Definition(scope)
	if err != nil {
		return err
	}
	a := def.Activity(parent.ActivityId)
	if a == nil {
		return runtime.NewEngineErrorf("scope %d ended at unknown activity %s", scope.Id, parent.ActivityId)
	}
	if parent.IsMultiInstanceRoot {
		return c.completeInstance(tree, scope, a)
	}
	b, err := c.interp.behaviors.Behavior(a)
	if err != nil {
		return err
	}
	if composite, ok := b.(CompositeBehavior); ok {
		return composite.LastExecutionEnded(c, scope, a)
	}
	scope.ActivityId = a.Id
	scope.IsActive = true
	return c.Leave(scope, a)
}

// DestroyScope removes everything below Scope and ends it.
type DestroyScope struct {
	Scope  *runtime.Execution
	Reason string
}

func (op DestroyScope) Run(c *Context) error {
	if op.Scope.IsEnded {
		return nil
	}
	tree, err := c.Tree(op.Scope)
	if err != nil {
		return err
	}
	if err := c.deleteChildren(tree, op.Scope, op.Reason); err != nil {
		return err
	}
	op.Scope.IsActive = true
	c.Plan(EndExecution{Execution: op.Scope})
	return nil
}

// DeleteCascade deletes an execution with all its children. Deleting a process
// instance cancels it.
type DeleteCascade struct {
	Execution *runtime.Execution
	Reason    string
}

func (op DeleteCascade) Run(c *Context) error {
	if op.Execution.IsEnded {
		return nil
	}
	if op.Execution.IsProcessInstance() {
		return c.deleteProcessInstance(op.Execution, op.Reason)
	}
	tree, err := c.Tree(op.Execution)
	if err != nil {
		return err
	}
	return c.deleteCascade(tree, op.Execution, op.Reason)
}

// SignalExecution delivers an external trigger to a waiting execution.
type SignalExecution struct {
	Execution *runtime.Execution
	Signal    string
	Data      map[string]any
}

func (op SignalExecution) Run(c *Context) error {
	exec := op.Execution
	if exec.IsEnded {
		return runtime.NewEngineErrorf("execution %d has ended", exec.Id)
	}
	if exec.Suspended {
		return ErrSuspended
	}
	_, a, err := c.activity(exec, exec.ActivityId)
	if err != nil {
		return err
	}
	b, err := c.interp.behaviors.Behavior(a)
	if err != nil {
		return err
	}
	s, ok := b.(SignallableBehavior)
	if !ok {
		return runtime.NewEngineErrorf("activity %s of kind %s can not be signalled", a.Id, a.Kind)
	}
	return s.Signal(c, exec, a, op.Signal, op.Data)
}

// TriggerTimer fires the timer job of Execution.
type TriggerTimer struct {
	Execution *runtime.Execution
	Job       *runtime.Job
	Config    jobs.TimerConfiguration
}

func (op TriggerTimer) Run(c *Context) error {
	exec := op.Execution
	if exec.IsEnded {
		return nil
	}
	_, timer, err := c.activity(exec, op.Config.ActivityId)
	if err != nil {
		return err
	}
	if err := c.dispatch(event.TimerFired, exec, timer.Id); err != nil {
		return err
	}
	if !timer.IsBoundaryEvent() {
		if exec.ActivityId != timer.Id {
			return nil
		}
		return c.Leave(exec, timer)
	}

	tree, err := c.Tree(exec)
	if err != nil {
		return err
	}
	parent := tree.Parent(exec)
	if timer.CancelActivity {
		if err := c.deleteCascade(tree, exec, "boundary event "+timer.Id); err != nil {
			return err
		}
		token, err := c.continueFrom(tree, parent, timer.Id)
		if err != nil {
			return err
		}
		c.Plan(ExecuteActivity{Execution: token, Activity: timer})
		return nil
	}
	if _, err := c.interp.jobs.RepeatTimer(c.cc, op.Job); err != nil {
		return err
	}
	token, err := c.newChild(concurrentRoot(tree, parent), timer.Id, true, false)
	if err != nil {
		return err
	}
	c.Plan(ExecuteActivity{Execution: token, Activity: timer})
	return nil
}

// EndProcessInstance completes a process instance and resumes the calling
// execution of a called process.
type EndProcessInstance struct {
	Execution *runtime.Execution
}

func (op EndProcessInstance) Run(c *Context) error {
	root := op.Execution
	if root.IsEnded {
		return nil
	}
	tree, err := c.Tree(root)
	if err != nil {
		return err
	}
	if err := c.deleteChildren(tree, root, ""); err != nil {
		return err
	}
	var outputs map[string]any
	if root.SuperExecutionId != 0 {
		vars, err := c.Variables(root)
		if err != nil {
			return err
		}
		outputs = vars
	}
	if err := c.dispatch(event.ProcessCompleted, root, root.ActivityId); err != nil {
		return err
	}
	if err := c.deleteExecution(root, ""); err != nil {
		return err
	}
	c.recordEnded()
	if root.SuperExecutionId == 0 {
		return nil
	}
	return c.resumeSuper(root.SuperExecutionId, outputs)
}
