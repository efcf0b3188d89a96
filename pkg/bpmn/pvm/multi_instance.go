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
	"github.com/pbinitiative/zenpvm/pkg/bpmn/expression"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

const (
	VarNrOfInstances          = "nrOfInstances"
	VarNrOfCompletedInstances = "nrOfCompletedInstances"
	VarNrOfActiveInstances    = "nrOfActiveInstances"
	VarLoopCounter            = "loopCounter"
)

// enterMultiInstance creates the multi-instance root below exec and starts the
// first instance, or all of them when running in parallel. The counters live
// on the root, loopCounter and the element variable on each instance.
func (c *Context) enterMultiInstance(def *model.ProcessDefinition, exec *runtime.Execution, a *model.Activity) error {
	items, nr, err := c.loopItems(exec, a)
	if err != nil {
		return err
	}
	root, err := c.newChild(exec, a.Id, false, true)
	if err != nil {
		return err
	}
	root.IsMultiInstanceRoot = true
	root.IsActive = false
	exec.IsActive = false
	if err := c.scheduleBoundaryTimers(def, root, a); err != nil {
		return err
	}
	if err := c.dispatch(event.ActivityStarted, root, a.Id); err != nil {
		return err
	}
	active := nr
	if a.MultiInstance.Sequential {
		active = min(nr, 1)
	}
	scope, err := c.Scope(root)
	if err != nil {
		return err
	}
	locals := map[string]any{
		VarNrOfInstances:          nr,
		VarNrOfCompletedInstances: 0,
		VarNrOfActiveInstances:    active,
	}
	if out := a.MultiInstance.OutputCollection; out != "" {
		locals[out] = make([]any, nr)
	}
	for _, name := range slices.Sorted(maps.Keys(locals)) {
		if err := scope.SetVariableLocal(name, locals[name]); err != nil {
			return err
		}
	}
	if nr == 0 {
		tree, err := c.Tree(root)
		if err != nil {
			return err
		}
		return c.finishMultiInstance(tree, root, a)
	}
	for i := range active {
		if err := c.startInstance(root, a, i, items); err != nil {
			return err
		}
	}
	return nil
}

// loopItems evaluates the collection, or the cardinality when there is none.
func (c *Context) loopItems(exec *runtime.Execution, a *model.Activity) ([]any, int, error) {
	mi := a.MultiInstance
	vars, err := c.Variables(exec)
	if err != nil {
		return nil, 0, err
	}
	if mi.Collection != "" {
		items, err := expression.Collection(c.Context(), c.interp.evaluator, mi.Collection, vars)
		if err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	}
	nr, err := expression.Int(c.Context(), c.interp.evaluator, mi.Cardinality, vars)
	if err != nil {
		return nil, 0, err
	}
	if nr < 0 {
		return nil, 0, runtime.NewEngineErrorf("multi-instance %s: negative cardinality %d", a.Id, nr)
	}
	return nil, nr, nil
}

func (c *Context) startInstance(root *runtime.Execution, a *model.Activity, loopCounter int, items []any) error {
	inst, err := c.newChild(root, a.Id, false, true)
	if err != nil {
		return err
	}
	scope, err := c.Scope(inst)
	if err != nil {
		return err
	}
	if err := scope.SetVariableLocal(VarLoopCounter, loopCounter); err != nil {
		return err
	}
	if el := a.MultiInstance.ElementVariable; el != "" && loopCounter < len(items) {
		if err := scope.SetVariableLocal(el, items[loopCounter]); err != nil {
			return err
		}
	}
	c.Plan(ExecuteActivity{Execution: inst, Activity: a, SkipAsync: true})
	return nil
}

// completeInstance ends one instance. The output element is aggregated first,
// then the completion condition is evaluated.
func (c *Context) completeInstance(tree *runtime.ExecutionTree, inst *runtime.Execution, a *model.Activity) error {
	mi := a.MultiInstance
	root := tree.Parent(inst)
	rootScope, err := c.Scope(root)
	if err != nil {
		return err
	}
	nr, err := intVariable(rootScope, VarNrOfInstances)
	if err != nil {
		return err
	}
	completed, err := intVariable(rootScope, VarNrOfCompletedInstances)
	if err != nil {
		return err
	}
	active, err := intVariable(rootScope, VarNrOfActiveInstances)
	if err != nil {
		return err
	}
	completed++
	active--
	if err := rootScope.SetVariableLocal(VarNrOfCompletedInstances, completed); err != nil {
		return err
	}
	if err := rootScope.SetVariableLocal(VarNrOfActiveInstances, active); err != nil {
		return err
	}

	instScope, err := c.Scope(inst)
	if err != nil {
		return err
	}
	vars, err := instScope.Variables()
	if err != nil {
		return err
	}
	if mi.OutputCollection != "" && mi.OutputElement != "" {
		if err := c.aggregate(rootScope, instScope, vars, mi); err != nil {
			return err
		}
		if vars, err = instScope.Variables(); err != nil {
			return err
		}
	}
	done := completed >= nr
	if !done && mi.CompletionCondition != "" {
		if done, err = expression.Bool(c.Context(), c.interp.evaluator, mi.CompletionCondition, vars); err != nil {
			return err
		}
	}

	if err := c.dispatch(event.ActivityCompleted, inst, a.Id); err != nil {
		return err
	}
	if err := c.deleteCascade(tree, inst, ""); err != nil {
		return err
	}
	if done {
		return c.finishMultiInstance(tree, root, a)
	}
	if !mi.Sequential {
		return nil
	}
	items, _, err := c.loopItems(root, a)
	if err != nil {
		return err
	}
	if err := rootScope.SetVariableLocal(VarNrOfActiveInstances, 1); err != nil {
		return err
	}
	return c.startInstance(root, a, completed, items)
}

// aggregate stores the output element of an instance at its loop counter.
func (c *Context) aggregate(rootScope, instScope *runtime.VariableScope, vars map[string]any, mi *model.MultiInstance) error {
	value, err := c.valueOf(vars, mi.OutputElement)
	if err != nil {
		return err
	}
	current, err := rootScope.GetVariableLocal(mi.OutputCollection)
	if err != nil {
		return err
	}
	list, _ := current.([]any)
	list = slices.Clone(list)
	idx, err := intVariable(instScope, VarLoopCounter)
	if err != nil {
		return err
	}
	if idx >= 0 && idx < len(list) {
		list[idx] = value
	} else {
		list = append(list, value)
	}
	return rootScope.SetVariableLocal(mi.OutputCollection, list)
}

// finishMultiInstance removes the remaining instances and the root, moves the
// output collection to the enclosing execution and leaves the activity.
func (c *Context) finishMultiInstance(tree *runtime.ExecutionTree, root *runtime.Execution, a *model.Activity) error {
	if err := c.deleteChildren(tree, root, "completion condition of "+a.Id); err != nil {
		return err
	}
	parent := tree.Parent(root)
	var output any
	out := a.MultiInstance.OutputCollection
	if out != "" {
		scope, err := c.Scope(root)
		if err != nil {
			return err
		}
		if output, err = scope.GetVariableLocal(out); err != nil {
			return err
		}
	}
	if err := c.deleteExecution(root, ""); err != nil {
		return err
	}
	if out != "" {
		if err := c.setProcessVariables(parent, map[string]any{out: output}); err != nil {
			return err
		}
	}
	parent.ActivityId = a.Id
	parent.IsActive = true
	transitions, err := c.outgoing(parent, a)
	if err != nil {
		return err
	}
	c.Plan(TakeTransitions{Execution: parent, Transitions: transitions})
	return nil
}

func intVariable(scope *runtime.VariableScope, name string) (int, error) {
	v, err := scope.GetVariableLocal(name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case nil:
		return 0, nil
	}
	return 0, runtime.NewEngineErrorf("variable %s is not a number but %T", name, v)
}
