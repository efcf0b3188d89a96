// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/expression"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/persistence"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

const contextAttribute = "pvm.context"

var ErrSuspended = errors.New("process instance is suspended")

// Context is the interpreter state of one command. Nested commands share it.
type Context struct {
	cc       *command.CommandContext
	interp   *Interpreter
	session  *persistence.Session
	agenda   Agenda
	executed int
}

// ContextOf returns the interpreter context of cc and creates it on first use.
func (it *Interpreter) ContextOf(cc *command.CommandContext) (*Context, error) {
	if c, ok := cc.Attribute(contextAttribute).(*Context); ok {
		return c, nil
	}
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return nil, err
	}
	c := &Context{cc: cc, interp: it, session: s}
	cc.SetAttribute(contextAttribute, c)
	return c, nil
}

func (c *Context) drain() error {
	for !c.agenda.IsEmpty() {
		if max := c.interp.maxOperations; max > 0 && c.executed >= max {
			return runtime.NewEngineErrorf("command exceeded %d operations, the process loops without a wait state", max)
		}
		c.executed++
		if err := c.agenda.next().Run(c); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) Plan(op Operation) {
	c.agenda.Plan(op)
}

func (c *Context) Command() *command.CommandContext {
	return c.cc
}

func (c *Context) Context() context.Context {
	return c.cc.Context()
}

func (c *Context) Session() *persistence.Session {
	return c.session
}

func (c *Context) Interpreter() *Interpreter {
	return c.interp
}

func (c *Context) Now() time.Time {
	return c.interp.clock.Now()
}

func (c *Context) Tree(exec *runtime.Execution) (*runtime.ExecutionTree, error) {
	return c.session.Tree(exec.ProcessInstanceId)
}

func (c *Context) Definition(exec *runtime.Execution) (*model.ProcessDefinition, error) {
	return c.interp.definitions.ProcessDefinition(c.cc, exec.ProcessDefinitionId)
}

// activity resolves the activity the execution currently sits at.
func (c *Context) activity(exec *runtime.Execution, id string) (*model.ProcessDefinition, *model.Activity, error) {
	def, err := c.Definition(exec)
	if err != nil {
		return nil, nil, err
	}
	a := def.Activity(id)
	if a == nil {
		return nil, nil, runtime.NewEngineErrorf("activity %s not found in process definition %s", id, def.Id)
	}
	return def, a, nil
}

func (c *Context) Scope(exec *runtime.Execution) (*runtime.VariableScope, error) {
	return c.session.VariableScope(exec)
}

func (c *Context) Variables(exec *runtime.Execution) (map[string]any, error) {
	scope, err := c.Scope(exec)
	if err != nil {
		return nil, err
	}
	return scope.Variables()
}

func (c *Context) condition(exec *runtime.Execution, expr string) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	vars, err := c.Variables(exec)
	if err != nil {
		return false, err
	}
	return expression.Bool(c.Context(), c.interp.evaluator, expr, vars)
}

// valueOf reads a mapping source: an expression when it starts with "=",
// otherwise a variable name.
func (c *Context) valueOf(vars map[string]any, source string) (any, error) {
	if strings.HasPrefix(strings.TrimSpace(source), "=") {
		return c.interp.evaluator.Evaluate(c.Context(), source, vars)
	}
	return vars[strings.TrimSpace(source)], nil
}

// mapVariables applies mappings to vars. Without mappings every variable is passed.
func (c *Context) mapVariables(mappings []model.Mapping, vars map[string]any) (map[string]any, error) {
	if len(mappings) == 0 {
		return vars, nil
	}
	res := make(map[string]any, len(mappings))
	for _, m := range mappings {
		v, err := c.valueOf(vars, m.Source)
		if err != nil {
			return nil, err
		}
		res[m.Target] = v
	}
	return res, nil
}

func (c *Context) dispatch(t event.Type, exec *runtime.Execution, activityId string) error {
	if !c.interp.dispatcher.Enabled(t) {
		return nil
	}
	return c.interp.dispatcher.Dispatch(c.cc, event.Event{
		Type:                t,
		ProcessInstanceId:   exec.ProcessInstanceId,
		ExecutionId:         exec.Id,
		ProcessDefinitionId: exec.ProcessDefinitionId,
		ActivityId:          activityId,
	})
}

// Leave moves exec out of a. Multi-instance instances complete instead.
func (c *Context) Leave(exec *runtime.Execution, a *model.Activity) error {
	tree, err := c.Tree(exec)
	if err != nil {
		return err
	}
	if isInstance(tree, exec, a) {
		return c.completeInstance(tree, exec, a)
	}
	transitions, err := c.outgoing(exec, a)
	if err != nil {
		return err
	}
	c.Plan(TakeTransitions{Execution: exec, Transitions: transitions})
	return nil
}

// outgoing selects every outgoing transition whose condition holds, the
// default transition when none does.
func (c *Context) outgoing(exec *runtime.Execution, a *model.Activity) ([]*model.Transition, error) {
	if len(a.Outgoing) == 0 {
		return nil, deadEnd(a)
	}
	var selected []*model.Transition
	var fallback *model.Transition
	for _, t := range a.Outgoing {
		if t.Id == a.DefaultTransitionId {
			fallback = t
			continue
		}
		ok, err := c.condition(exec, t.Condition)
		if err != nil {
			return nil, err
		}
		if ok {
			selected = append(selected, t)
		}
	}
	if len(selected) == 0 && fallback != nil {
		selected = append(selected, fallback)
	}
	if len(selected) == 0 {
		return nil, runtime.NewEngineErrorf("no outgoing sequence flow of activity %s could be selected", a.Id)
	}
	return selected, nil
}

// deadEnd is the fault of a token leaving an activity without outgoing flows.
// End events never leave, they end the token.
func deadEnd(a *model.Activity) error {
	return runtime.NewEngineErrorf("activity %s has no outgoing sequence flow", a.Id)
}

func (c *Context) newChild(parent *runtime.Execution, activityId string, concurrent bool, scope bool) (*runtime.Execution, error) {
	e := &runtime.Execution{
		ParentId:            parent.Id,
		ProcessInstanceId:   parent.ProcessInstanceId,
		ProcessDefinitionId: parent.ProcessDefinitionId,
		BusinessKey:         parent.BusinessKey,
		ActivityId:          activityId,
		IsActive:            true,
		IsConcurrent:        concurrent,
		IsScope:             scope,
		Suspended:           parent.Suspended,
		StartTime:           c.Now(),
	}
	if err := c.session.InsertExecution(e); err != nil {
		return nil, err
	}
	return e, nil
}

// continueFrom places the token that continues after a child scope of parent
// ended at activityId. The parent itself continues when it has no other
// children, otherwise a new concurrent child does.
func (c *Context) continueFrom(tree *runtime.ExecutionTree, parent *runtime.Execution, activityId string) (*runtime.Execution, error) {
	if len(tree.Children(parent.Id)) == 0 {
		parent.ActivityId = activityId
		parent.IsActive = true
		return parent, nil
	}
	return c.newChild(parent, activityId, true, false)
}

func concurrentRoot(tree *runtime.ExecutionTree, e *runtime.Execution) *runtime.Execution {
	if e.IsConcurrent {
		return tree.Parent(e)
	}
	return e
}

// isInstance reports whether exec is one instance of the multi-instance activity a.
func isInstance(tree *runtime.ExecutionTree, exec *runtime.Execution, a *model.Activity) bool {
	if a.MultiInstance == nil || exec.IsProcessInstance() {
		return false
	}
	parent := tree.Parent(exec)
	return parent != nil && parent.IsMultiInstanceRoot && parent.ActivityId == a.Id
}

// deleteExecution removes the leaf e with its tasks, jobs and variables. A
// process instance called from e is deleted as well.
func (c *Context) deleteExecution(e *runtime.Execution, reason string) error {
	def, err := c.Definition(e)
	if err != nil {
		return err
	}
	if a := def.Activity(e.ActivityId); a != nil && a.Kind == model.KindCallActivity && !e.IsMultiInstanceRoot {
		sub, err := c.session.FindSubProcessInstance(e.Id)
		switch {
		case err == nil:
			if err := c.deleteProcessInstance(sub, reason); err != nil {
				return err
			}
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
	}
	tasks, err := c.session.TasksByExecution(e.Id)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := c.session.DeleteTask(t); err != nil {
			return err
		}
	}
	if err := c.interp.jobs.DeleteJobsOfExecution(c.cc, e.Id); err != nil {
		return err
	}
	vars, err := c.session.LocalVariables(e.Id)
	if err != nil {
		return err
	}
	for _, v := range vars {
		if err := c.session.DeleteVariable(v); err != nil {
			return err
		}
	}
	e.IsActive = false
	e.IsEnded = true
	e.DeleteReason = reason
	if reason != "" && e.ActivityId != "" {
		if err := c.dispatch(event.ActivityCancelled, e, e.ActivityId); err != nil {
			return err
		}
	}
	return c.session.DeleteExecution(e)
}

// deleteCascade removes e and everything below it, children first.
func (c *Context) deleteCascade(tree *runtime.ExecutionTree, e *runtime.Execution, reason string) error {
	for _, d := range tree.Descendants(e.Id) {
		if err := c.deleteExecution(d, reason); err != nil {
			return err
		}
	}
	return c.deleteExecution(e, reason)
}

func (c *Context) deleteChildren(tree *runtime.ExecutionTree, e *runtime.Execution, reason string) error {
	for _, child := range tree.Children(e.Id) {
		if err := c.deleteCascade(tree, child, reason); err != nil {
			return err
		}
	}
	return nil
}

// deleteProcessInstance cancels a whole process instance without resuming
// the calling process.
func (c *Context) deleteProcessInstance(root *runtime.Execution, reason string) error {
	tree, err := c.Tree(root)
	if err != nil {
		return err
	}
	if err := c.deleteChildren(tree, root, reason); err != nil {
		return err
	}
	if err := c.dispatch(event.ProcessCancelled, root, ""); err != nil {
		return err
	}
	if err := c.deleteExecution(root, reason); err != nil {
		return err
	}
	c.recordEnded()
	return nil
}

// DeleteProcessInstance plans the cancellation of the process instance of exec.
func (c *Context) DeleteProcessInstance(root *runtime.Execution, reason string) error {
	if !root.IsProcessInstance() {
		return fmt.Errorf("execution %d is not a process instance", root.Id)
	}
	c.Plan(DeleteCascade{Execution: root, Reason: reason})
	return nil
}

func (c *Context) recordEnded() {
	if c.interp.metrics == nil {
		return
	}
	c.interp.metrics.ProcessesEnded.Add(c.Context(), 1)
	c.interp.metrics.ProcessesRunning.Add(c.Context(), -1)
}

// scheduleBoundaryTimers creates the timers of the boundary events of a on scope.
func (c *Context) scheduleBoundaryTimers(def *model.ProcessDefinition, scope *runtime.Execution, a *model.Activity) error {
	for _, b := range def.BoundaryEvents(a) {
		if b.Timer == nil {
			continue
		}
		if _, err := c.scheduleTimer(scope, b); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) scheduleTimer(exec *runtime.Execution, timer *model.Activity) (*runtime.Job, error) {
	expr := timer.Timer.Expression()
	if strings.HasPrefix(strings.TrimSpace(expr), "=") {
		vars, err := c.Variables(exec)
		if err != nil {
			return nil, err
		}
		v, err := c.interp.evaluator.Evaluate(c.Context(), expr, vars)
		if err != nil {
			return nil, err
		}
		expr = fmt.Sprint(v)
	}
	cfg := jobs.TimerConfiguration{ActivityId: timer.Id, CalendarName: timer.Timer.CalendarName()}
	return c.interp.jobs.CreateTimer(c.cc, exec, cfg, expr)
}
