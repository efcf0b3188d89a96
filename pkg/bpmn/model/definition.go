// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package model holds the executable process graph. A ProcessDefinition is
// built once per deployment and is never mutated by running instances.
package model

import (
	"errors"
	"fmt"
)

type BehaviorKind string

const (
	KindNoneStart         BehaviorKind = "none-start"
	KindEndEvent          BehaviorKind = "end-event"
	KindTerminateEndEvent BehaviorKind = "terminate-end-event"
	KindUserTask          BehaviorKind = "user-task"
	KindManualTask        BehaviorKind = "manual-task"
	KindServiceTask       BehaviorKind = "service-task"
	KindScriptTask        BehaviorKind = "script-task"
	KindReceiveTask       BehaviorKind = "receive-task"
	KindSubProcess        BehaviorKind = "sub-process"
	KindCallActivity      BehaviorKind = "call-activity"
	KindExclusiveGateway  BehaviorKind = "exclusive-gateway"
	KindInclusiveGateway  BehaviorKind = "inclusive-gateway"
	KindParallelGateway   BehaviorKind = "parallel-gateway"
	KindBoundaryTimer     BehaviorKind = "boundary-timer"
	KindIntermediateTimer BehaviorKind = "intermediate-timer"
)

// ProcessDefinition is the immutable process graph.
type ProcessDefinition struct {
	// Id is the composite key:version:deploymentId
	Id                string
	Key               string
	Version           int32
	Name              string
	DeploymentId      int64
	ResourceName      string
	InitialActivityId string
	Activities        []*Activity
	Transitions       []*Transition

	activities  map[string]*Activity
	transitions map[string]*Transition
}

type Activity struct {
	Id       string
	Name     string
	Kind     BehaviorKind
	ParentId string

	Incoming []*Transition
	Outgoing []*Transition

	// Children are the activities of an embedded sub-process, in declaration order.
	Children          []*Activity
	InitialActivityId string

	DefaultTransitionId string
	AsyncBefore         bool
	Exclusive           bool

	Timer            *TimerDefinition
	AttachedToId     string
	CancelActivity   bool
	BoundaryEventIds []string

	MultiInstance *MultiInstance

	Script         string
	ScriptFormat   string
	ResultVariable string

	TaskType        string
	Assignee        string
	CandidateGroups []string

	CalledElement  string
	InputMappings  []Mapping
	OutputMappings []Mapping
}

type Transition struct {
	Id            string
	SourceId      string
	DestinationId string
	// Condition is an expression; empty means unconditional.
	Condition string
}

type MultiInstance struct {
	Sequential          bool
	Cardinality         string
	Collection          string
	ElementVariable     string
	CompletionCondition string
	OutputCollection    string
	OutputElement       string
}

// TimerDefinition holds exactly one of Duration, Date or Cycle.
type TimerDefinition struct {
	Duration string
	Date     string
	Cycle    string
}

const (
	CalendarDuration = "duration"
	CalendarDueDate  = "dueDate"
	CalendarCycle    = "cycle"
)

// CalendarName returns the business calendar resolving this timer.
func (t TimerDefinition) CalendarName() string {
	switch {
	case t.Cycle != "":
		return CalendarCycle
	case t.Date != "":
		return CalendarDueDate
	default:
		return CalendarDuration
	}
}

// Expression returns the timer expression regardless of its kind.
func (t TimerDefinition) Expression() string {
	switch {
	case t.Cycle != "":
		return t.Cycle
	case t.Date != "":
		return t.Date
	default:
		return t.Duration
	}
}

type Mapping struct {
	Source string
	Target string
}

// NeedsScope reports whether entering the activity creates a scope execution.
// Multi-instance bodies get their own scope independently of this.
func (a *Activity) NeedsScope() bool {
	return a.Kind == KindSubProcess || len(a.BoundaryEventIds) > 0
}

func (a *Activity) IsBoundaryEvent() bool {
	return a.AttachedToId != ""
}

func (d *ProcessDefinition) Activity(id string) *Activity {
	return d.activities[id]
}

func (d *ProcessDefinition) Transition(id string) *Transition {
	return d.transitions[id]
}

// Parent returns the enclosing activity, nil for process level activities.
func (d *ProcessDefinition) Parent(a *Activity) *Activity {
	if a.ParentId == "" {
		return nil
	}
	return d.activities[a.ParentId]
}

// ScopeActivities returns the activities directly contained in the scope
// parentId in declaration order. An empty parentId is the process level.
func (d *ProcessDefinition) ScopeActivities(parentId string) []*Activity {
	var res []*Activity
	for _, a := range d.Activities {
		if a.ParentId == parentId {
			res = append(res, a)
		}
	}
	return res
}

// BoundaryEvents returns the boundary events attached to a.
func (d *ProcessDefinition) BoundaryEvents(a *Activity) []*Activity {
	res := make([]*Activity, 0, len(a.BoundaryEventIds))
	for _, id := range a.BoundaryEventIds {
		res = append(res, d.activities[id])
	}
	return res
}

// CanReach reports whether following outgoing transitions (and boundary
// events) from `from` can arrive at `to` within the same scope.
func (d *ProcessDefinition) CanReach(from, to *Activity) bool {
	visited := map[string]bool{}
	var walk func(a *Activity) bool
	walk = func(a *Activity) bool {
		if visited[a.Id] {
			return false
		}
		visited[a.Id] = true
		for _, t := range a.Outgoing {
			target := d.activities[t.DestinationId]
			if target == to {
				return true
			}
			if walk(target) {
				return true
			}
		}
		for _, id := range a.BoundaryEventIds {
			if walk(d.activities[id]) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// Build indexes the graph and validates it.
func (d *ProcessDefinition) Build() error {
	d.activities = make(map[string]*Activity, len(d.Activities))
	d.transitions = make(map[string]*Transition, len(d.Transitions))
	for _, a := range d.Activities {
		if _, ok := d.activities[a.Id]; ok {
			return fmt.Errorf("duplicate activity id %s", a.Id)
		}
		d.activities[a.Id] = a
		a.Incoming = nil
		a.Outgoing = nil
		a.Children = nil
		a.BoundaryEventIds = nil
	}
	for _, t := range d.Transitions {
		if _, ok := d.transitions[t.Id]; ok {
			return fmt.Errorf("duplicate transition id %s", t.Id)
		}
		d.transitions[t.Id] = t
	}
	return d.validate()
}

func (d *ProcessDefinition) validate() error {
	var errJoin error
	for _, t := range d.Transitions {
		src, dst := d.activities[t.SourceId], d.activities[t.DestinationId]
		if src == nil {
			errJoin = errors.Join(errJoin, fmt.Errorf("transition %s: unknown source activity %s", t.Id, t.SourceId))
			continue
		}
		if dst == nil {
			errJoin = errors.Join(errJoin, fmt.Errorf("transition %s: unknown target activity %s", t.Id, t.DestinationId))
			continue
		}
		if src.ParentId != dst.ParentId {
			errJoin = errors.Join(errJoin, fmt.Errorf("transition %s crosses a scope border", t.Id))
			continue
		}
		src.Outgoing = append(src.Outgoing, t)
		dst.Incoming = append(dst.Incoming, t)
	}
	for _, a := range d.Activities {
		if a.ParentId != "" {
			parent, ok := d.activities[a.ParentId]
			if !ok {
				errJoin = errors.Join(errJoin, fmt.Errorf("activity %s: unknown parent %s", a.Id, a.ParentId))
				continue
			}
			parent.Children = append(parent.Children, a)
		}
		if a.IsBoundaryEvent() {
			host, ok := d.activities[a.AttachedToId]
			if !ok {
				errJoin = errors.Join(errJoin, fmt.Errorf("boundary event %s attached to unknown activity %s", a.Id, a.AttachedToId))
				continue
			}
			host.BoundaryEventIds = append(host.BoundaryEventIds, a.Id)
			if host.ParentId != a.ParentId {
				errJoin = errors.Join(errJoin, fmt.Errorf("boundary event %s is not in the scope of %s", a.Id, host.Id))
			}
			if a.Timer == nil {
				errJoin = errors.Join(errJoin, fmt.Errorf("boundary event %s has no timer definition", a.Id))
			}
		}
		if a.DefaultTransitionId != "" {
			if t, ok := d.transitions[a.DefaultTransitionId]; !ok || t.SourceId != a.Id {
				errJoin = errors.Join(errJoin, fmt.Errorf("activity %s: default flow %s is not an outgoing flow", a.Id, a.DefaultTransitionId))
			}
		}
		if mi := a.MultiInstance; mi != nil && mi.Cardinality == "" && mi.Collection == "" {
			errJoin = errors.Join(errJoin, fmt.Errorf("activity %s: multi-instance needs a cardinality or a collection", a.Id))
		}
		if a.Kind == KindIntermediateTimer && a.Timer == nil {
			errJoin = errors.Join(errJoin, fmt.Errorf("timer event %s has no timer definition", a.Id))
		}
	}
	for _, a := range d.Activities {
		if a.Kind == KindSubProcess && a.InitialActivityId == "" {
			a.InitialActivityId = findNoneStart(a.Children)
			if a.InitialActivityId == "" {
				errJoin = errors.Join(errJoin, fmt.Errorf("sub-process %s has no none start event", a.Id))
			}
		}
	}
	if d.InitialActivityId == "" {
		d.InitialActivityId = findNoneStart(d.ScopeActivities(""))
	}
	if d.activities[d.InitialActivityId] == nil {
		errJoin = errors.Join(errJoin, fmt.Errorf("process %s has no none start event", d.Key))
	}
	return errJoin
}

func findNoneStart(activities []*Activity) string {
	for _, a := range activities {
		if a.Kind == KindNoneStart {
			return a.Id
		}
	}
	return ""
}
