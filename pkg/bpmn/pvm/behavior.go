// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"sync"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

// ActivityBehavior runs when a token arrives at an activity. It either leaves
// the activity right away or returns and leaves the execution waiting.
type ActivityBehavior interface {
	Execute(c *Context, exec *runtime.Execution, a *model.Activity) error
}

// SignallableBehavior is implemented by wait states that accept external triggers.
type SignallableBehavior interface {
	ActivityBehavior
	Signal(c *Context, exec *runtime.Execution, a *model.Activity, signal string, data map[string]any) error
}

// CompositeBehavior is implemented by activities containing a scope; it is
// notified when the last token inside ended.
type CompositeBehavior interface {
	ActivityBehavior
	LastExecutionEnded(c *Context, scope *runtime.Execution, a *model.Activity) error
}

type BehaviorFactory func(a *model.Activity) ActivityBehavior

// Registry maps activity kinds to behaviors. Custom kinds can be added.
type Registry struct {
	mu        sync.RWMutex
	factories map[model.BehaviorKind]BehaviorFactory
}

func singleton(b ActivityBehavior) BehaviorFactory {
	return func(*model.Activity) ActivityBehavior { return b }
}

func NewRegistry() *Registry {
	return &Registry{factories: map[model.BehaviorKind]BehaviorFactory{
		model.KindNoneStart:         singleton(noneStart{}),
		model.KindEndEvent:          singleton(noneEnd{}),
		model.KindTerminateEndEvent: singleton(terminateEnd{}),
		model.KindUserTask:          singleton(userTask{}),
		model.KindManualTask:        singleton(manualTask{}),
		model.KindServiceTask:       singleton(serviceTask{}),
		model.KindScriptTask:        singleton(scriptTask{}),
		model.KindReceiveTask:       singleton(receiveTask{}),
		model.KindSubProcess:        singleton(subProcess{}),
		model.KindCallActivity:      singleton(callActivity{}),
		model.KindExclusiveGateway:  singleton(exclusiveGateway{}),
		model.KindInclusiveGateway:  singleton(inclusiveGateway{}),
		model.KindParallelGateway:   singleton(parallelGateway{}),
		model.KindBoundaryTimer:     singleton(boundaryEvent{}),
		model.KindIntermediateTimer: singleton(intermediateTimer{}),
	}}
}

// Register adds or replaces the behavior of kind.
func (r *Registry) Register(kind model.BehaviorKind, f BehaviorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

func (r *Registry) Behavior(a *model.Activity) (ActivityBehavior, error) {
	r.mu.RLock()
	f, ok := r.factories[a.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, runtime.NewEngineErrorf("no behavior registered for activity %s of kind %s", a.Id, a.Kind)
	}
	return f(a), nil
}
