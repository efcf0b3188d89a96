// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/cache"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/executor"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/expression"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/pvm"
	"github.com/pbinitiative/zenpvm/pkg/clock"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"go.opentelemetry.io/otel/trace"
)

type EngineOption = func(*Engine)

func WithName(name string) EngineOption {
	return func(engine *Engine) {
		engine.name = name
	}
}

func WithStorage(store storage.Storage) EngineOption {
	return func(engine *Engine) {
		engine.store = store
	}
}

func WithClock(c clock.Clock) EngineOption {
	return func(engine *Engine) {
		engine.clock = c
	}
}

func WithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithDeploymentCache replaces the default FIFO cache of parsed process definitions.
func WithDeploymentCache(c cache.DeploymentCache) EngineOption {
	return func(engine *Engine) {
		engine.cache = c
	}
}

func WithRetryPolicy(policy jobs.RetryPolicy) EngineOption {
	return func(engine *Engine) {
		engine.jobOptions = append(engine.jobOptions, jobs.WithRetryPolicy(policy))
	}
}

// WithFailedJobCommandFactory replaces the command that records a failed job attempt.
func WithFailedJobCommandFactory(f jobs.FailedJobCommandFactory) EngineOption {
	return func(engine *Engine) {
		engine.jobOptions = append(engine.jobOptions, jobs.WithFailedJobCommandFactory(f))
	}
}

func WithCalendar(name string, cal jobs.BusinessCalendar) EngineOption {
	return func(engine *Engine) {
		engine.jobOptions = append(engine.jobOptions, jobs.WithCalendar(name, cal))
	}
}

// WithJobHandler registers a handler for a job handler type. It replaces the
// built-in handler of the same type.
func WithJobHandler(handlerType string, h jobs.Handler) EngineOption {
	return func(engine *Engine) {
		engine.handlers[handlerType] = h
	}
}

// WithEventListener delivers events of the given types, all when none are
// given, inside the transaction that produced them.
func WithEventListener(l event.Listener, types ...event.Type) EngineOption {
	return func(engine *Engine) {
		engine.listeners = append(engine.listeners, listener{listener: l, types: types})
	}
}

// WithDeferredEventListener delivers events after the transaction committed.
func WithDeferredEventListener(l event.Listener, types ...event.Type) EngineOption {
	return func(engine *Engine) {
		engine.listeners = append(engine.listeners, listener{listener: l, types: types, deferred: true})
	}
}

// WithEvaluator replaces the FEEL evaluator used for conditions and mappings.
func WithEvaluator(ev expression.Evaluator) EngineOption {
	return func(engine *Engine) {
		engine.evaluator = ev
	}
}

func WithBehavior(kind model.BehaviorKind, factory pvm.BehaviorFactory) EngineOption {
	return func(engine *Engine) {
		engine.behaviors = append(engine.behaviors, behavior{kind: kind, factory: factory})
	}
}

// WithAsyncExecutor runs jobs in the background once the engine is started.
func WithAsyncExecutor(cfg executor.Config) EngineOption {
	return func(engine *Engine) {
		engine.asyncConfig = &cfg
	}
}

func WithMetrics(metrics *otel.EngineMetrics) EngineOption {
	return func(engine *Engine) {
		engine.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) EngineOption {
	return func(engine *Engine) {
		engine.tracer = tracer
	}
}

// WithMaxOperations bounds the interpreter operations of a single command.
func WithMaxOperations(max int) EngineOption {
	return func(engine *Engine) {
		engine.maxOperations = max
	}
}
