// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package bpmn is the embeddable engine: it wires storage, the command layer,
// the process virtual machine, the job manager and the async executor.
package bpmn

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/cache"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/deployment"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/executor"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/expression"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/persistence"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/pvm"
	"github.com/pbinitiative/zenpvm/pkg/clock"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/script/js"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/pbinitiative/zenpvm/pkg/storage/inmemory"
	"github.com/pbinitiative/zenpvm/pkg/zenflake"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultDeploymentCacheLimit = 100
	jsMaxVms                    = 10
	jsMinVms                    = 2
)

type Engine struct {
	name        string
	store       storage.Storage
	clock       clock.Clock
	dispatcher  *event.Dispatcher
	jobs        *jobs.Manager
	deployments *deployment.Manager
	interp      *pvm.Interpreter
	commands    *command.Executor
	async       *executor.Executor
	delegates   *pvm.Delegates
	logger      hclog.Logger

	// construction settings, read by NewEngine after the options ran
	cache         cache.DeploymentCache
	jobOptions    []jobs.Option
	handlers      map[string]jobs.Handler
	listeners     []listener
	evaluator     expression.Evaluator
	behaviors     []behavior
	maxOperations int
	asyncConfig   *executor.Config
	metrics       *otel.EngineMetrics
	tracer        trace.Tracer
}

type listener struct {
	listener event.Listener
	types    []event.Type
	deferred bool
}

type behavior struct {
	kind    model.BehaviorKind
	factory pvm.BehaviorFactory
}

// NewEngine creates an engine. Without options it keeps its state in memory
// and runs jobs only when asked to.
func NewEngine(options ...EngineOption) (*Engine, error) {
	engine := &Engine{
		name:      fmt.Sprintf("zenpvm-%d", zenflake.NewGeneratorFromEnv().Generate()),
		delegates: pvm.NewDelegates(),
		handlers:  map[string]jobs.Handler{},
		logger:    hclog.Default().Named("engine"),
	}
	for _, option := range options {
		option(engine)
	}
	if engine.store == nil {
		engine.store = inmemory.NewStorage()
	}
	if engine.clock == nil {
		engine.clock = clock.NewRealClock()
	}
	if engine.cache == nil {
		engine.cache = cache.NewFIFO(DefaultDeploymentCacheLimit)
	}

	engine.dispatcher = event.NewDispatcher(engine.clock, engine.logger)
	for _, l := range engine.listeners {
		if l.deferred {
			engine.dispatcher.AddDeferredListener(l.listener, l.types...)
			continue
		}
		engine.dispatcher.AddListener(l.listener, l.types...)
	}

	jobOptions := engine.jobOptions
	if engine.metrics != nil {
		jobOptions = append(jobOptions, jobs.WithMetrics(engine.metrics))
	}
	engine.jobs = jobs.NewManager(jobs.NewRegistry(), engine.clock, engine.dispatcher, engine.logger, jobOptions...)

	var deploymentOptions []deployment.Option
	if engine.metrics != nil {
		deploymentOptions = append(deploymentOptions, deployment.WithMetrics(engine.metrics))
	}
	engine.deployments = deployment.NewManager(engine.cache, engine.clock, engine.logger, deploymentOptions...)

	interp, err := engine.newInterpreter()
	if err != nil {
		return nil, err
	}
	engine.interp = interp
	for handlerType, h := range engine.handlers {
		engine.jobs.Registry().Register(handlerType, h)
	}

	engine.commands = command.NewExecutor(
		command.WithSessionFactory(persistence.NewSessionFactory(engine.store, engine.dispatcher)),
		command.WithSessionFactory(engine.dispatcher.SessionFactory()),
		command.WithSessionFactory(engine.jobs.SessionFactory()),
		command.WithInvoker(engine.interp.Invoker()),
		command.WithInterceptor(command.ContextInterceptor()),
		command.WithInterceptor(command.LoggingInterceptor(engine.logger.Named("command"))),
		command.WithInterceptor(command.TelemetryInterceptor(engine.tracer, engine.metrics)),
		command.WithLogger(engine.logger),
	)

	if engine.asyncConfig != nil {
		executorOptions := []executor.Option{executor.WithLogger(engine.logger)}
		if engine.metrics != nil {
			executorOptions = append(executorOptions, executor.WithMetrics(engine.metrics))
		}
		if engine.tracer != nil {
			executorOptions = append(executorOptions, executor.WithTracer(engine.tracer))
		}
		engine.async = executor.New(engine.store, engine.commands, engine.jobs, *engine.asyncConfig, executorOptions...)
	}
	return engine, nil
}

func (engine *Engine) newInterpreter() (*pvm.Interpreter, error) {
	rt, err := js.NewJsRuntime(context.Background(), jsMaxVms, jsMinVms)
	if err != nil {
		return nil, fmt.Errorf("failed to create javascript runtime: %w", err)
	}
	javascript := expression.NewJavaScriptEvaluator(rt)
	options := []pvm.Option{
		pvm.WithDelegates(engine.delegates),
		pvm.WithLanguage("javascript", javascript),
		pvm.WithLanguage("js", javascript),
	}
	if engine.evaluator != nil {
		options = append(options, pvm.WithEvaluator(engine.evaluator))
	}
	if engine.metrics != nil {
		options = append(options, pvm.WithMetrics(engine.metrics))
	}
	if engine.maxOperations > 0 {
		options = append(options, pvm.WithMaxOperations(engine.maxOperations))
	}
	for _, b := range engine.behaviors {
		options = append(options, pvm.WithBehavior(b.kind, b.factory))
	}
	return pvm.New(engine.deployments, engine.jobs, engine.dispatcher, engine.clock, engine.logger, options...), nil
}

// Start announces the engine and starts the async executor when configured.
func (engine *Engine) Start(ctx context.Context) error {
	engine.dispatcher.DispatchNow(ctx, event.Event{Type: event.EngineCreated})
	if engine.async == nil {
		return nil
	}
	return engine.async.Start(ctx)
}

func (engine *Engine) Stop(ctx context.Context) error {
	if engine.async != nil {
		if err := engine.async.Stop(ctx); err != nil {
			return err
		}
	}
	engine.dispatcher.DispatchNow(ctx, event.Event{Type: event.EngineClosed})
	return nil
}

// Name returns the name of the engine, only useful in case you control multiple ones
func (engine *Engine) Name() string {
	return engine.name
}

func (engine *Engine) Storage() storage.Storage {
	return engine.store
}

func (engine *Engine) Clock() clock.Clock {
	return engine.clock
}

// AsyncExecutor is nil unless the engine was created WithAsyncExecutor.
func (engine *Engine) AsyncExecutor() *executor.Executor {
	return engine.async
}

func (engine *Engine) Dispatcher() *event.Dispatcher {
	return engine.dispatcher
}
