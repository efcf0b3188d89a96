// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package pvm is the process virtual machine. It moves executions through a
// process graph by running operations from a per command agenda. Activities
// plug in as behaviors registered by kind.
package pvm

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/expression"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/clock"
	"github.com/pbinitiative/zenpvm/pkg/otel"
)

// DefaultMaxOperations bounds the operations one command may run. Graphs
// looping without a wait state hit this limit instead of spinning forever.
const DefaultMaxOperations = 100_000

// DefinitionResolver returns parsed process graphs. It is implemented by
// deployment.Manager.
type DefinitionResolver interface {
	ProcessDefinition(cc *command.CommandContext, id string) (*model.ProcessDefinition, error)
	Latest(cc *command.CommandContext, key string) (*model.ProcessDefinition, error)
}

type Interpreter struct {
	behaviors     *Registry
	delegates     *Delegates
	definitions   DefinitionResolver
	jobs          *jobs.Manager
	evaluator     expression.Evaluator
	languages     expression.Languages
	dispatcher    *event.Dispatcher
	clock         clock.Clock
	metrics       *otel.EngineMetrics
	maxOperations int
	logger        hclog.Logger
}

type Option func(*Interpreter)

// WithEvaluator replaces the evaluator of conditions and mappings.
func WithEvaluator(ev expression.Evaluator) Option {
	return func(it *Interpreter) {
		it.evaluator = ev
	}
}

// WithLanguage makes a script format available to script tasks.
func WithLanguage(format string, ev expression.Evaluator) Option {
	return func(it *Interpreter) {
		it.languages[format] = ev
	}
}

func WithDelegates(d *Delegates) Option {
	return func(it *Interpreter) {
		it.delegates = d
	}
}

func WithBehavior(kind model.BehaviorKind, factory BehaviorFactory) Option {
	return func(it *Interpreter) {
		it.behaviors.Register(kind, factory)
	}
}

func WithMetrics(metrics *otel.EngineMetrics) Option {
	return func(it *Interpreter) {
		it.metrics = metrics
	}
}

func WithMaxOperations(max int) Option {
	return func(it *Interpreter) {
		it.maxOperations = max
	}
}

// New creates the interpreter and registers its job handlers on the registry
// of jobManager.
func New(definitions DefinitionResolver, jobManager *jobs.Manager, dispatcher *event.Dispatcher, clk clock.Clock, logger hclog.Logger, options ...Option) *Interpreter {
	feel := expression.NewFeelEvaluator()
	it := &Interpreter{
		behaviors:     NewRegistry(),
		delegates:     NewDelegates(),
		definitions:   definitions,
		jobs:          jobManager,
		evaluator:     feel,
		languages:     expression.Languages{"feel": feel},
		dispatcher:    dispatcher,
		clock:         clk,
		maxOperations: DefaultMaxOperations,
		logger:        logger.Named("pvm"),
	}
	for _, o := range options {
		o(it)
	}
	it.registerJobHandlers(jobManager.Registry())
	return it
}

func (it *Interpreter) Behaviors() *Registry {
	return it.behaviors
}

func (it *Interpreter) Delegates() *Delegates {
	return it.delegates
}

func (it *Interpreter) Jobs() *jobs.Manager {
	return it.jobs
}

func (it *Interpreter) Definitions() DefinitionResolver {
	return it.definitions
}

// Invoker drains the agenda of the outermost command after its body ran.
// Nested commands share the agenda and leave the draining to it.
func (it *Interpreter) Invoker() command.Invoker {
	return func(cc *command.CommandContext, execute func() error) error {
		if err := execute(); err != nil {
			return err
		}
		c, ok := cc.Attribute(contextAttribute).(*Context)
		if !ok {
			return nil
		}
		return c.drain()
	}
}
