// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package command

import (
	"context"

	"github.com/hashicorp/go-hclog"
)

// Invocation describes one command passing through the interceptor chain.
type Invocation struct {
	Name   string
	Config Config
	// Nested is true when the command joins an already open command context.
	Nested bool
}

type Handler func(ctx context.Context, inv Invocation) error

type Interceptor func(next Handler) Handler

// Invoker runs the body of an outermost command. The default invoker just
// calls execute; the process virtual machine drains its agenda here.
type Invoker func(cc *CommandContext, execute func() error) error

// Executor owns the session factories and interceptors shared by all
// commands of one engine.
type Executor struct {
	factories    map[string]SessionFactory
	interceptors []Interceptor
	invoker      Invoker
	logger       hclog.Logger
}

type ExecutorOption func(*Executor)

func WithSessionFactory(f SessionFactory) ExecutorOption {
	return func(e *Executor) {
		e.factories[f.SessionName()] = f
	}
}

// WithInterceptor appends i; the first interceptor added is the outermost.
func WithInterceptor(i Interceptor) ExecutorOption {
	return func(e *Executor) {
		e.interceptors = append(e.interceptors, i)
	}
}

func WithInvoker(i Invoker) ExecutorOption {
	return func(e *Executor) {
		e.invoker = i
	}
}

func WithLogger(logger hclog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

func NewExecutor(options ...ExecutorOption) *Executor {
	e := &Executor{
		factories: map[string]SessionFactory{},
		invoker:   func(_ *CommandContext, execute func() error) error {
			return execute()
		},
		logger: hclog.NewNullLogger(),
	}
	for _, o := range options {
		o(e)
	}
	e.logger = e.logger.Named("command")
	return e
}

// RegisterSessionFactory adds or replaces a factory after construction.
// It must not be called while commands are running.
func (e *Executor) RegisterSessionFactory(f SessionFactory) {
	e.factories[f.SessionName()] = f
}

func (e *Executor) Logger() hclog.Logger {
	return e.logger
}

func (e *Executor) invoke(ctx context.Context, inv Invocation, fn func(ctx context.Context) error) error {
	if cc := FromContext(ctx); cc != nil && cc.executor == e && !cc.closed && inv.Config.Propagation == Required {
		inv.Nested = true
	}
	var h Handler = func(ctx context.Context, _ Invocation) error {
		return fn(ctx)
	}
	for i := len(e.interceptors) - 1; i >= 0; i-- {
		h = e.interceptors[i](h)
	}
	return h(ctx, inv)
}

func (e *Executor) logPanic(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("close listener panicked", "step", step, "panic", r)
		}
	}()
	fn()
}
