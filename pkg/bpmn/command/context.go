// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

type ctxKey struct{}

// FromContext returns the command context carried by ctx or nil.
func FromContext(ctx context.Context) *CommandContext {
	if ctx == nil {
		return nil
	}
	cc, _ := ctx.Value(ctxKey{}).(*CommandContext)
	return cc
}

// CommandContext is the unit of work of one outermost command. Nested
// commands with Required propagation share it.
type CommandContext struct {
	ctx       context.Context
	executor  *Executor
	sessions  map[string]Session
	opened    []string
	listeners []CloseListener
	attrs     map[string]any
	err       error
	closed    bool
}

func (e *Executor) newCommandContext(parent context.Context) *CommandContext {
	cc := &CommandContext{
		executor: e,
		sessions: map[string]Session{},
		attrs:    map[string]any{},
	}
	cc.ctx = context.WithValue(parent, ctxKey{}, cc)
	return cc
}

// Context returns the context that carries this command context.
func (cc *CommandContext) Context() context.Context {
	return cc.ctx
}

func (cc *CommandContext) Executor() *Executor {
	return cc.executor
}

// Session returns the session registered under name, opening it on first use.
func (cc *CommandContext) Session(name string) (Session, error) {
	if s, ok := cc.sessions[name]; ok {
		return s, nil
	}
	if cc.closed {
		return nil, ErrContextClosed
	}
	factory, ok := cc.executor.factories[name]
	if !ok {
		return nil, fmt.Errorf("no session factory registered for %q", name)
	}
	s, err := factory.OpenSession(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to open session %q: %w", name, err)
	}
	cc.sessions[name] = s
	cc.opened = append(cc.opened, name)
	return s, nil
}

// GetSession returns the session registered under name typed as S.
func GetSession[S any](cc *CommandContext, name string) (S, error) {
	var zero S
	s, err := cc.Session(name)
	if err != nil {
		return zero, err
	}
	typed, ok := s.(S)
	if !ok {
		return zero, fmt.Errorf("session %q has type %T", name, s)
	}
	return typed, nil
}

// AddCloseListener registers l. Listeners added while the context is closing
// still take part in the remaining steps.
func (cc *CommandContext) AddCloseListener(l CloseListener) {
	cc.listeners = append(cc.listeners, l)
}

func (cc *CommandContext) Attribute(key string) any {
	return cc.attrs[key]
}

func (cc *CommandContext) SetAttribute(key string, value any) {
	cc.attrs[key] = value
}

// SetFailure marks the context as failed; it will roll back on close.
func (cc *CommandContext) SetFailure(err error) {
	if err == nil {
		return
	}
	if cc.err == nil {
		cc.err = err
	}
}

// Failure returns the first error recorded for this context.
func (cc *CommandContext) Failure() error {
	return cc.err
}

func (cc *CommandContext) Failed() bool {
	return cc.err != nil
}

func (cc *CommandContext) executeNestedErr(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
		if err != nil {
			cc.SetFailure(err)
		}
	}()
	return fn()
}

// run executes fn through the executor invoker and closes the context.
func (cc *CommandContext) run(fn func(cc *CommandContext) error) error {
	err := cc.executeNestedErr(func() error {
		return cc.executor.invoker(cc, func() error { return fn(cc) })
	})
	if err != nil {
		cc.SetFailure(err)
	}
	return cc.close()
}

func (cc *CommandContext) close() error {
	defer func() {
		cc.closed = true
		for i := len(cc.opened) - 1; i >= 0; i-- {
			cc.sessions[cc.opened[i]].Close()
		}
	}()
	if cc.err == nil {
		cc.SetFailure(cc.safely(cc.commit))
	}
	if cc.err != nil {
		cc.rollback()
		return cc.err
	}
	return nil
}

func (cc *CommandContext) commit() error {
	for i := 0; i < len(cc.listeners); i++ {
		if err := cc.listeners[i].Closing(cc); err != nil {
			return err
		}
	}
	for _, name := range cc.opened {
		if err := cc.sessions[name].Flush(); err != nil {
			return err
		}
	}
	for i := 0; i < len(cc.listeners); i++ {
		if err := cc.listeners[i].AfterSessionsFlush(cc); err != nil {
			return err
		}
	}
	for _, name := range cc.opened {
		if ts, ok := cc.sessions[name].(TransactionalSession); ok {
			if err := ts.Commit(); err != nil {
				return err
			}
		}
	}
	cc.closed = true
	for i := 0; i < len(cc.listeners); i++ {
		cc.executor.logPanic("closed", func() { cc.listeners[i].Closed(cc) })
	}
	return nil
}

func (cc *CommandContext) rollback() {
	for i := len(cc.opened) - 1; i >= 0; i-- {
		if ts, ok := cc.sessions[cc.opened[i]].(TransactionalSession); ok {
			cc.executor.logPanic("rollback", ts.Rollback)
		}
	}
	cc.closed = true
	for i := 0; i < len(cc.listeners); i++ {
		cc.executor.logPanic("closeFailure", func() { cc.listeners[i].CloseFailure(cc) })
	}
}

func (cc *CommandContext) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}

// IsPanic reports whether err carries a recovered panic.
func IsPanic(err error) bool {
	var p *PanicError
	return errors.As(err, &p)
}
