// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package command runs units of work inside a CommandContext. Every command
// is applied completely or not at all: sessions opened by the command are
// flushed and committed together when it finishes and rolled back when it
// fails.
package command

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

type Propagation int

const (
	// Required joins the command context found in ctx or opens one.
	Required Propagation = iota
	// RequiresNew always opens an independent command context.
	RequiresNew
)

func (p Propagation) String() string {
	switch p {
	case Required:
		return "REQUIRED"
	case RequiresNew:
		return "REQUIRES_NEW"
	}
	return fmt.Sprintf("Propagation(%d)", int(p))
}

type Config struct {
	Propagation Propagation
}

type Command[T any] interface {
	Execute(cc *CommandContext) (T, error)
}

// Func adapts a function to Command.
type Func[T any] func(cc *CommandContext) (T, error)

func (f Func[T]) Execute(cc *CommandContext) (T, error) {
	return f(cc)
}

// Named commands report their own name to logs and spans.
type Named interface {
	CommandName() string
}

type namedFunc[T any] struct {
	name string
	fn   Func[T]
}

func (n namedFunc[T]) Execute(cc *CommandContext) (T, error) {
	return n.fn(cc)
}

func (n namedFunc[T]) CommandName() string {
	return n.name
}

// NewNamed wraps fn into a command with the given name.
func NewNamed[T any](name string, fn Func[T]) Command[T] {
	return namedFunc[T]{name: name, fn: fn}
}

func nameOf(cmd any) string {
	if n, ok := cmd.(Named); ok {
		return n.CommandName()
	}
	t := reflect.TypeOf(cmd)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "anonymous"
	}
	return name
}

// Run executes cmd with Required propagation.
func Run[T any](ctx context.Context, e *Executor, cmd Command[T]) (T, error) {
	return RunWith(ctx, e, Config{Propagation: Required}, cmd)
}

// RunNew executes cmd in a fresh command context.
func RunNew[T any](ctx context.Context, e *Executor, cmd Command[T]) (T, error) {
	return RunWith(ctx, e, Config{Propagation: RequiresNew}, cmd)
}

func RunWith[T any](ctx context.Context, e *Executor, config Config, cmd Command[T]) (T, error) {
	var res T
	err := e.invoke(ctx, Invocation{Name: nameOf(cmd), Config: config}, func(ctx context.Context) error {
		cc := FromContext(ctx)
		if config.Propagation == Required && cc != nil && cc.executor == e && !cc.closed {
			return cc.executeNestedErr(func() error {
				var err error
				res, err = cmd.Execute(cc)
				return err
			})
		}
		cc = e.newCommandContext(ctx)
		return cc.run(func(cc *CommandContext) error {
			var err error
			res, err = cmd.Execute(cc)
			return err
		})
	})
	return res, err
}
