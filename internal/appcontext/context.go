// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package appcontext

import (
	"context"
)

type EXECUTION_CONTEXT string

var (
	ExecutionKey EXECUTION_CONTEXT = "executionKey"
	CommandKey   EXECUTION_CONTEXT = "commandName"
)

// WithExecutionKey marks ctx with the process instance currently worked on.
func WithExecutionKey(ctx context.Context, key int64) context.Context {
	return context.WithValue(ctx, ExecutionKey, key)
}

func GetExecutionContext(ctx context.Context) (int64, bool) {
	executionContextKey := ctx.Value(ExecutionKey)
	if executionContextKey == nil {
		return 0, false
	}
	return executionContextKey.(int64), true
}

func WithCommandName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, CommandKey, name)
}

func GetCommandName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(CommandKey).(string)
	return name, ok
}
