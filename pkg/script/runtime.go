// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package script runs user supplied scripts of script tasks and expressions.
package script

import "context"

type JsRuntime interface {
	// RunScript evaluates script with variables bound as globals and returns
	// the exported value of the last statement.
	RunScript(ctx context.Context, script string, variables map[string]any) (any, error)
}
