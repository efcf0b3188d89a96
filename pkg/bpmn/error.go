// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"github.com/pbinitiative/zenpvm/pkg/bpmn/expression"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

// EngineError reports a fault of the process graph or of its use. It always
// rolls back the command that raised it.
type EngineError = runtime.EngineError

type ExpressionEvaluationError = expression.EvaluationError

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return runtime.NewEngineErrorf(format, a...)
}
