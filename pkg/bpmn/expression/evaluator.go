// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package expression evaluates gateway conditions, multi-instance
// expressions and mappings against the variables of an execution.
package expression

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/pbinitiative/feel"
	"github.com/pbinitiative/zenpvm/pkg/script"
)

type Evaluator interface {
	Evaluate(ctx context.Context, expression string, variables map[string]any) (any, error)
}

type EvaluationError struct {
	Msg string
	Err error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return e.Msg + "\nerror: " + e.Err.Error()
	}
	return e.Msg
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// FeelEvaluator evaluates expressions starting with "=" as FEEL. Anything
// else is a constant and returned unchanged.
type FeelEvaluator struct{}

func NewFeelEvaluator() *FeelEvaluator {
	return &FeelEvaluator{}
}

func (FeelEvaluator) Evaluate(_ context.Context, expression string, variables map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	if !strings.HasPrefix(expression, "=") {
		return expression, nil
	}
	expression = strings.TrimSpace(strings.TrimPrefix(expression, "="))
	scope := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		scope[k] = toFeel(v)
	}
	res, err := feel.EvalStringWithScope(expression, scope)
	if err != nil {
		return nil, &EvaluationError{Msg: fmt.Sprintf("failed to evaluate expression %q", expression), Err: err}
	}
	return fromFeel(res), nil
}

func toFeel(v any) any {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case float32:
		return float64(n)
	}
	return v
}

// fromFeel turns FEEL numbers into int64 or float64.
func fromFeel(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int64, float64:
		return val
	case int:
		return int64(val)
	case []interface{}:
		for i := range val {
			val[i] = fromFeel(val[i])
		}
		return val
	case map[string]interface{}:
		for k := range val {
			val[k] = fromFeel(val[k])
		}
		return val
	case fmt.Stringer:
		s := val.String()
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return val
	}
	return v
}

// JavaScriptEvaluator runs expressions as JavaScript. A leading "=" is ignored.
type JavaScriptEvaluator struct {
	runtime script.JsRuntime
}

func NewJavaScriptEvaluator(runtime script.JsRuntime) *JavaScriptEvaluator {
	return &JavaScriptEvaluator{runtime: runtime}
}

func (e *JavaScriptEvaluator) Evaluate(ctx context.Context, expression string, variables map[string]any) (any, error) {
	expression = strings.TrimPrefix(strings.TrimSpace(expression), "=")
	res, err := e.runtime.RunScript(ctx, expression, variables)
	if err != nil {
		return nil, &EvaluationError{Msg: fmt.Sprintf("failed to evaluate script %q", expression), Err: err}
	}
	return res, nil
}

// Languages selects an evaluator by script format, "feel" by default.
type Languages map[string]Evaluator

func (l Languages) For(language string) (Evaluator, error) {
	if language == "" {
		language = "feel"
	}
	ev, ok := l[strings.ToLower(language)]
	if !ok {
		return nil, &EvaluationError{Msg: fmt.Sprintf("unsupported script language %q", language)}
	}
	return ev, nil
}

// Bool evaluates a condition. Empty conditions are true.
func Bool(ctx context.Context, ev Evaluator, expression string, variables map[string]any) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}
	res, err := ev.Evaluate(ctx, expression, variables)
	if err != nil {
		return false, err
	}
	switch b := res.(type) {
	case bool:
		return b, nil
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed, nil
		}
	case nil:
		return false, nil
	}
	return false, &EvaluationError{Msg: fmt.Sprintf("expression %q did not evaluate to a boolean but %T", expression, res)}
}

// Int evaluates expression to a whole number.
func Int(ctx context.Context, ev Evaluator, expression string, variables map[string]any) (int, error) {
	res, err := ev.Evaluate(ctx, expression, variables)
	if err != nil {
		return 0, err
	}
	switch n := res.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, nil
		}
	}
	return 0, &EvaluationError{Msg: fmt.Sprintf("expression %q did not evaluate to an integer but %v", expression, res)}
}

// Collection evaluates expression to a list.
func Collection(ctx context.Context, ev Evaluator, expression string, variables map[string]any) ([]any, error) {
	res, err := ev.Evaluate(ctx, expression, variables)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	if list, ok := res.([]any); ok {
		return list, nil
	}
	rv := reflect.ValueOf(res)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, &EvaluationError{Msg: fmt.Sprintf("expression %q did not evaluate to a collection but %T", expression, res)}
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, nil
}
