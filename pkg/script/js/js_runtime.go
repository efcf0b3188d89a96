// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package js

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/pbinitiative/zenpvm/pkg/script"
)

type JsRuntime struct {
	pool *script.RunnerPool[*jsRunner]
}

var _ script.JsRuntime = &JsRuntime{}

func NewJsRuntime(ctx context.Context, maxVmPoolSize int, minVmPoolSize int) (*JsRuntime, error) {
	pool, err := script.NewRunnerPool(ctx, newJsRunner, maxVmPoolSize, minVmPoolSize, 10*time.Minute)
	if err != nil {
		return nil, err
	}
	return &JsRuntime{pool: pool}, nil
}

func (r *JsRuntime) RunScript(ctx context.Context, source string, variables map[string]any) (any, error) {
	runner, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	res, err := runner.run(ctx, source, variables)
	if runner.broken {
		r.pool.Discard()
	} else {
		r.pool.Put(runner)
	}
	return res, err
}

type jsRunner struct {
	vm     *goja.Runtime
	broken bool
}

func newJsRunner() *jsRunner {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return &jsRunner{vm: vm}
}

func (r *jsRunner) run(ctx context.Context, source string, variables map[string]any) (any, error) {
	global := r.vm.GlobalObject()
	for name, value := range variables {
		if err := r.vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("failed to bind variable %s: %w", name, err)
		}
	}
	defer func() {
		for name := range variables {
			if err := global.Delete(name); err != nil {
				r.broken = true
			}
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		r.vm.Interrupt(ctx.Err())
	})
	defer func() {
		if !stop() {
			// interrupted runners keep state from the aborted script
			r.broken = true
		}
		r.vm.ClearInterrupt()
	}()

	value, err := r.vm.RunString(source)
	if err != nil {
		return nil, fmt.Errorf("error running script %q: %w", source, err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}
