// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package js

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptSeesVariables(t *testing.T) {
	// given
	rt, err := NewJsRuntime(t.Context(), 2, 1)
	require.NoError(t, err)

	// when
	res, err := rt.RunScript(t.Context(), "a + b", map[string]any{"a": 2, "b": 3})

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(5), res)
}

func TestVariablesDoNotLeakIntoNextScript(t *testing.T) {
	// given
	rt, err := NewJsRuntime(t.Context(), 1, 1)
	require.NoError(t, err)
	_, err = rt.RunScript(t.Context(), "secret", map[string]any{"secret": "x"})
	require.NoError(t, err)

	// when
	res, err := rt.RunScript(t.Context(), "typeof secret", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, "undefined", res)
}

func TestScriptErrorsAreReturned(t *testing.T) {
	rt, err := NewJsRuntime(t.Context(), 1, 0)
	require.NoError(t, err)

	_, err = rt.RunScript(t.Context(), "throw new Error('nope')", nil)

	assert.ErrorContains(t, err, "nope")
}

func TestCancelledContextInterruptsScript(t *testing.T) {
	rt, err := NewJsRuntime(t.Context(), 1, 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = rt.RunScript(ctx, "while (true) {}", nil)

	assert.Error(t, err)
}
