// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package expression

import (
	"context"
	"errors"
	"testing"

	"github.com/pbinitiative/zenpvm/pkg/script/js"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantsAreNotEvaluated(t *testing.T) {
	res, err := NewFeelEvaluator().Evaluate(t.Context(), " 3 ", nil)
	require.NoError(t, err)
	assert.Equal(t, "3", res)
}

func TestFeelBooleanVariable(t *testing.T) {
	// given
	ev := NewFeelEvaluator()

	// when
	yes, err := Bool(t.Context(), ev, "= condA", map[string]any{"condA": true})
	require.NoError(t, err)
	no, err := Bool(t.Context(), ev, "= condA", map[string]any{"condA": false})
	require.NoError(t, err)

	// then
	assert.True(t, yes)
	assert.False(t, no)
}

func TestFeelComparison(t *testing.T) {
	ok, err := Bool(t.Context(), NewFeelEvaluator(), "= aValue > 1", map[string]any{"aValue": int64(3)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmptyConditionIsTrue(t *testing.T) {
	ok, err := Bool(t.Context(), NewFeelEvaluator(), "  ", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIntAcceptsLiterals(t *testing.T) {
	n, err := Int(t.Context(), NewFeelEvaluator(), "3", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = Int(t.Context(), NewFeelEvaluator(), "three", nil)
	var evalErr *EvaluationError
	assert.True(t, errors.As(err, &evalErr))
}

type staticEvaluator struct {
	value any
}

func (s staticEvaluator) Evaluate(context.Context, string, map[string]any) (any, error) {
	return s.value, nil
}

func TestCollectionAcceptsTypedSlices(t *testing.T) {
	list, err := Collection(t.Context(), staticEvaluator{value: []string{"a", "b"}}, "= items", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, list)

	_, err = Collection(t.Context(), staticEvaluator{value: 5}, "= items", nil)
	assert.Error(t, err)
}

func TestNonBooleanConditionIsAnError(t *testing.T) {
	_, err := Bool(t.Context(), staticEvaluator{value: 5}, "= x", nil)
	assert.Error(t, err)
}

func TestJavaScriptEvaluator(t *testing.T) {
	// given
	rt, err := js.NewJsRuntime(t.Context(), 1, 1)
	require.NoError(t, err)
	ev := NewJavaScriptEvaluator(rt)

	// when
	res, err := ev.Evaluate(t.Context(), "= items.length * factor", map[string]any{"items": []any{1, 2, 3}, "factor": 2})

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(6), res)
}

func TestLanguages(t *testing.T) {
	feelEv := NewFeelEvaluator()
	l := Languages{"feel": feelEv}

	ev, err := l.For("")
	require.NoError(t, err)
	assert.Same(t, feelEv, ev)

	_, err = l.For("groovy")
	assert.Error(t, err)
}
