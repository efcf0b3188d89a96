// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	id int
}

func TestPoolReusesRunners(t *testing.T) {
	// given
	created := 0
	p, err := NewRunnerPool(t.Context(), func() *counter {
		created++
		return &counter{id: created}
	}, 2, 1, 0)
	require.NoError(t, err)

	// when
	first, err := p.Get(t.Context())
	require.NoError(t, err)
	second, err := p.Get(t.Context())
	require.NoError(t, err)
	p.Put(first)
	third, err := p.Get(t.Context())
	require.NoError(t, err)

	// then
	assert.Equal(t, 2, created)
	assert.NotSame(t, first, second)
	assert.Same(t, first, third)
	assert.Equal(t, 2, p.Active())
}

func TestGetWaitsForReturnedRunnerWhenExhausted(t *testing.T) {
	// given
	p, err := NewRunnerPool(t.Context(), func() *counter { return &counter{} }, 1, 0, 0)
	require.NoError(t, err)
	only, err := p.Get(t.Context())
	require.NoError(t, err)

	// when
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx)

	// then
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	p.Put(only)
	again, err := p.Get(t.Context())
	require.NoError(t, err)
	assert.Same(t, only, again)
}

func TestShrinkKeepsMinimum(t *testing.T) {
	p, err := NewRunnerPool(t.Context(), func() *counter { return &counter{} }, 3, 1, 0)
	require.NoError(t, err)
	a, _ := p.Get(t.Context())
	b, _ := p.Get(t.Context())
	p.Put(a)
	p.Put(b)
	assert.Equal(t, 2, p.Active())

	p.shrink()

	assert.Equal(t, 1, p.Active())
}

func TestInvalidPoolSizes(t *testing.T) {
	_, err := NewRunnerPool(t.Context(), func() *counter { return &counter{} }, 1, 2, 0)
	assert.Error(t, err)
}
