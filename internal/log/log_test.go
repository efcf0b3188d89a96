// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package log

import (
	"context"
	"testing"

	"github.com/pbinitiative/zenpvm/internal/appcontext"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAdded(t *testing.T) {
	// given
	core, logs := observer.New(zap.DebugLevel)
	logger = zap.New(core).Sugar()
	ctx := appcontext.WithCommandName(appcontext.WithExecutionKey(context.Background(), 7), "CompleteTask")

	// when
	Infof(ctx, "task %d completed", 3)
	Info("plain")

	// then
	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "task 3 completed", entries[0].Message)
		assert.Equal(t, map[string]any{"executionKey": int64(7), "command": "CompleteTask"}, entries[0].ContextMap())
		assert.Empty(t, entries[1].ContextMap())
	}
}
