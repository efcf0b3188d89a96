// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package log is the application logger of the zenpvm process.
package log

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zenpvm/internal/appcontext"
	"github.com/pbinitiative/zenpvm/internal/profile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = zap.NewNop().Sugar()

// Init builds the logger for the current profile.
func Init() {
	var config zap.Config
	if profile.Current == profile.PROD {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	l, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %s", err))
	}
	logger = l.Sugar()
}

// Logger returns the underlying zap logger, e.g. to adapt it for libraries.
func Logger() *zap.Logger {
	return logger.Desugar()
}

func Sync() {
	_ = logger.Sync()
}

func withContext(ctx context.Context) *zap.SugaredLogger {
	l := logger
	if key, ok := appcontext.GetExecutionContext(ctx); ok {
		l = l.With("executionKey", key)
	}
	if name, ok := appcontext.GetCommandName(ctx); ok {
		l = l.With("command", name)
	}
	return l
}

func Debugf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Debugf(format, args...)
}

func Infof(ctx context.Context, format string, args ...any) {
	withContext(ctx).Infof(format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Errorf(format, args...)
}

func Info(format string, args ...any) {
	logger.Infof(format, args...)
}

func Error(format string, args ...any) {
	logger.Errorf(format, args...)
}
