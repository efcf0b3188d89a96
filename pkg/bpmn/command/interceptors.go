// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package command

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/internal/appcontext"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	otelPkg "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// LoggingInterceptor logs every command at trace level and failures at debug level.
func LoggingInterceptor(logger hclog.Logger) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv Invocation) error {
			start := time.Now()
			err := next(ctx, inv)
			if err != nil {
				logger.Debug("command failed", "command", inv.Name, "propagation", inv.Config.Propagation, "nested", inv.Nested, "took", time.Since(start), "err", err)
				return err
			}
			logger.Trace("command executed", "command", inv.Name, "propagation", inv.Config.Propagation, "nested", inv.Nested, "took", time.Since(start))
			return nil
		}
	}
}

// ContextInterceptor stores the command name in the context handed to the command.
func ContextInterceptor() Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv Invocation) error {
			return next(appcontext.WithCommandName(ctx, inv.Name), inv)
		}
	}
}

// TelemetryInterceptor opens a span per command and counts executed and failed commands.
func TelemetryInterceptor(tracer trace.Tracer, metrics *otel.EngineMetrics) Interceptor {
	if tracer == nil {
		tracer = otelPkg.GetTracerProvider().Tracer(otel.TracerName)
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, inv Invocation) error {
			ctx, span := tracer.Start(ctx, "command:"+inv.Name, trace.WithAttributes(
				attribute.String(otel.AttributeCommand, inv.Name),
				attribute.String(otel.AttributePropagation, inv.Config.Propagation.String()),
			))
			defer span.End()
			attrs := metric.WithAttributes(attribute.String(otel.AttributeCommand, inv.Name))
			err := next(ctx, inv)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				if metrics != nil {
					metrics.CommandsFailed.Add(ctx, 1, attrs)
				}
				return err
			}
			if metrics != nil {
				metrics.CommandsExecuted.Add(ctx, 1, attrs)
			}
			return nil
		}
	}
}
