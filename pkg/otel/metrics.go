// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const MeterName = "zenpvm-engine"

type EngineMetrics struct {
	ProcessesStarted metric.Int64Counter
	ProcessesEnded   metric.Int64Counter
	ProcessesRunning metric.Int64UpDownCounter
	JobsCreated      metric.Int64Counter
	JobsExecuted     metric.Int64Counter
	JobsFailed       metric.Int64Counter
	JobsDead         metric.Int64Counter
	JobsAcquired     metric.Int64Counter
	CommandsExecuted metric.Int64Counter
	CommandsFailed   metric.Int64Counter
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	processesStartedTotal, err := meter.Int64Counter("processes_started", metric.WithDescription("Number of processes started"))
	errJoin = errors.Join(errJoin, err)

	processesCompletedTotal, err := meter.Int64Counter("processes_completed", metric.WithDescription("Number of processes completed"))
	errJoin = errors.Join(errJoin, err)

	processesRunning, err := meter.Int64UpDownCounter("processes_running", metric.WithDescription("Number of processes currently running"))
	errJoin = errors.Join(errJoin, err)

	jobsCreated, err := meter.Int64Counter("jobs_created", metric.WithDescription("Number of jobs created"))
	errJoin = errors.Join(errJoin, err)

	jobsExecuted, err := meter.Int64Counter("jobs_executed", metric.WithDescription("Number of jobs executed successfully"))
	errJoin = errors.Join(errJoin, err)

	jobsFailed, err := meter.Int64Counter("jobs_failed", metric.WithDescription("Number of failed job attempts"))
	errJoin = errors.Join(errJoin, err)

	jobsDead, err := meter.Int64Counter("jobs_dead", metric.WithDescription("Number of jobs moved to the dead letter state"))
	errJoin = errors.Join(errJoin, err)

	jobsAcquired, err := meter.Int64Counter("jobs_acquired", metric.WithDescription("Number of jobs locked by the async executor"))
	errJoin = errors.Join(errJoin, err)

	commandsExecuted, err := meter.Int64Counter("commands_executed", metric.WithDescription("Number of commands executed"))
	errJoin = errors.Join(errJoin, err)

	commandsFailed, err := meter.Int64Counter("commands_failed", metric.WithDescription("Number of commands rolled back"))
	errJoin = errors.Join(errJoin, err)

	cacheHits, err := meter.Int64Counter("deployment_cache_hits", metric.WithDescription("Process definitions served from the deployment cache"))
	errJoin = errors.Join(errJoin, err)

	cacheMisses, err := meter.Int64Counter("deployment_cache_misses", metric.WithDescription("Process definitions rebuilt from deployment resources"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		ProcessesStarted: processesStartedTotal,
		ProcessesEnded:   processesCompletedTotal,
		ProcessesRunning: processesRunning,
		JobsCreated:      jobsCreated,
		JobsExecuted:     jobsExecuted,
		JobsFailed:       jobsFailed,
		JobsDead:         jobsDead,
		JobsAcquired:     jobsAcquired,
		CommandsExecuted: commandsExecuted,
		CommandsFailed:   commandsFailed,
		CacheHits:        cacheHits,
		CacheMisses:      cacheMisses,
	}
	return &metrics, errJoin
}

// NewGlobalMetrics creates the instruments on the globally registered meter provider.
func NewGlobalMetrics() (*EngineMetrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}
