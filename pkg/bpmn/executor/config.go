// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package executor

import (
	"time"

	"github.com/google/uuid"
)

type Config struct {
	// PoolSize is the number of workers executing jobs.
	PoolSize int
	// QueueSize bounds the jobs waiting for a worker. Acquired jobs that do
	// not fit within submitWait are unlocked again.
	QueueSize           int
	AcquisitionBatch    int
	AcquisitionInterval time.Duration
	LockDuration        time.Duration
	// LockOwner identifies this executor in job locks; a random one is used when empty.
	LockOwner string
	// BreakerFailures consecutive acquisition failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PoolSize:            4,
		QueueSize:           16,
		AcquisitionBatch:    8,
		AcquisitionInterval: 5 * time.Second,
		LockDuration:        5 * time.Minute,
		BreakerFailures:     5,
		BreakerTimeout:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.AcquisitionBatch <= 0 {
		c.AcquisitionBatch = d.AcquisitionBatch
	}
	if c.AcquisitionInterval <= 0 {
		c.AcquisitionInterval = d.AcquisitionInterval
	}
	if c.LockDuration <= 0 {
		c.LockDuration = d.LockDuration
	}
	if c.LockOwner == "" {
		c.LockOwner = uuid.NewString()
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}
