// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobs

import (
	"math"
	"time"
)

// RetryPolicy decides how often failed jobs are retried and how long they wait.
// A job is attempted Retries+1 times before it is dead.
type RetryPolicy struct {
	Retries    int
	Wait       time.Duration
	Multiplier float64
	MaxWait    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: 3, Wait: 10 * time.Second, Multiplier: 1}
}

// Backoff returns the wait before the next attempt after failures failed attempts.
func (p RetryPolicy) Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	wait := time.Duration(float64(p.Wait) * math.Pow(mult, float64(failures-1)))
	if p.MaxWait > 0 && (wait > p.MaxWait || wait < 0) {
		wait = p.MaxWait
	}
	return wait
}
