// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

import (
	"context"
	"errors"
	"sync"
	"time"
)

// RunnerPool keeps between min and max runners alive. Runners are expensive
// to create and are not safe for concurrent use, so every caller borrows one.
type RunnerPool[R any] struct {
	pool          chan R
	newRunner     func() R
	activeRunners int
	mu            sync.Mutex
	maxSize       int
	minSize       int
}

// NewRunnerPool starts minSize runners. Idle runners above minSize are dropped
// every cleanupInterval until ctx is done.
func NewRunnerPool[R any](ctx context.Context, newRunner func() R, maxSize int, minSize int, cleanupInterval time.Duration) (*RunnerPool[R], error) {
	if maxSize < 1 || maxSize < minSize {
		return nil, errors.New("runner pool max size must be positive and not smaller than min size")
	}
	p := &RunnerPool[R]{
		pool:      make(chan R, maxSize),
		newRunner: newRunner,
		maxSize:   maxSize,
		minSize:   minSize,
	}
	for i := 0; i < minSize; i++ {
		p.pool <- newRunner()
		p.activeRunners++
	}
	if cleanupInterval > 0 {
		go p.cleanup(ctx, cleanupInterval)
	}
	return p, nil
}

func (p *RunnerPool[R]) cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.shrink()
		case <-ctx.Done():
			return
		}
	}
}

func (p *RunnerPool[R]) shrink() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pool) > p.minSize {
		select {
		case <-p.pool:
			p.activeRunners--
		default:
			return
		}
	}
}

// Get borrows a runner, creating one while the pool is below its max size
// and waiting for a returned one otherwise.
func (p *RunnerPool[R]) Get(ctx context.Context) (R, error) {
	select {
	case r := <-p.pool:
		return r, nil
	default:
	}
	p.mu.Lock()
	if p.activeRunners < p.maxSize {
		p.activeRunners++
		p.mu.Unlock()
		return p.newRunner(), nil
	}
	p.mu.Unlock()
	select {
	case r := <-p.pool:
		return r, nil
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Put hands a runner back; it is dropped when the pool is full.
func (p *RunnerPool[R]) Put(r R) {
	select {
	case p.pool <- r:
	default:
		p.mu.Lock()
		p.activeRunners--
		p.mu.Unlock()
	}
}

// Discard forgets a borrowed runner that must not be reused.
func (p *RunnerPool[R]) Discard() {
	p.mu.Lock()
	p.activeRunners--
	p.mu.Unlock()
}

func (p *RunnerPool[R]) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeRunners
}
