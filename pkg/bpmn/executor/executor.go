// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package executor runs jobs in the background: it promotes due timers,
// locks executable jobs and hands them to a bounded worker pool.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"github.com/pbinitiative/zenpvm/pkg/clock"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/sony/gobreaker/v2"
	otelPkg "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrRunning = errors.New("async executor is already running")

type Executor struct {
	cfg      Config
	store    storage.Storage
	commands *command.Executor
	jobs     *jobs.Manager
	clock    clock.Clock
	breaker  *gobreaker.CircuitBreaker[[]int64]
	metrics  *otel.EngineMetrics
	tracer   trace.Tracer
	logger   hclog.Logger

	queue chan int64
	wake  chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Executor)

func WithMetrics(metrics *otel.EngineMetrics) Option {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func WithLogger(logger hclog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger.Named("async-executor")
	}
}

func New(store storage.Storage, commands *command.Executor, jobManager *jobs.Manager, cfg Config, options ...Option) *Executor {
	cfg = cfg.withDefaults()
	e := &Executor{
		cfg:      cfg,
		store:    store,
		commands: commands,
		jobs:     jobManager,
		clock:    jobManager.Clock(),
		tracer:   otelPkg.GetTracerProvider().Tracer(otel.TracerName),
		logger:   hclog.Default().Named("async-executor"),
		queue:    make(chan int64, cfg.QueueSize),
		wake:     make(chan struct{}, 1),
	}
	for _, option := range options {
		option(e)
	}
	e.breaker = gobreaker.NewCircuitBreaker[[]int64](gobreaker.Settings{
		Name:    "job-acquisition",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			e.logger.Warn("circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return e
}

func (e *Executor) LockOwner() string {
	return e.cfg.LockOwner
}

// BreakerState reports the circuit breaker guarding job acquisition: closed, half-open or open.
func (e *Executor) BreakerState() string {
	return e.breaker.State().String()
}

// Start launches the acquisition loop and the workers. Jobs made executable by
// committed commands wake the loop early.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.jobs.SetHinter(e)
	for range e.cfg.PoolSize {
		e.wg.Add(1)
		go e.work(ctx)
	}
	e.wg.Add(1)
	go e.run(ctx)
	e.logger.Info("async executor started", "lockOwner", e.cfg.LockOwner, "workers", e.cfg.PoolSize)
	return nil
}

// Stop waits for running jobs and unlocks the queued ones.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	e.jobs.SetHinter(nil)
	cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	for {
		select {
		case id := <-e.queue:
			e.unlock(ctx, id)
		default:
			e.logger.Info("async executor stopped")
			return nil
		}
	}
}

// Hint wakes the acquisition loop. It never blocks.
func (e *Executor) Hint(_ context.Context, _ ...int64) {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) run(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.AcquisitionInterval)
	defer ticker.Stop()
	for {
		e.cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.wake:
		}
	}
}

func (e *Executor) work(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.queue:
			e.execute(ctx, id)
		}
	}
}

// cycle promotes due timers and fills the free queue slots.
func (e *Executor) cycle(ctx context.Context) {
	if _, err := e.promoteTimers(ctx); err != nil {
		e.logger.Error("failed to promote timers", "err", err)
	}
	free := cap(e.queue) - len(e.queue) + e.cfg.PoolSize
	ids, err := e.acquire(ctx, min(free, e.cfg.AcquisitionBatch))
	if err != nil {
		e.logger.Error("failed to acquire jobs", "err", err)
		return
	}
	for _, id := range ids {
		e.submit(ctx, id)
	}
}

// submitWait is how long an acquired job waits for a queue slot.
const submitWait = 200 * time.Millisecond

func (e *Executor) submit(ctx context.Context, id int64) {
	timer := time.NewTimer(submitWait)
	defer timer.Stop()
	select {
	case e.queue <- id:
	case <-timer.C:
		e.logger.Debug("job rejected, queue is full", "job", id)
		e.unlock(ctx, id)
	case <-ctx.Done():
		e.unlock(ctx, id)
	}
}

// RunCycle promotes due timers, then acquires and executes jobs in the calling
// goroutine. It returns the number of executed jobs.
func (e *Executor) RunCycle(ctx context.Context) (int, error) {
	if _, err := e.promoteTimers(ctx); err != nil {
		return 0, err
	}
	ids, err := e.acquire(ctx, e.cfg.AcquisitionBatch)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		e.execute(ctx, id)
	}
	return len(ids), nil
}

func (e *Executor) promoteTimers(ctx context.Context) (int, error) {
	due, err := e.store.FindDueTimerJobs(ctx, e.clock.Now(), e.cfg.AcquisitionBatch)
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, job := range due {
		ok, err := command.RunNew(ctx, e.commands, command.NewNamed("PromoteTimer", func(cc *command.CommandContext) (bool, error) {
			return e.jobs.PromoteTimer(cc, job.Id)
		}))
		switch {
		case command.IsOptimisticLockingFailure(err):
			continue
		case err != nil:
			return promoted, err
		case ok:
			promoted++
		}
	}
	return promoted, nil
}

// acquire locks up to limit jobs. Storage failures count against the breaker.
func (e *Executor) acquire(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := e.breaker.Execute(func() ([]int64, error) {
		now := e.clock.Now()
		candidates, err := e.store.FindAcquirableJobs(ctx, now, limit)
		if err != nil {
			return nil, err
		}
		var locked []int64
		for _, job := range candidates {
			ok, err := e.store.TryLockJob(ctx, job.Id, e.cfg.LockOwner, now.Add(e.cfg.LockDuration), now)
			if err != nil {
				return locked, err
			}
			if ok {
				locked = append(locked, job.Id)
			}
		}
		return locked, nil
	})
	if len(ids) > 0 && e.metrics != nil {
		e.metrics.JobsAcquired.Add(ctx, int64(len(ids)))
	}
	if err != nil {
		for _, id := range ids {
			e.unlock(ctx, id)
		}
		return nil, err
	}
	return ids, nil
}

func (e *Executor) execute(ctx context.Context, id int64) {
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("job:%d", id), trace.WithAttributes(
		attribute.Int64(otel.AttributeJobId, id),
	))
	defer span.End()
	_, err := command.RunNew(ctx, e.commands, e.jobs.ExecuteJobCommand(id, e.cfg.LockOwner))
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, jobs.ErrJobNotLocked) || errors.Is(err, jobs.ErrJobSuspended) {
		e.logger.Debug("job skipped", "job", id, "err", err)
		e.unlock(ctx, id)
		return
	}
	e.logger.Debug("job execution failed", "job", id, "err", err)
}

func (e *Executor) unlock(ctx context.Context, id int64) {
	if err := e.store.UnlockJob(context.WithoutCancel(ctx), id, e.cfg.LockOwner); err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.logger.Error("failed to unlock job", "job", id, "err", err)
	}
}
