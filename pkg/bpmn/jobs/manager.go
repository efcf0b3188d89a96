// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package jobs creates, executes and retries the asynchronous work items of
// the engine: timers, async continuations and event jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/persistence"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/clock"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Hinter is told about jobs that became executable and due in a committed
// command so that they can run without waiting for the next acquisition.
type Hinter interface {
	Hint(ctx context.Context, jobIds ...int64)
}

type Manager struct {
	registry   *Registry
	calendars  Calendars
	policy     RetryPolicy
	failed     FailedJobCommandFactory
	clock      clock.Clock
	dispatcher *event.Dispatcher
	metrics    *otel.EngineMetrics
	logger     hclog.Logger

	mu     sync.RWMutex
	hinter Hinter
}

type Option func(*Manager)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithCalendar adds or replaces a business calendar.
func WithCalendar(name string, cal BusinessCalendar) Option {
	return func(m *Manager) {
		m.calendars[name] = cal
	}
}

func WithFailedJobCommandFactory(f FailedJobCommandFactory) Option {
	return func(m *Manager) {
		m.failed = f
	}
}

func WithMetrics(metrics *otel.EngineMetrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func NewManager(registry *Registry, clk clock.Clock, dispatcher *event.Dispatcher, logger hclog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	m := &Manager{
		registry:   registry,
		calendars:  DefaultCalendars(),
		policy:     DefaultRetryPolicy(),
		clock:      clk,
		dispatcher: dispatcher,
		logger:     logger.Named("job-manager"),
	}
	m.failed = DefaultFailedJobCommandFactory{manager: m}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) RetryPolicy() RetryPolicy {
	return m.policy
}

func (m *Manager) Calendars() Calendars {
	return m.calendars
}

func (m *Manager) Clock() clock.Clock {
	return m.clock
}

// SetHinter replaces the receiver of wake hints, nil disables them.
func (m *Manager) SetHinter(h Hinter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hinter = h
}

func (m *Manager) currentHinter() Hinter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hinter
}

// CreateTimer schedules a timer job for activityId on exec. The due date is
// resolved by the calendar named in cfg.
func (m *Manager) CreateTimer(cc *command.CommandContext, exec *runtime.Execution, cfg TimerConfiguration, expression string) (*runtime.Job, error) {
	now := m.clock.Now()
	due, err := m.calendars.ResolveDueDate(cfg.CalendarName, expression, now)
	if err != nil {
		return nil, runtime.NewEngineErrorf("failed to resolve timer of activity %s: %s", cfg.ActivityId, err)
	}
	config, err := cfg.Marshal()
	if err != nil {
		return nil, err
	}
	job := newJob(exec, runtime.JobTypeTimer, HandlerTimerEvent, config)
	job.State = runtime.JobStateTimer
	job.DueDate = &due
	if cfg.CalendarName == model.CalendarCycle {
		job.Repeat = expression
	}
	if err := m.Schedule(cc, job); err != nil {
		return nil, err
	}
	return job, nil
}

// CreateAsyncContinuation schedules the execution of activityId on exec in a
// later transaction.
func (m *Manager) CreateAsyncContinuation(cc *command.CommandContext, exec *runtime.Execution, activityId string, exclusive bool) (*runtime.Job, error) {
	job := newJob(exec, runtime.JobTypeAsyncContinuation, HandlerAsyncContinuation, activityId)
	job.Exclusive = exclusive
	if err := m.Schedule(cc, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (m *Manager) CreateEventJob(cc *command.CommandContext, exec *runtime.Execution, cfg EventConfiguration) (*runtime.Job, error) {
	config, err := cfg.Marshal()
	if err != nil {
		return nil, err
	}
	job := newJob(exec, runtime.JobTypeMessage, HandlerEvent, config)
	if err := m.Schedule(cc, job); err != nil {
		return nil, err
	}
	return job, nil
}

func newJob(exec *runtime.Execution, jobType runtime.JobType, handlerType string, config string) *runtime.Job {
	return &runtime.Job{
		Type:                 jobType,
		State:                runtime.JobStateExecutable,
		ExecutionId:          exec.Id,
		ProcessInstanceId:    exec.ProcessInstanceId,
		ProcessDefinitionId:  exec.ProcessDefinitionId,
		HandlerType:          handlerType,
		HandlerConfiguration: config,
		Exclusive:            true,
	}
}

// Schedule inserts job. Jobs that are executable and due are handed to the
// hinter once the command committed.
func (m *Manager) Schedule(cc *command.CommandContext, job *runtime.Job) error {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return err
	}
	if job.CreateTime.IsZero() {
		job.CreateTime = m.clock.Now()
	}
	if job.Retries == 0 {
		job.Retries = m.policy.Retries
	}
	if err := s.InsertJob(job); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.JobsCreated.Add(cc.Context(), 1, metric.WithAttributes(attribute.String(otel.AttributeJobHandler, job.HandlerType)))
	}
	if job.Type == runtime.JobTypeTimer {
		if err := m.dispatch(cc, event.TimerScheduled, job); err != nil {
			return err
		}
	}
	return m.hint(cc, job)
}

// RepeatTimer schedules the next firing of a cycle timer. It returns nil when
// the cycle is exhausted or the next firing lies after the end date.
func (m *Manager) RepeatTimer(cc *command.CommandContext, job *runtime.Job) (*runtime.Job, error) {
	if job.Repeat == "" {
		return nil, nil
	}
	cycle, err := ParseCycle(job.Repeat)
	if err != nil {
		return nil, err
	}
	next, ok := cycle.Next()
	if !ok {
		return nil, nil
	}
	from := m.clock.Now()
	if job.DueDate != nil {
		from = *job.DueDate
	}
	due := cycle.Interval.Shift(from)
	cfg, err := ParseTimerConfiguration(job.HandlerConfiguration)
	if err != nil {
		return nil, err
	}
	if cfg.TimerEndDate != "" {
		end, err := parseDate(cfg.TimerEndDate)
		if err != nil {
			return nil, err
		}
		if due.After(end) {
			return nil, nil
		}
	}
	repeated := &runtime.Job{
		Type:                 job.Type,
		State:                runtime.JobStateTimer,
		ExecutionId:          job.ExecutionId,
		ProcessInstanceId:    job.ProcessInstanceId,
		ProcessDefinitionId:  job.ProcessDefinitionId,
		HandlerType:          job.HandlerType,
		HandlerConfiguration: job.HandlerConfiguration,
		DueDate:              &due,
		Repeat:               next,
		Exclusive:            job.Exclusive,
	}
	if err := m.Schedule(cc, repeated); err != nil {
		return nil, err
	}
	return repeated, nil
}

// DeleteJobsOfExecution removes every job of the execution, for example when
// the scope owning a boundary timer ends.
func (m *Manager) DeleteJobsOfExecution(cc *command.CommandContext, executionId int64) error {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return err
	}
	jobs, err := s.JobsByExecution(executionId)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := s.DeleteJob(j); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteJobCommand runs one job. With an empty LockOwner the job runs
// regardless of its lock, which is what manual execution does.
func (m *Manager) ExecuteJobCommand(jobId int64, lockOwner string) command.Command[struct{}] {
	return command.NewNamed("ExecuteJob", func(cc *command.CommandContext) (struct{}, error) {
		return struct{}{}, m.execute(cc, jobId, lockOwner)
	})
}

func (m *Manager) execute(cc *command.CommandContext, jobId int64, lockOwner string) error {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return err
	}
	job, err := s.FindJob(jobId)
	if err != nil {
		return fmt.Errorf("failed to find job %d: %w", jobId, err)
	}
	if job.State == runtime.JobStateSuspended {
		return fmt.Errorf("failed to execute job %d: %w", jobId, ErrJobSuspended)
	}
	if lockOwner != "" && job.LockOwner != lockOwner {
		return fmt.Errorf("failed to execute job %d: %w", jobId, ErrJobNotLocked)
	}
	cc.AddCloseListener(command.CloseListenerFuncs{
		OnClosed: func(cc *command.CommandContext) {
			if m.metrics != nil {
				m.metrics.JobsExecuted.Add(cc.Context(), 1, metric.WithAttributes(attribute.String(otel.AttributeJobHandler, job.HandlerType)))
			}
		},
		OnCloseFailure: func(cc *command.CommandContext) {
			m.handleFailure(cc, jobId, cc.Failure())
		},
	})
	handler, err := m.registry.Get(job.HandlerType)
	if err != nil {
		return err
	}
	if err := handler.Execute(cc, job); err != nil {
		return err
	}
	// the handler may have removed the job together with its execution
	if current, err := s.FindJob(jobId); err == nil {
		if err := s.DeleteJob(current); err != nil {
			return err
		}
	}
	return m.dispatch(cc, event.JobExecutionSuccess, job)
}

func (m *Manager) handleFailure(cc *command.CommandContext, jobId int64, cause error) {
	ctx := context.WithoutCancel(cc.Context())
	cmd := m.failed.FailedJobCommand(jobId, cause)
	if command.IsOptimisticLockingFailure(cause) {
		// another transaction changed the instance, the attempt does not count
		cmd = m.unlockCommand(jobId)
	}
	if _, err := command.RunNew(ctx, cc.Executor(), cmd); err != nil {
		m.logger.Error("failed to record job failure", "job", jobId, "cause", cause, "err", err)
	}
}

func (m *Manager) unlockCommand(jobId int64) command.Command[struct{}] {
	return command.NewNamed("UnlockJob", func(cc *command.CommandContext) (struct{}, error) {
		s, err := persistence.FromCommand(cc)
		if err != nil {
			return struct{}{}, err
		}
		job, err := s.FindJob(jobId)
		if err != nil {
			return struct{}{}, nil
		}
		job.LockOwner = ""
		job.LockExpirationTime = nil
		return struct{}{}, m.hint(cc, job)
	})
}

// PromoteTimer makes a due timer job executable.
func (m *Manager) PromoteTimer(cc *command.CommandContext, jobId int64) (bool, error) {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return false, err
	}
	job, err := s.FindJob(jobId)
	if err != nil {
		return false, err
	}
	if job.State != runtime.JobStateTimer || !job.IsDue(m.clock.Now()) {
		return false, nil
	}
	job.State = runtime.JobStateExecutable
	return true, nil
}

func (m *Manager) hint(cc *command.CommandContext, job *runtime.Job) error {
	if job.State != runtime.JobStateExecutable || !job.IsDue(m.clock.Now()) {
		return nil
	}
	s, err := command.GetSession[*Session](cc, SessionName)
	if err != nil {
		return err
	}
	s.hints = append(s.hints, job.Id)
	return nil
}

func (m *Manager) dispatch(cc *command.CommandContext, t event.Type, job *runtime.Job) error {
	if m.dispatcher == nil || !m.dispatcher.Enabled(t) {
		return nil
	}
	return m.dispatcher.Dispatch(cc, jobEvent(t, job))
}

func jobEvent(t event.Type, job *runtime.Job) event.Event {
	return event.Event{
		Type:                t,
		ProcessInstanceId:   job.ProcessInstanceId,
		ExecutionId:         job.ExecutionId,
		ProcessDefinitionId: job.ProcessDefinitionId,
		JobId:               job.Id,
		Entity:              *job,
	}
}

func exceptionDetails(cause error) (string, string) {
	if cause == nil {
		return "", ""
	}
	var p *command.PanicError
	if errors.As(cause, &p) {
		return cause.Error(), p.Stack
	}
	return cause.Error(), ""
}
