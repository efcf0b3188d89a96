// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobs

import (
	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/event"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/persistence"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FailedJobCommandFactory creates the command that records a failed job
// attempt. The command runs in its own transaction after the failed one was
// rolled back.
type FailedJobCommandFactory interface {
	FailedJobCommand(jobId int64, cause error) command.Command[struct{}]
}

type FailedJobCommandFactoryFunc func(jobId int64, cause error) command.Command[struct{}]

func (f FailedJobCommandFactoryFunc) FailedJobCommand(jobId int64, cause error) command.Command[struct{}] {
	return f(jobId, cause)
}

// DefaultFailedJobCommandFactory decrements the retries of the job and
// reschedules it with the backoff of the retry policy. A job failing with no
// retries left is dead.
type DefaultFailedJobCommandFactory struct {
	manager *Manager
}

func (f DefaultFailedJobCommandFactory) FailedJobCommand(jobId int64, cause error) command.Command[struct{}] {
	return command.NewNamed("DecrementJobRetries", func(cc *command.CommandContext) (struct{}, error) {
		return struct{}{}, f.manager.recordFailure(cc, jobId, cause)
	})
}

func (m *Manager) recordFailure(cc *command.CommandContext, jobId int64, cause error) error {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return err
	}
	job, err := s.FindJob(jobId)
	if err != nil {
		// deleted in the meantime
		m.logger.Debug("failed job no longer exists", "job", jobId)
		return nil
	}
	job.ExceptionMessage, job.ExceptionStackTrace = exceptionDetails(cause)
	job.LockOwner = ""
	job.LockExpirationTime = nil

	attrs := metric.WithAttributes(attribute.String(otel.AttributeJobHandler, job.HandlerType))
	if m.metrics != nil {
		m.metrics.JobsFailed.Add(cc.Context(), 1, attrs)
	}
	failure := jobEvent(event.JobExecutionFailure, job)
	failure.Err = cause
	if m.dispatcher != nil && m.dispatcher.Enabled(failure.Type) {
		if err := m.dispatcher.Dispatch(cc, failure); err != nil {
			return err
		}
	}

	if job.Retries <= 0 {
		job.State = runtime.JobStateDead
		m.logger.Warn("job moved to dead letter", "job", job.Id, "handler", job.HandlerType, "err", cause)
		if m.metrics != nil {
			m.metrics.JobsDead.Add(cc.Context(), 1, attrs)
		}
		return m.dispatch(cc, event.JobMovedToDeadLetter, job)
	}

	failures := m.policy.Retries - job.Retries + 1
	job.Retries--
	due := m.clock.Now().Add(m.policy.Backoff(failures))
	job.DueDate = &due
	m.logger.Info("job failed, retrying", "job", job.Id, "retries", job.Retries, "due", due, "err", cause)
	if err := m.dispatch(cc, event.JobRetriesDecremented, job); err != nil {
		return err
	}
	return m.hint(cc, job)
}
