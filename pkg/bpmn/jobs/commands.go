// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobs

import (
	"errors"
	"fmt"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/persistence"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

var (
	ErrJobLocked  = errors.New("job is locked by the async executor")
	ErrJobNotDead = errors.New("job is not in the dead letter state")
)

// SetJobRetries replaces the remaining retries. Dead jobs given retries become
// executable again.
func (m *Manager) SetJobRetries(cc *command.CommandContext, jobId int64, retries int) error {
	if retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", retries)
	}
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return err
	}
	job, err := s.FindJob(jobId)
	if err != nil {
		return err
	}
	job.Retries = retries
	if job.State == runtime.JobStateDead && retries > 0 {
		return m.revive(cc, job)
	}
	return nil
}

// MoveDeadJobToExecutable gives a dead job retries and makes it due now.
func (m *Manager) MoveDeadJobToExecutable(cc *command.CommandContext, jobId int64, retries int) error {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return err
	}
	job, err := s.FindJob(jobId)
	if err != nil {
		return err
	}
	if job.State != runtime.JobStateDead {
		return fmt.Errorf("failed to move job %d: %w", jobId, ErrJobNotDead)
	}
	job.Retries = max(retries, 0)
	return m.revive(cc, job)
}

func (m *Manager) revive(cc *command.CommandContext, job *runtime.Job) error {
	job.State = runtime.JobStateExecutable
	job.DueDate = nil
	job.LockOwner = ""
	job.LockExpirationTime = nil
	return m.hint(cc, job)
}

// DeleteJob removes a job that is not currently executed.
func (m *Manager) DeleteJob(cc *command.CommandContext, jobId int64) error {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return err
	}
	job, err := s.FindJob(jobId)
	if err != nil {
		return err
	}
	if job.IsLocked(m.clock.Now()) {
		return fmt.Errorf("failed to delete job %d: %w", jobId, ErrJobLocked)
	}
	return s.DeleteJob(job)
}

// SuspendJobs hides the jobs of a process instance from acquisition. Dead
// jobs keep their state.
func (m *Manager) SuspendJobs(cc *command.CommandContext, processInstanceId int64) error {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return err
	}
	jobs, err := s.JobsByProcessInstance(processInstanceId)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.State == runtime.JobStateTimer || j.State == runtime.JobStateExecutable {
			j.State = runtime.JobStateSuspended
		}
	}
	return nil
}

// ActivateJobs reverts SuspendJobs. Timers that are not due yet go back to
// the timer state.
func (m *Manager) ActivateJobs(cc *command.CommandContext, processInstanceId int64) error {
	s, err := persistence.FromCommand(cc)
	if err != nil {
		return err
	}
	jobs, err := s.JobsByProcessInstance(processInstanceId)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	for _, j := range jobs {
		if j.State != runtime.JobStateSuspended {
			continue
		}
		if j.Type == runtime.JobTypeTimer && !j.IsDue(now) {
			j.State = runtime.JobStateTimer
			continue
		}
		j.State = runtime.JobStateExecutable
		if err := m.hint(cc, j); err != nil {
			return err
		}
	}
	return nil
}
