// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"errors"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

// Handlers drain the agenda before returning, the job is deleted only after
// its operations ran.
func (it *Interpreter) registerJobHandlers(r *jobs.Registry) {
	r.Register(jobs.HandlerTimerEvent, jobs.HandlerFunc(it.executeTimer))
	r.Register(jobs.HandlerAsyncContinuation, jobs.HandlerFunc(it.executeAsyncContinuation))
	r.Register(jobs.HandlerEvent, jobs.HandlerFunc(it.executeEvent))
}

// jobExecution loads the execution of job together with its tree. A nil
// execution means the job outlived it.
func (it *Interpreter) jobExecution(cc *command.CommandContext, job *runtime.Job) (*Context, *runtime.Execution, error) {
	c, err := it.ContextOf(cc)
	if err != nil {
		return nil, nil, err
	}
	exec, err := c.session.FindExecution(job.ExecutionId)
	if errors.Is(err, storage.ErrNotFound) {
		it.logger.Warn("execution of job is gone", "jobId", job.Id, "executionId", job.ExecutionId)
		return c, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if _, err := c.Tree(exec); err != nil {
		return nil, nil, err
	}
	return c, exec, nil
}

func (it *Interpreter) executeTimer(cc *command.CommandContext, job *runtime.Job) error {
	cfg, err := jobs.ParseTimerConfiguration(job.HandlerConfiguration)
	if err != nil {
		return err
	}
	c, exec, err := it.jobExecution(cc, job)
	if err != nil || exec == nil {
		return err
	}
	c.Plan(TriggerTimer{Execution: exec, Job: job, Config: cfg})
	return c.drain()
}

func (it *Interpreter) executeAsyncContinuation(cc *command.CommandContext, job *runtime.Job) error {
	c, exec, err := it.jobExecution(cc, job)
	if err != nil || exec == nil {
		return err
	}
	_, a, err := c.activity(exec, job.HandlerConfiguration)
	if err != nil {
		return err
	}
	c.Plan(ExecuteActivity{Execution: exec, Activity: a, SkipAsync: true})
	return c.drain()
}

func (it *Interpreter) executeEvent(cc *command.CommandContext, job *runtime.Job) error {
	cfg, err := jobs.ParseEventConfiguration(job.HandlerConfiguration)
	if err != nil {
		return err
	}
	c, exec, err := it.jobExecution(cc, job)
	if err != nil || exec == nil {
		return err
	}
	if cfg.ActivityId != "" && exec.ActivityId != cfg.ActivityId {
		return runtime.NewEngineErrorf("execution %d left activity %s before event %s arrived", exec.Id, cfg.ActivityId, cfg.EventName)
	}
	c.Plan(SignalExecution{Execution: exec, Signal: cfg.EventName, Data: cfg.Payload})
	return c.drain()
}
