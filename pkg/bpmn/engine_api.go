// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/deployment"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/pvm"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

// run executes fn as one command with the interpreter context of that command.
func run[T any](ctx context.Context, engine *Engine, name string, fn func(c *pvm.Context) (T, error)) (T, error) {
	return command.Run(ctx, engine.commands, command.NewNamed(name, func(cc *command.CommandContext) (T, error) {
		c, err := engine.interp.ContextOf(cc)
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(c)
	}))
}

func exec(ctx context.Context, engine *Engine, name string, fn func(c *pvm.Context) error) error {
	_, err := run(ctx, engine, name, func(c *pvm.Context) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}

// Execute runs fn as a command of this engine. Nested calls of the engine API
// from within fn join the same transaction.
func (engine *Engine) Execute(ctx context.Context, fn func(cc *command.CommandContext) error) error {
	_, err := command.Run(ctx, engine.commands, command.Func[struct{}](func(cc *command.CommandContext) (struct{}, error) {
		return struct{}{}, fn(cc)
	}))
	return err
}

// Deploy stores the resources of b and makes their processes startable.
func (engine *Engine) Deploy(ctx context.Context, b *deployment.Builder) (deployment.Result, error) {
	return run(ctx, engine, "Deploy", func(c *pvm.Context) (deployment.Result, error) {
		return engine.deployments.Deploy(c.Command(), b)
	})
}

// DeployResource deploys a single BPMN file and skips it when it is unchanged.
func (engine *Engine) DeployResource(ctx context.Context, name string, data []byte) (deployment.Result, error) {
	return engine.Deploy(ctx, deployment.NewBuilder(name).AddResource(name, data).EnableDuplicateFiltering())
}

// DeleteDeployment removes a deployment. With cascade its running process
// instances are deleted, otherwise they make the call fail with deployment.ErrDeploymentInUse.
func (engine *Engine) DeleteDeployment(ctx context.Context, id int64, cascade bool) error {
	return exec(ctx, engine, "DeleteDeployment", func(c *pvm.Context) error {
		return engine.deployments.DeleteDeployment(c.Command(), id, cascade, engine.removeInstance)
	})
}

func (engine *Engine) removeInstance(cc *command.CommandContext, processInstance *runtime.Execution, reason string) error {
	c, err := engine.interp.ContextOf(cc)
	if err != nil {
		return err
	}
	return c.DeleteProcessInstance(processInstance, reason)
}

// ProcessDefinition returns the parsed graph of a deployed process.
func (engine *Engine) ProcessDefinition(ctx context.Context, id string) (*model.ProcessDefinition, error) {
	return run(ctx, engine, "ProcessDefinition", func(c *pvm.Context) (*model.ProcessDefinition, error) {
		return engine.deployments.ProcessDefinition(c.Command(), id)
	})
}

// StartProcessInstanceByKey starts the latest version of the process with key.
func (engine *Engine) StartProcessInstanceByKey(ctx context.Context, key string, businessKey string, variables map[string]any) (*runtime.ProcessInstance, error) {
	return run(ctx, engine, "StartProcessInstanceByKey", func(c *pvm.Context) (*runtime.ProcessInstance, error) {
		def, err := engine.deployments.Latest(c.Command(), key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, errors.Join(newEngineErrorf("no process with key=%s was deployed", key), err)
			}
			return nil, err
		}
		return engine.start(c, def, businessKey, variables)
	})
}

func (engine *Engine) StartProcessInstanceById(ctx context.Context, processDefinitionId string, businessKey string, variables map[string]any) (*runtime.ProcessInstance, error) {
	return run(ctx, engine, "StartProcessInstanceById", func(c *pvm.Context) (*runtime.ProcessInstance, error) {
		def, err := engine.deployments.ProcessDefinition(c.Command(), processDefinitionId)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, errors.Join(newEngineErrorf("no process definition with id=%s was deployed", processDefinitionId), err)
			}
			return nil, err
		}
		return engine.start(c, def, businessKey, variables)
	})
}

// start returns a read model that is filled in when the command closes, after
// the agenda ran up to the first wait states.
func (engine *Engine) start(c *pvm.Context, def *model.ProcessDefinition, businessKey string, variables map[string]any) (*runtime.ProcessInstance, error) {
	root, err := c.StartProcessInstance(def, pvm.StartOptions{BusinessKey: businessKey, Variables: variables})
	if err != nil {
		return nil, err
	}
	pi := &runtime.ProcessInstance{}
	c.Command().AddCloseListener(command.CloseListenerFuncs{
		OnClosing: func(cc *command.CommandContext) error {
			*pi = processInstanceOf(root)
			return nil
		},
	})
	return pi, nil
}

func processInstanceOf(root *runtime.Execution) runtime.ProcessInstance {
	return runtime.ProcessInstance{
		Id:                  root.Id,
		ProcessDefinitionId: root.ProcessDefinitionId,
		BusinessKey:         root.BusinessKey,
		SuperExecutionId:    root.SuperExecutionId,
		StartTime:           root.StartTime,
		Ended:               root.IsEnded,
		Suspended:           root.Suspended,
	}
}

func (engine *Engine) processInstance(c *pvm.Context, id int64) (*runtime.Execution, error) {
	root, err := c.Session().FindExecution(id)
	if err != nil {
		return nil, fmt.Errorf("failed to find process instance %d: %w", id, err)
	}
	if !root.IsProcessInstance() {
		return nil, newEngineErrorf("execution %d is not a process instance", id)
	}
	return root, nil
}

// DeleteProcessInstance cancels every execution of the instance and its called
// instances. Only root instances can be deleted.
func (engine *Engine) DeleteProcessInstance(ctx context.Context, processInstanceId int64, reason string) error {
	return exec(ctx, engine, "DeleteProcessInstance", func(c *pvm.Context) error {
		root, err := engine.processInstance(c, processInstanceId)
		if err != nil {
			return err
		}
		if root.SuperExecutionId != 0 {
			return newEngineErrorf("cannot delete process instance %d, it is called by execution %d", root.Id, root.SuperExecutionId)
		}
		return c.DeleteProcessInstance(root, reason)
	})
}

func (engine *Engine) SuspendProcessInstance(ctx context.Context, processInstanceId int64) error {
	return exec(ctx, engine, "SuspendProcessInstance", func(c *pvm.Context) error {
		root, err := engine.processInstance(c, processInstanceId)
		if err != nil {
			return err
		}
		return c.SuspendProcessInstance(root)
	})
}

func (engine *Engine) ActivateProcessInstance(ctx context.Context, processInstanceId int64) error {
	return exec(ctx, engine, "ActivateProcessInstance", func(c *pvm.Context) error {
		root, err := engine.processInstance(c, processInstanceId)
		if err != nil {
			return err
		}
		return c.ActivateProcessInstance(root)
	})
}

// CompleteTask sets variables on the process instance and lets the task's execution continue.
func (engine *Engine) CompleteTask(ctx context.Context, taskId int64, variables map[string]any) error {
	return exec(ctx, engine, "CompleteTask", func(c *pvm.Context) error {
		task, err := c.Session().FindTask(taskId)
		if err != nil {
			return fmt.Errorf("failed to find task %d: %w", taskId, err)
		}
		return c.CompleteTask(task, variables)
	})
}

// ClaimTask assigns the task to user. It fails with pvm.ErrTaskClaimed when
// somebody else holds it.
func (engine *Engine) ClaimTask(ctx context.Context, taskId int64, user string) error {
	return exec(ctx, engine, "ClaimTask", func(c *pvm.Context) error {
		task, err := c.Session().FindTask(taskId)
		if err != nil {
			return fmt.Errorf("failed to find task %d: %w", taskId, err)
		}
		return c.ClaimTask(task, user)
	})
}

func (engine *Engine) UnclaimTask(ctx context.Context, taskId int64) error {
	return exec(ctx, engine, "UnclaimTask", func(c *pvm.Context) error {
		task, err := c.Session().FindTask(taskId)
		if err != nil {
			return fmt.Errorf("failed to find task %d: %w", taskId, err)
		}
		return c.UnclaimTask(task)
	})
}

// Signal delivers signal to a waiting execution in the current transaction.
func (engine *Engine) Signal(ctx context.Context, executionId int64, signal string, data map[string]any) error {
	return exec(ctx, engine, "Signal", func(c *pvm.Context) error {
		e, err := c.Session().FindExecution(executionId)
		if err != nil {
			return fmt.Errorf("failed to find execution %d: %w", executionId, err)
		}
		return c.Signal(e, signal, data)
	})
}

// SignalAsync creates a job that delivers signal later and returns its id.
func (engine *Engine) SignalAsync(ctx context.Context, executionId int64, signal string, data map[string]any) (int64, error) {
	return run(ctx, engine, "SignalAsync", func(c *pvm.Context) (int64, error) {
		e, err := c.Session().FindExecution(executionId)
		if err != nil {
			return 0, fmt.Errorf("failed to find execution %d: %w", executionId, err)
		}
		job, err := c.SignalAsync(e, signal, data)
		if err != nil {
			return 0, err
		}
		return job.Id, nil
	})
}

func (engine *Engine) scope(c *pvm.Context, executionId int64) (*runtime.VariableScope, error) {
	e, err := c.Session().FindExecution(executionId)
	if err != nil {
		return nil, fmt.Errorf("failed to find execution %d: %w", executionId, err)
	}
	return c.Scope(e)
}

// SetVariable updates the nearest definition visible from the execution or
// creates the variable on the execution itself.
func (engine *Engine) SetVariable(ctx context.Context, executionId int64, name string, value any) error {
	return exec(ctx, engine, "SetVariable", func(c *pvm.Context) error {
		scope, err := engine.scope(c, executionId)
		if err != nil {
			return err
		}
		return scope.SetVariable(name, value)
	})
}

func (engine *Engine) SetVariableLocal(ctx context.Context, executionId int64, name string, value any) error {
	return exec(ctx, engine, "SetVariableLocal", func(c *pvm.Context) error {
		scope, err := engine.scope(c, executionId)
		if err != nil {
			return err
		}
		return scope.SetVariableLocal(name, value)
	})
}

// GetVariable returns nil for variables that are not visible from the execution.
func (engine *Engine) GetVariable(ctx context.Context, executionId int64, name string) (any, error) {
	return run(ctx, engine, "GetVariable", func(c *pvm.Context) (any, error) {
		scope, err := engine.scope(c, executionId)
		if err != nil {
			return nil, err
		}
		return scope.GetVariable(name)
	})
}

// GetVariables returns every variable visible from the execution, inner scopes shadowing outer ones.
func (engine *Engine) GetVariables(ctx context.Context, executionId int64) (map[string]any, error) {
	return run(ctx, engine, "GetVariables", func(c *pvm.Context) (map[string]any, error) {
		scope, err := engine.scope(c, executionId)
		if err != nil {
			return nil, err
		}
		return scope.Variables()
	})
}

// ExecuteJob runs a job now regardless of its due date and lock. Failures are
// recorded on the job and returned.
func (engine *Engine) ExecuteJob(ctx context.Context, jobId int64) error {
	_, err := command.RunNew(ctx, engine.commands, engine.jobs.ExecuteJobCommand(jobId, ""))
	return err
}

func (engine *Engine) SetJobRetries(ctx context.Context, jobId int64, retries int) error {
	return exec(ctx, engine, "SetJobRetries", func(c *pvm.Context) error {
		return engine.jobs.SetJobRetries(c.Command(), jobId, retries)
	})
}

// MoveDeadJobToExecutable revives a job that exhausted its retries.
func (engine *Engine) MoveDeadJobToExecutable(ctx context.Context, jobId int64, retries int) error {
	return exec(ctx, engine, "MoveDeadJobToExecutable", func(c *pvm.Context) error {
		return engine.jobs.MoveDeadJobToExecutable(c.Command(), jobId, retries)
	})
}

func (engine *Engine) DeleteJob(ctx context.Context, jobId int64) error {
	return exec(ctx, engine, "DeleteJob", func(c *pvm.Context) error {
		return engine.jobs.DeleteJob(c.Command(), jobId)
	})
}

// FindProcessInstance reads committed state and fails with storage.ErrNotFound for ended instances.
func (engine *Engine) FindProcessInstance(ctx context.Context, id int64) (runtime.ProcessInstance, error) {
	root, err := engine.store.FindExecutionById(ctx, id)
	if err != nil {
		return runtime.ProcessInstance{}, err
	}
	if !root.IsProcessInstance() {
		return runtime.ProcessInstance{}, newEngineErrorf("execution %d is not a process instance", id)
	}
	return processInstanceOf(&root), nil
}

// FindProcessInstances returns running instances, of every process when processDefinitionId is empty.
func (engine *Engine) FindProcessInstances(ctx context.Context, processDefinitionId string) ([]runtime.ProcessInstance, error) {
	roots, err := engine.store.FindProcessInstances(ctx, processDefinitionId)
	if err != nil {
		return nil, err
	}
	res := make([]runtime.ProcessInstance, 0, len(roots))
	for i := range roots {
		res = append(res, processInstanceOf(&roots[i]))
	}
	return res, nil
}

func (engine *Engine) FindExecutions(ctx context.Context, processInstanceId int64) ([]runtime.Execution, error) {
	return engine.store.FindExecutionsByProcessInstanceId(ctx, processInstanceId)
}

func (engine *Engine) FindTasks(ctx context.Context, filter storage.TaskFilter) ([]runtime.Task, error) {
	return engine.store.FindTasks(ctx, filter)
}

func (engine *Engine) FindJobs(ctx context.Context, processInstanceId int64) ([]runtime.Job, error) {
	return engine.store.FindJobsByProcessInstanceId(ctx, processInstanceId)
}

// FindDeadJobs lists jobs waiting for MoveDeadJobToExecutable.
func (engine *Engine) FindDeadJobs(ctx context.Context) ([]runtime.Job, error) {
	return engine.store.FindJobsByState(ctx, runtime.JobStateDead)
}

func (engine *Engine) FindDeployments(ctx context.Context) ([]runtime.Deployment, error) {
	return engine.store.FindDeployments(ctx)
}
