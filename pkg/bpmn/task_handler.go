// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"github.com/pbinitiative/zenpvm/pkg/bpmn/pvm"
)

// ActivatedJob is what a service task handler sees of the running execution.
type ActivatedJob = pvm.DelegateExecution

type taskHandlerType string

const (
	taskHandlerForId   taskHandlerType = "TASK_HANDLER_ID"
	taskHandlerForType taskHandlerType = "TASK_HANDLER_TYPE"
)

type newTaskHandlerCommand struct {
	handlerType taskHandlerType
	key         string
	delegates   *pvm.Delegates
}

type NewTaskHandlerCommand2 interface {
	// Handler is the actual handler to be executed. A returned error rolls back
	// the transaction; for async service tasks the job is retried.
	Handler(func(job *ActivatedJob) error)
}

type NewTaskHandlerCommand1 interface {
	// Id defines a handler for a given element ID (as defined in the task element in the BPMN file)
	// This is 1:1 relation between a handler and a task definition (since IDs are supposed to be unique).
	Id(id string) NewTaskHandlerCommand2

	// Type defines a handler for a Service Task with a given 'type';
	// Hereby 'type' is defined as 'taskDefinition' extension element in the BPMN file.
	// This allows a single handler to be used for multiple task definitions.
	Type(taskType string) NewTaskHandlerCommand2
}

// NewTaskHandler registers a handler function to be called for service tasks.
// Handlers for an element ID win over handlers for a type.
func (engine *Engine) NewTaskHandler() NewTaskHandlerCommand1 {
	return newTaskHandlerCommand{delegates: engine.delegates}
}

// Id implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) Id(id string) NewTaskHandlerCommand2 {
	thc.handlerType = taskHandlerForId
	thc.key = id
	return thc
}

// Type implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) Type(taskType string) NewTaskHandlerCommand2 {
	thc.handlerType = taskHandlerForType
	thc.key = taskType
	return thc
}

// Handler implements NewTaskHandlerCommand2
func (thc newTaskHandlerCommand) Handler(f func(job *ActivatedJob) error) {
	switch thc.handlerType {
	case taskHandlerForId:
		thc.delegates.RegisterActivity(thc.key, f)
	case taskHandlerForType:
		thc.delegates.RegisterType(thc.key, f)
	}
}
