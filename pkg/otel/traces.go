// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

const (
	TracerName = "zenpvm"

	Prefix                        = "bpmn-"
	AttributeProcessInstanceId    = Prefix + "instance-id"
	AttributeProcessDefinitionId  = Prefix + "definition-id"
	AttributeProcessDefinitionKey = Prefix + "definition-key"
	AttributeExecutionId          = Prefix + "execution-id"
	AttributeActivityId           = Prefix + "activity-id"
	AttributeActivityKind         = Prefix + "activity-kind"
	AttributeJobId                = Prefix + "job-id"
	AttributeJobHandler           = Prefix + "job-handler"
	AttributeJobRetries           = Prefix + "job-retries"
	AttributeCommand              = Prefix + "command"
	AttributePropagation          = Prefix + "propagation"
)
