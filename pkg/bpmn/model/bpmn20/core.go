// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package bpmn20 maps BPMN 2.0 XML onto Go structs and builds the executable
// process graph from them.
package bpmn20

import (
	"strings"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/model/extensions"
)

type TDefinitions struct {
	Id              string     `xml:"id,attr"`
	Name            string     `xml:"name,attr"`
	TargetNamespace string     `xml:"targetNamespace,attr"`
	Processes       []TProcess `xml:"process"`
}

type TBaseElement struct {
	// This attribute is used to uniquely identify BPMN elements.
	Id string `xml:"id,attr"`
}

type TFlowElement struct {
	TBaseElement
	Name string `xml:"name,attr"`
}

type TSequenceFlow struct {
	TFlowElement
	SourceRef           string       `xml:"sourceRef,attr"`
	TargetRef           string       `xml:"targetRef,attr"`
	ConditionExpression *TExpression `xml:"conditionExpression"`
}

type TExpression struct {
	Text string `xml:",chardata"`
}

func (e *TExpression) String() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.Text)
}

type TFlowNode struct {
	TFlowElement
	// async continuation markers of the different modeler dialects
	AsyncBefore string `xml:"asyncBefore,attr"`
	Async       string `xml:"async,attr"`
	Exclusive   string `xml:"exclusive,attr"`
}

func (fn TFlowNode) isAsync() bool {
	return fn.AsyncBefore == "true" || fn.Async == "true"
}

func (fn TFlowNode) isExclusive() bool {
	return fn.Exclusive != "false"
}

type TProcess struct {
	TFlowElement
	TFlowElementsContainer
	IsExecutable bool `xml:"isExecutable,attr"`
}

type TFlowElementsContainer struct {
	StartEvents            []TStartEvent             `xml:"startEvent"`
	EndEvents              []TEndEvent               `xml:"endEvent"`
	SequenceFlows          []TSequenceFlow           `xml:"sequenceFlow"`
	Tasks                  []TTask                   `xml:"task"`
	ManualTasks            []TTask                   `xml:"manualTask"`
	ServiceTasks           []TServiceTask            `xml:"serviceTask"`
	SendTasks              []TServiceTask            `xml:"sendTask"`
	BusinessRuleTasks      []TServiceTask            `xml:"businessRuleTask"`
	UserTasks              []TUserTask               `xml:"userTask"`
	ScriptTasks            []TScriptTask             `xml:"scriptTask"`
	ReceiveTasks           []TTask                   `xml:"receiveTask"`
	SubProcesses           []TSubProcess             `xml:"subProcess"`
	CallActivities         []TCallActivity           `xml:"callActivity"`
	ParallelGateways       []TGateway                `xml:"parallelGateway"`
	ExclusiveGateways      []TGateway                `xml:"exclusiveGateway"`
	InclusiveGateways      []TGateway                `xml:"inclusiveGateway"`
	BoundaryEvents         []TBoundaryEvent          `xml:"boundaryEvent"`
	IntermediateCatchEvent []TIntermediateCatchEvent `xml:"intermediateCatchEvent"`
}

type TStartEvent struct {
	TFlowNode
}

type TEndEvent struct {
	TFlowNode
	TerminateEventDefinition *struct{} `xml:"terminateEventDefinition"`
}

type TActivity struct {
	TFlowNode
	Default       string                             `xml:"default,attr"`
	MultiInstance *TMultiInstanceLoopCharacteristics `xml:"multiInstanceLoopCharacteristics"`
	Input         []extensions.TIoMapping            `xml:"extensionElements>ioMapping>input"`
	Output        []extensions.TIoMapping            `xml:"extensionElements>ioMapping>output"`
}

type TTask struct {
	TActivity
}

type TServiceTask struct {
	TActivity
	Type           string                     `xml:"type,attr"`
	TaskDefinition extensions.TTaskDefinition `xml:"extensionElements>taskDefinition"`
}

func (t TServiceTask) taskType() string {
	if t.TaskDefinition.TypeName != "" {
		return t.TaskDefinition.TypeName
	}
	return t.Type
}

type TUserTask struct {
	TActivity
	Assignee             string                           `xml:"assignee,attr"`
	CandidateGroups      string                           `xml:"candidateGroups,attr"`
	AssignmentDefinition extensions.TAssignmentDefinition `xml:"extensionElements>assignmentDefinition"`
}

type TScriptTask struct {
	TActivity
	ScriptFormat   string             `xml:"scriptFormat,attr"`
	ResultVariable string             `xml:"resultVariable,attr"`
	Script         string             `xml:"script"`
	ScriptDef      extensions.TScript `xml:"extensionElements>script"`
}

type TSubProcess struct {
	TActivity
	TFlowElementsContainer
}

type TCallActivity struct {
	TActivity
	CalledElementAttr string                    `xml:"calledElement,attr"`
	CalledElement     extensions.TCalledElement `xml:"extensionElements>calledElement"`
}

type TGateway struct {
	TFlowNode
	Default string `xml:"default,attr"`
}

type TBoundaryEvent struct {
	TFlowNode
	AttachedToRef        string                 `xml:"attachedToRef,attr"`
	CancelActivity       string                 `xml:"cancelActivity,attr"`
	TimerEventDefinition *TTimerEventDefinition `xml:"timerEventDefinition"`
}

type TIntermediateCatchEvent struct {
	TFlowNode
	TimerEventDefinition *TTimerEventDefinition `xml:"timerEventDefinition"`
}

type TTimerEventDefinition struct {
	Id           string       `xml:"id,attr"`
	TimeDuration *TExpression `xml:"timeDuration"`
	TimeDate     *TExpression `xml:"timeDate"`
	TimeCycle    *TExpression `xml:"timeCycle"`
}

type TMultiInstanceLoopCharacteristics struct {
	IsSequential        bool                            `xml:"isSequential,attr"`
	Collection          string                          `xml:"collection,attr"`
	ElementVariable     string                          `xml:"elementVariable,attr"`
	LoopCardinality     *TExpression                    `xml:"loopCardinality"`
	CompletionCondition *TExpression                    `xml:"completionCondition"`
	LoopCharacteristics extensions.TLoopCharacteristics `xml:"extensionElements>loopCharacteristics"`
}
