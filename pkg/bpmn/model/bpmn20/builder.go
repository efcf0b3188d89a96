// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model/extensions"
)

// Parse unmarshals a BPMN document and builds one graph per executable process.
// Version, DeploymentId and Id are left for the deployer to fill in.
func Parse(xmlData []byte) ([]*model.ProcessDefinition, error) {
	var definitions TDefinitions
	if err := xml.Unmarshal(xmlData, &definitions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal xml data: %w", err)
	}
	if len(definitions.Processes) == 0 {
		return nil, errors.New("document contains no process")
	}
	res := make([]*model.ProcessDefinition, 0, len(definitions.Processes))
	for i := range definitions.Processes {
		p := &definitions.Processes[i]
		def, err := buildProcess(p)
		if err != nil {
			return nil, fmt.Errorf("failed to build process %s: %w", p.Id, err)
		}
		res = append(res, def)
	}
	return res, nil
}

type graphBuilder struct {
	def *model.ProcessDefinition
}

func buildProcess(p *TProcess) (*model.ProcessDefinition, error) {
	if p.Id == "" {
		return nil, errors.New("process has no id")
	}
	b := graphBuilder{def: &model.ProcessDefinition{Key: p.Id, Name: p.Name}}
	b.container(&p.TFlowElementsContainer, "")
	if err := b.def.Build(); err != nil {
		return nil, err
	}
	return b.def, nil
}

func (b *graphBuilder) add(a *model.Activity) *model.Activity {
	b.def.Activities = append(b.def.Activities, a)
	return a
}

func (b *graphBuilder) container(c *TFlowElementsContainer, parentId string) {
	for _, e := range c.StartEvents {
		b.add(node(e.TFlowNode, model.KindNoneStart, parentId))
	}
	for _, e := range c.EndEvents {
		kind := model.KindEndEvent
		if e.TerminateEventDefinition != nil {
			kind = model.KindTerminateEndEvent
		}
		b.add(node(e.TFlowNode, kind, parentId))
	}
	for _, e := range c.Tasks {
		b.activity(e.TActivity, model.KindManualTask, parentId)
	}
	for _, e := range c.ManualTasks {
		b.activity(e.TActivity, model.KindManualTask, parentId)
	}
	for _, list := range [][]TServiceTask{c.ServiceTasks, c.SendTasks, c.BusinessRuleTasks} {
		for _, e := range list {
			a := b.activity(e.TActivity, model.KindServiceTask, parentId)
			a.TaskType = e.taskType()
		}
	}
	for _, e := range c.UserTasks {
		a := b.activity(e.TActivity, model.KindUserTask, parentId)
		a.Assignee = e.Assignee
		if e.AssignmentDefinition.Assignee != "" {
			a.Assignee = e.AssignmentDefinition.Assignee
		}
		a.CandidateGroups = extensions.SplitList(e.CandidateGroups)
		if groups := e.AssignmentDefinition.GetCandidateGroups(); len(groups) > 0 {
			a.CandidateGroups = groups
		}
	}
	for _, e := range c.ScriptTasks {
		a := b.activity(e.TActivity, model.KindScriptTask, parentId)
		a.ScriptFormat = strings.ToLower(e.ScriptFormat)
		a.Script = strings.TrimSpace(e.Script)
		a.ResultVariable = e.ResultVariable
		if e.ScriptDef.Expression != "" {
			a.ScriptFormat = "feel"
			a.Script = e.ScriptDef.Expression
			a.ResultVariable = e.ScriptDef.ResultVariable
		}
		if a.ScriptFormat == "" {
			a.ScriptFormat = "javascript"
		}
	}
	for _, e := range c.ReceiveTasks {
		b.activity(e.TActivity, model.KindReceiveTask, parentId)
	}
	for i := range c.SubProcesses {
		e := &c.SubProcesses[i]
		b.activity(e.TActivity, model.KindSubProcess, parentId)
		b.container(&e.TFlowElementsContainer, e.Id)
	}
	for _, e := range c.CallActivities {
		a := b.activity(e.TActivity, model.KindCallActivity, parentId)
		a.CalledElement = e.CalledElementAttr
		if e.CalledElement.ProcessId != "" {
			a.CalledElement = e.CalledElement.ProcessId
		}
	}
	for _, e := range c.ParallelGateways {
		b.add(node(e.TFlowNode, model.KindParallelGateway, parentId))
	}
	for _, e := range c.ExclusiveGateways {
		a := b.add(node(e.TFlowNode, model.KindExclusiveGateway, parentId))
		a.DefaultTransitionId = e.Default
	}
	for _, e := range c.InclusiveGateways {
		a := b.add(node(e.TFlowNode, model.KindInclusiveGateway, parentId))
		a.DefaultTransitionId = e.Default
	}
	for _, e := range c.BoundaryEvents {
		a := b.add(node(e.TFlowNode, model.KindBoundaryTimer, parentId))
		a.AttachedToId = e.AttachedToRef
		a.CancelActivity = e.CancelActivity != "false"
		a.Timer = timer(e.TimerEventDefinition)
	}
	for _, e := range c.IntermediateCatchEvent {
		a := b.add(node(e.TFlowNode, model.KindIntermediateTimer, parentId))
		a.Timer = timer(e.TimerEventDefinition)
	}
	for _, f := range c.SequenceFlows {
		b.def.Transitions = append(b.def.Transitions, &model.Transition{
			Id:            f.Id,
			SourceId:      f.SourceRef,
			DestinationId: f.TargetRef,
			Condition:     f.ConditionExpression.String(),
		})
	}
}

func (b *graphBuilder) activity(e TActivity, kind model.BehaviorKind, parentId string) *model.Activity {
	a := node(e.TFlowNode, kind, parentId)
	a.DefaultTransitionId = e.Default
	a.InputMappings = mappings(e.Input)
	a.OutputMappings = mappings(e.Output)
	if mi := e.MultiInstance; mi != nil {
		a.MultiInstance = &model.MultiInstance{
			Sequential:          mi.IsSequential,
			Cardinality:         mi.LoopCardinality.String(),
			Collection:          mi.Collection,
			ElementVariable:     mi.ElementVariable,
			CompletionCondition: mi.CompletionCondition.String(),
			OutputCollection:    mi.LoopCharacteristics.OutputCollection,
			OutputElement:       mi.LoopCharacteristics.OutputElement,
		}
		if mi.LoopCharacteristics.InputCollection != "" {
			a.MultiInstance.Collection = mi.LoopCharacteristics.InputCollection
			a.MultiInstance.ElementVariable = mi.LoopCharacteristics.InputElement
		}
	}
	return b.add(a)
}

func node(fn TFlowNode, kind model.BehaviorKind, parentId string) *model.Activity {
	return &model.Activity{
		Id:          fn.Id,
		Name:        fn.Name,
		Kind:        kind,
		ParentId:    parentId,
		AsyncBefore: fn.isAsync(),
		Exclusive:   fn.isExclusive(),
	}
}

func timer(t *TTimerEventDefinition) *model.TimerDefinition {
	if t == nil {
		return nil
	}
	return &model.TimerDefinition{
		Duration: t.TimeDuration.String(),
		Date:     t.TimeDate.String(),
		Cycle:    t.TimeCycle.String(),
	}
}

func mappings(in []extensions.TIoMapping) []model.Mapping {
	if len(in) == 0 {
		return nil
	}
	res := make([]model.Mapping, 0, len(in))
	for _, m := range in {
		res = append(res, model.Mapping{Source: m.Source, Target: m.Target})
	}
	return res
}
