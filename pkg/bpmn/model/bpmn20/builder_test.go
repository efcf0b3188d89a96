// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn20

import (
	"os"
	"testing"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFile(t *testing.T, name string) []*model.ProcessDefinition {
	data, err := os.ReadFile("../../test-cases/" + name)
	require.NoError(t, err)
	defs, err := Parse(data)
	require.NoError(t, err)
	return defs
}

func TestExclusiveGatewayKeepsFlowOrderAndDefault(t *testing.T) {
	defs := parseFile(t, "exclusive-gateway.bpmn")
	require.Len(t, defs, 1)
	def := defs[0]

	assert.Equal(t, "exclusive-gateway", def.Key)
	assert.Equal(t, "start", def.InitialActivityId)

	gw := def.Activity("gw")
	require.NotNil(t, gw)
	assert.Equal(t, model.KindExclusiveGateway, gw.Kind)
	assert.Equal(t, "f_b", gw.DefaultTransitionId)
	require.Len(t, gw.Outgoing, 2)
	assert.Equal(t, "f_a", gw.Outgoing[0].Id)
	assert.Equal(t, "= condA", gw.Outgoing[0].Condition)
	assert.Equal(t, "", gw.Outgoing[1].Condition)
}

func TestBoundaryTimerIsAttachedAndMakesHostAScope(t *testing.T) {
	def := parseFile(t, "user-task-boundary-timer.bpmn")[0]

	task := def.Activity("task")
	boundary := def.Activity("reminder")
	require.NotNil(t, boundary)

	assert.Equal(t, []string{"reminder"}, task.BoundaryEventIds)
	assert.True(t, task.NeedsScope())
	assert.Equal(t, "john", task.Assignee)
	assert.Equal(t, []string{"reviewers"}, task.CandidateGroups)
	assert.False(t, boundary.CancelActivity)
	assert.Equal(t, "PT1H", boundary.Timer.Duration)
	assert.Equal(t, model.CalendarDuration, boundary.Timer.CalendarName())
}

func TestInterruptingIsTheDefaultForBoundaryEvents(t *testing.T) {
	def := parseFile(t, "user-task-interrupting-timer.bpmn")[0]
	assert.True(t, def.Activity("timeout").CancelActivity)
}

func TestCycleTimerUsesCycleCalendar(t *testing.T) {
	def := parseFile(t, "timer-cycle.bpmn")[0]
	timer := def.Activity("ping").Timer
	assert.Equal(t, model.CalendarCycle, timer.CalendarName())
	assert.Equal(t, "R2/PT10M", timer.Expression())
}

func TestSubProcessChildrenAreNested(t *testing.T) {
	def := parseFile(t, "sub-process.bpmn")[0]

	sub := def.Activity("sub")
	require.Len(t, sub.Children, 3)
	assert.Equal(t, "sub_start", sub.InitialActivityId)
	assert.Equal(t, "sub", def.Activity("inner").ParentId)
	assert.Equal(t, sub, def.Parent(def.Activity("inner")))
	assert.Nil(t, def.Parent(sub))
}

func TestMultiInstanceCharacteristics(t *testing.T) {
	parallel := parseFile(t, "multi-instance-parallel.bpmn")[0].Activity("approve").MultiInstance
	require.NotNil(t, parallel)
	assert.False(t, parallel.Sequential)
	assert.Equal(t, "3", parallel.Cardinality)
	assert.Equal(t, "= nrOfCompletedInstances >= 2", parallel.CompletionCondition)

	sequential := parseFile(t, "multi-instance-sequential.bpmn")[0].Activity("each")
	require.NotNil(t, sequential.MultiInstance)
	assert.True(t, sequential.MultiInstance.Sequential)
	assert.Equal(t, "= items", sequential.MultiInstance.Collection)
	assert.Equal(t, "item", sequential.MultiInstance.ElementVariable)
	assert.Equal(t, "results", sequential.MultiInstance.OutputCollection)
	assert.Equal(t, "doubled", sequential.MultiInstance.OutputElement)
	assert.Equal(t, "double", sequential.TaskType)
}

func TestAsyncScriptAndCallActivityAttributes(t *testing.T) {
	charge := parseFile(t, "async-service-task.bpmn")[0].Activity("charge")
	assert.True(t, charge.AsyncBefore)
	assert.Equal(t, "charge-card", charge.TaskType)

	sum := parseFile(t, "script-task.bpmn")[0].Activity("sum")
	assert.Equal(t, "javascript", sum.ScriptFormat)
	assert.Equal(t, "a + b", sum.Script)
	assert.Equal(t, "total", sum.ResultVariable)

	defs := parseFile(t, "call-activity.bpmn")
	require.Len(t, defs, 2)
	call := defs[0].Activity("call")
	assert.Equal(t, "call-activity-child", call.CalledElement)
	assert.Equal(t, []model.Mapping{{Source: "orderId", Target: "childOrderId"}}, call.InputMappings)
	assert.Equal(t, []model.Mapping{{Source: "outcome", Target: "childOutcome"}}, call.OutputMappings)
}

func TestTerminateEndEvent(t *testing.T) {
	def := parseFile(t, "terminate-end-event.bpmn")[0]
	assert.Equal(t, model.KindTerminateEndEvent, def.Activity("terminate").Kind)
	assert.Equal(t, model.KindEndEvent, def.Activity("end").Kind)
}

func TestInvalidDocumentsAreRejected(t *testing.T) {
	tests := map[string]string{
		"not xml":      `this is not xml`,
		"no process":   `<definitions id="d"></definitions>`,
		"no start":     `<definitions><process id="p"><endEvent id="end"/></process></definitions>`,
		"broken flow":  `<definitions><process id="p"><startEvent id="s"/><sequenceFlow id="f" sourceRef="s" targetRef="missing"/></process></definitions>`,
		"bad boundary": `<definitions><process id="p"><startEvent id="s"/><boundaryEvent id="b" attachedToRef="nope"><timerEventDefinition><timeDuration>PT1M</timeDuration></timerEventDefinition></boundaryEvent></process></definitions>`,
		"bad loop":     `<definitions><process id="p"><startEvent id="s"/><userTask id="u"><multiInstanceLoopCharacteristics/></userTask></process></definitions>`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestCanReach(t *testing.T) {
	def := parseFile(t, "inclusive-gateway.bpmn")[0]
	join := def.Activity("join")

	assert.True(t, def.CanReach(def.Activity("taskA"), join))
	assert.True(t, def.CanReach(def.Activity("start"), join))
	assert.False(t, def.CanReach(def.Activity("after"), join))
}
