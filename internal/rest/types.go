// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

const (
	PaginationDefaultPage int32 = 1
	PaginationDefaultSize int32 = 10
)

type ApiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type DeploymentResponse struct {
	Id                 int64               `json:"id"`
	Name               string              `json:"name"`
	Duplicate          bool                `json:"duplicate"`
	ProcessDefinitions []ProcessDefinition `json:"processDefinitions"`
}

type ProcessDefinition struct {
	Id      string `json:"id"`
	Key     string `json:"key"`
	Version int32  `json:"version"`
	Name    string `json:"name,omitempty"`
}

type StartProcessInstanceRequest struct {
	ProcessDefinitionKey *string        `json:"processDefinitionKey"`
	ProcessDefinitionId  *string        `json:"processDefinitionId"`
	BusinessKey          *string        `json:"businessKey"`
	Variables            map[string]any `json:"variables"`
}

type ProcessInstance struct {
	Id                  int64     `json:"id"`
	ProcessDefinitionId string    `json:"processDefinitionId"`
	BusinessKey         string    `json:"businessKey,omitempty"`
	StartTime           time.Time `json:"startTime"`
	Ended               bool      `json:"ended"`
	Suspended           bool      `json:"suspended"`
	// Executions and Variables are only filled by the detail endpoint
	Executions []runtime.Execution `json:"executions,omitempty"`
	Variables  map[string]any      `json:"variables,omitempty"`
}

type CompleteTaskRequest struct {
	Variables map[string]any `json:"variables"`
}

type PageMetadata struct {
	Page       int `json:"page"`
	Size       int `json:"size"`
	Count      int `json:"count"`
	TotalCount int `json:"totalCount"`
}

type Page[T any] struct {
	Items        []T          `json:"items"`
	PageMetadata PageMetadata `json:"pageMetadata"`
}

func processInstance(pi runtime.ProcessInstance) ProcessInstance {
	return ProcessInstance{
		Id:                  pi.Id,
		ProcessDefinitionId: pi.ProcessDefinitionId,
		BusinessKey:         pi.BusinessKey,
		StartTime:           pi.StartTime,
		Ended:               pi.Ended,
		Suspended:           pi.Suspended,
	}
}

// paginate returns the page of items, pages start at 1
func paginate[T any](items []T, page int, size int) Page[T] {
	totalCount := len(items)
	startIndex := (page - 1) * size
	if startIndex >= totalCount {
		return Page[T]{
			Items:        []T{},
			PageMetadata: PageMetadata{Page: page, Size: size, Count: 0, TotalCount: totalCount},
		}
	}
	endIndex := min(startIndex+size, totalCount)
	pagedItems := items[startIndex:endIndex]
	return Page[T]{
		Items:        pagedItems,
		PageMetadata: PageMetadata{Page: page, Size: size, Count: len(pagedItems), TotalCount: totalCount},
	}
}
