// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/internal/config"
	"github.com/pbinitiative/zenpvm/pkg/bpmn"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine  *bpmn.Engine
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := bpmn.NewEngine(bpmn.WithLogger(hclog.NewNullLogger()))
	require.NoError(t, err)
	s := NewServer(engine, config.Config{Server: config.Server{Addr: ":0"}, Tracing: config.Tracing{Name: "test"}})
	return &fixture{engine: engine, handler: s.Handler()}
}

func (f *fixture) do(t *testing.T, method string, url string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) deploy(t *testing.T, name string) DeploymentResponse {
	t.Helper()
	data, err := os.ReadFile("../../pkg/bpmn/test-cases/" + name)
	require.NoError(t, err)
	rec := f.do(t, http.MethodPost, "/deployments?name="+name, data, "application/xml")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp DeploymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UP", decode[map[string]any](t, rec)["status"])
}

func TestDeployStartAndCompleteOverHttp(t *testing.T) {
	// given
	f := newFixture(t)
	d := f.deploy(t, "simple-user-task.bpmn")
	require.Len(t, d.ProcessDefinitions, 1)

	// when
	started := f.do(t, http.MethodPost, "/process-instances", []byte(`{"processDefinitionKey":"simple-user-task","businessKey":"b-1","variables":{"amount":3}}`), "application/json")
	require.Equal(t, http.StatusCreated, started.Code, started.Body.String())
	pi := decode[ProcessInstance](t, started)
	detail := f.do(t, http.MethodGet, fmt.Sprintf("/process-instances/%d", pi.Id), nil, "")
	tasks := f.do(t, http.MethodGet, "/tasks?assignee=alice", nil, "")
	page := decode[Page[runtime.Task]](t, tasks)
	require.Len(t, page.Items, 1)
	completed := f.do(t, http.MethodPost, fmt.Sprintf("/tasks/%d/complete", page.Items[0].Id), []byte(`{"variables":{"approved":true}}`), "application/json")
	gone := f.do(t, http.MethodGet, fmt.Sprintf("/process-instances/%d", pi.Id), nil, "")

	// then
	assert.Equal(t, "b-1", pi.BusinessKey)
	assert.Equal(t, http.StatusOK, detail.Code)
	assert.EqualValues(t, 3, decode[ProcessInstance](t, detail).Variables["amount"])
	assert.Equal(t, http.StatusNoContent, completed.Code)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestMultipartDeploymentOfAnUnchangedFileIsADuplicate(t *testing.T) {
	// given
	f := newFixture(t)
	f.deploy(t, "receive-task.bpmn")
	data, err := os.ReadFile("../../pkg/bpmn/test-cases/receive-task.bpmn")
	require.NoError(t, err)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "receive-task.bpmn")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	// when
	rec := f.do(t, http.MethodPost, "/deployments?name=receive-task.bpmn", body.Bytes(), mw.FormDataContentType())

	// then
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[DeploymentResponse](t, rec).Duplicate)
}

func TestErrorsAreMappedToStatusCodes(t *testing.T) {
	f := newFixture(t)
	d := f.deploy(t, "simple-user-task.bpmn")
	f.do(t, http.MethodPost, "/process-instances", []byte(`{"processDefinitionKey":"simple-user-task"}`), "application/json")

	tests := map[string]struct {
		method string
		url    string
		body   string
		status int
	}{
		"unknown process":    {http.MethodPost, "/process-instances", `{"processDefinitionKey":"nope"}`, http.StatusNotFound},
		"missing key":        {http.MethodPost, "/process-instances", `{}`, http.StatusBadRequest},
		"malformed body":     {http.MethodPost, "/process-instances", `{`, http.StatusBadRequest},
		"invalid id":         {http.MethodGet, "/process-instances/abc", "", http.StatusBadRequest},
		"unknown task":       {http.MethodPost, "/tasks/1/complete", "", http.StatusNotFound},
		"unknown job state":  {http.MethodGet, "/jobs?state=sleeping", "", http.StatusBadRequest},
		"invalid page":       {http.MethodGet, "/jobs?page=0", "", http.StatusBadRequest},
		"deployment in use":  {http.MethodDelete, fmt.Sprintf("/deployments/%d", d.Id), "", http.StatusConflict},
		"dead jobs":          {http.MethodGet, "/jobs", "", http.StatusOK},
		"metrics are served": {http.MethodGet, "/metrics", "", http.StatusOK},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.url, []byte(tt.body), "application/json")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, []int{3, 4}, paginate(items, 2, 2).Items)
	assert.Equal(t, []int{5}, paginate(items, 3, 2).Items)
	last := paginate(items, 4, 2)
	assert.Empty(t, last.Items)
	assert.Equal(t, 5, last.PageMetadata.TotalCount)
}
