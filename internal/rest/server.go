// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenpvm/internal/config"
	"github.com/pbinitiative/zenpvm/internal/log"
	"github.com/pbinitiative/zenpvm/internal/rest/middleware"
	"github.com/pbinitiative/zenpvm/pkg/bpmn"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/deployment"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/pvm"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenpvm/pkg/ptr"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxDeploymentSize = 10 << 20

type Server struct {
	engine *bpmn.Engine
	addr   string
	server *http.Server
}

func NewServer(engine *bpmn.Engine, conf config.Config) *Server {
	r := chi.NewRouter()
	s := Server{
		engine: engine,
		addr:   conf.Server.Addr,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.Server.Addr,
		},
	}
	r.Use(middleware.Cors())
	r.Use(middleware.Opentelemetry(conf))
	r.Use(middleware.StripEmptyQueryParams())

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", s.health)
	r.Post("/deployments", s.deploy)
	r.Delete("/deployments/{id}", s.deleteDeployment)
	r.Post("/process-instances", s.startProcessInstance)
	r.Get("/process-instances/{id}", s.getProcessInstance)
	r.Delete("/process-instances/{id}", s.deleteProcessInstance)
	r.Get("/jobs", s.getJobs)
	r.Post("/jobs/{id}/execute", s.executeJob)
	r.Get("/tasks", s.getTasks)
	r.Post("/tasks/{id}/complete", s.completeTask)
	return &s
}

// Handler is the router of the server, used by tests without a listener.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	log.Info("zenpvm admin server listening on %s", listener.Addr())
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener, nil
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("Error stopping server: %s", err)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"name": s.engine.Name(), "status": "UP"}
	if e := s.engine.AsyncExecutor(); e != nil {
		status["asyncExecutor"] = map[string]any{"lockOwner": e.LockOwner(), "breaker": e.BreakerState()}
	}
	writeJson(w, http.StatusOK, status)
}

// deploy accepts a multipart form with one or more BPMN files or a raw XML
// body named by the name query parameter.
func (s *Server) deploy(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "deployment"
	}
	b := deployment.NewBuilder(name)
	if r.URL.Query().Get("duplicates") != "true" {
		b.EnableDuplicateFiltering()
	}
	if form, err := r.MultipartReader(); err == nil {
		for {
			part, err := form.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				writeError(w, http.StatusBadRequest, ApiError{Message: err.Error(), Type: "BAD_REQUEST"})
				return
			}
			data, err := io.ReadAll(io.LimitReader(part, maxDeploymentSize))
			if err != nil {
				writeError(w, http.StatusBadRequest, ApiError{Message: err.Error(), Type: "BAD_REQUEST"})
				return
			}
			resourceName := part.FileName()
			if resourceName == "" {
				resourceName = part.FormName()
			}
			b.AddResource(resourceName, data)
		}
	} else {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxDeploymentSize))
		if err != nil {
			writeError(w, http.StatusBadRequest, ApiError{Message: err.Error(), Type: "BAD_REQUEST"})
			return
		}
		resourceName := name
		if !strings.HasSuffix(name, ".bpmn") && !strings.HasSuffix(name, ".xml") {
			resourceName = name + ".bpmn"
		}
		b.AddResource(resourceName, data)
	}
	res, err := s.engine.Deploy(r.Context(), b)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := DeploymentResponse{
		Id:                 res.Deployment.Id,
		Name:               res.Deployment.Name,
		Duplicate:          res.Duplicate,
		ProcessDefinitions: make([]ProcessDefinition, 0, len(res.ProcessDefinitions)),
	}
	for _, d := range res.ProcessDefinitions {
		resp.ProcessDefinitions = append(resp.ProcessDefinitions, ProcessDefinition{Id: d.Id, Key: d.Key, Version: d.Version, Name: d.Name})
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJson(w, status, resp)
}

func (s *Server) deleteDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(w, r)
	if !ok {
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	if err := s.engine.DeleteDeployment(r.Context(), id, cascade); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startProcessInstance(w http.ResponseWriter, r *http.Request) {
	var req StartProcessInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ApiError{Message: err.Error(), Type: "BAD_REQUEST"})
		return
	}
	businessKey := ptr.Deref(req.BusinessKey, "")
	var (
		pi  *runtime.ProcessInstance
		err error
	)
	switch {
	case req.ProcessDefinitionId != nil:
		pi, err = s.engine.StartProcessInstanceById(r.Context(), *req.ProcessDefinitionId, businessKey, req.Variables)
	case req.ProcessDefinitionKey != nil:
		pi, err = s.engine.StartProcessInstanceByKey(r.Context(), *req.ProcessDefinitionKey, businessKey, req.Variables)
	default:
		writeError(w, http.StatusBadRequest, ApiError{Message: "processDefinitionKey or processDefinitionId is required", Type: "BAD_REQUEST"})
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJson(w, http.StatusCreated, processInstance(*pi))
}

func (s *Server) getProcessInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(w, r)
	if !ok {
		return
	}
	pi, err := s.engine.FindProcessInstance(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := processInstance(pi)
	if resp.Executions, err = s.engine.FindExecutions(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	if resp.Variables, err = s.engine.GetVariables(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJson(w, http.StatusOK, resp)
}

func (s *Server) deleteProcessInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteProcessInstance(r.Context(), id, r.URL.Query().Get("reason")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getJobs(w http.ResponseWriter, r *http.Request) {
	page, size, ok := pagination(w, r)
	if !ok {
		return
	}
	state := runtime.JobState(r.URL.Query().Get("state"))
	if state == "" {
		state = runtime.JobStateDead
	}
	switch state {
	case runtime.JobStateTimer, runtime.JobStateExecutable, runtime.JobStateDead, runtime.JobStateSuspended:
	default:
		writeError(w, http.StatusBadRequest, ApiError{Message: fmt.Sprintf("unknown job state %q", state), Type: "BAD_REQUEST"})
		return
	}
	jobs, err := s.engine.Storage().FindJobsByState(r.Context(), state)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJson(w, http.StatusOK, paginate(jobs, page, size))
}

func (s *Server) executeJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(w, r)
	if !ok {
		return
	}
	if err := s.engine.ExecuteJob(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getTasks(w http.ResponseWriter, r *http.Request) {
	page, size, ok := pagination(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := storage.TaskFilter{
		Assignee:       q.Get("assignee"),
		CandidateGroup: q.Get("candidateGroup"),
		ActivityId:     q.Get("activityId"),
	}
	if v := q.Get("processInstanceId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, ApiError{Message: err.Error(), Type: "BAD_REQUEST"})
			return
		}
		filter.ProcessInstanceId = id
	}
	tasks, err := s.engine.FindTasks(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJson(w, http.StatusOK, paginate(tasks, page, size))
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(w, r)
	if !ok {
		return
	}
	var req CompleteTaskRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, ApiError{Message: err.Error(), Type: "BAD_REQUEST"})
			return
		}
	}
	if err := s.engine.CompleteTask(r.Context(), id, req.Variables); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathId(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, ApiError{Message: fmt.Sprintf("invalid id: %s", err), Type: "BAD_REQUEST"})
		return 0, false
	}
	return id, true
}

func pagination(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	page, size := int(PaginationDefaultPage), int(PaginationDefaultSize)
	for name, target := range map[string]*int{"page": &page, "size": &size} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, ApiError{Message: fmt.Sprintf("invalid %s: %s", name, v), Type: "BAD_REQUEST"})
			return 0, 0, false
		}
		*target = n
	}
	return page, size, true
}

func writeEngineError(w http.ResponseWriter, err error) {
	var engineErr *bpmn.EngineError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, ApiError{Message: err.Error(), Type: "NOT_FOUND"})
	case errors.Is(err, deployment.ErrDeploymentInUse), errors.Is(err, pvm.ErrTaskClaimed), errors.Is(err, pvm.ErrSuspended):
		writeError(w, http.StatusConflict, ApiError{Message: err.Error(), Type: "CONFLICT"})
	case command.IsOptimisticLockingFailure(err):
		writeError(w, http.StatusConflict, ApiError{Message: err.Error(), Type: "CONCURRENT_MODIFICATION"})
	case errors.As(err, &engineErr):
		writeError(w, http.StatusBadRequest, ApiError{Message: err.Error(), Type: "ENGINE_ERROR"})
	default:
		writeError(w, http.StatusInternalServerError, ApiError{Message: err.Error(), Type: "ERROR"})
	}
}

func writeError(w http.ResponseWriter, status int, resp ApiError) {
	writeJson(w, status, resp)
}

func writeJson(w http.ResponseWriter, status int, resp any) {
	body, err := json.Marshal(resp)
	if err != nil {
		log.Error("Server error: %s", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
