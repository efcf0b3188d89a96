// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/runtime"
)

var (
	ErrNoHandler    = errors.New("no job handler registered")
	ErrJobNotLocked = errors.New("job is not locked by this owner")
	ErrJobSuspended = errors.New("job is suspended")
)

// Handler executes jobs of one handler type inside the job command.
// Returning an error rolls the command back and counts as a failed attempt.
type Handler interface {
	Execute(cc *command.CommandContext, job *runtime.Job) error
}

type HandlerFunc func(cc *command.CommandContext, job *runtime.Job) error

func (f HandlerFunc) Execute(cc *command.CommandContext, job *runtime.Job) error {
	return f(cc, job)
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register adds or replaces the handler of handlerType.
func (r *Registry) Register(handlerType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerType] = h
}

func (r *Registry) Get(handlerType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[handlerType]
	if !ok {
		return nil, fmt.Errorf("%w for type %q", ErrNoHandler, handlerType)
	}
	return h, nil
}
