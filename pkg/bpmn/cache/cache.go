// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package cache holds parsed process definitions so they are not rebuilt
// from their deployment resource on every command.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
)

// DeploymentCache maps process definition ids to parsed graphs. Implementations
// must be safe for concurrent use. A miss is never an error, the caller
// rebuilds the definition.
type DeploymentCache interface {
	Get(id string) (*model.ProcessDefinition, bool)
	Add(id string, definition *model.ProcessDefinition)
	Remove(id string)
	Clear()
	Size() int
}

// NewFIFO evicts the entry added first once limit is reached. Reads do not
// change the eviction order. limit <= 0 means unbounded.
func NewFIFO(limit int) DeploymentCache {
	if limit <= 0 {
		return newUnbounded()
	}
	return newBounded(limit, false)
}

// NewLRU evicts the least recently read or added entry once limit is reached.
func NewLRU(limit int) DeploymentCache {
	if limit <= 0 {
		return newUnbounded()
	}
	return newBounded(limit, true)
}

type bounded struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *model.ProcessDefinition]
	touchGet bool
}

func newBounded(limit int, touchGet bool) *bounded {
	lru, err := simplelru.NewLRU[string, *model.ProcessDefinition](limit, nil)
	if err != nil {
		// only fails for non positive sizes
		panic(err)
	}
	return &bounded{lru: lru, touchGet: touchGet}
}

func (c *bounded) Get(id string) (*model.ProcessDefinition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.touchGet {
		return c.lru.Get(id)
	}
	return c.lru.Peek(id)
}

func (c *bounded) Add(id string, definition *model.ProcessDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.touchGet {
		// a replaced entry counts as newly inserted
		c.lru.Remove(id)
	}
	c.lru.Add(id, definition)
}

func (c *bounded) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(id)
}

func (c *bounded) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

func (c *bounded) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the cached ids from oldest to newest.
func (c *bounded) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

type unbounded struct {
	mu          sync.RWMutex
	definitions map[string]*model.ProcessDefinition
}

func newUnbounded() *unbounded {
	return &unbounded{definitions: map[string]*model.ProcessDefinition{}}
}

func (c *unbounded) Get(id string) (*model.ProcessDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.definitions[id]
	return d, ok
}

func (c *unbounded) Add(id string, definition *model.ProcessDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.definitions[id] = definition
}

func (c *unbounded) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.definitions, id)
}

func (c *unbounded) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.definitions)
}

func (c *unbounded) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.definitions)
}

// NewExpiring is an LRU whose entries also expire after ttl.
func NewExpiring(limit int, ttl time.Duration) DeploymentCache {
	return &expiring{lru: expirable.NewLRU[string, *model.ProcessDefinition](limit, nil, ttl)}
}

type expiring struct {
	lru *expirable.LRU[string, *model.ProcessDefinition]
}

func (c *expiring) Get(id string) (*model.ProcessDefinition, bool) {
	return c.lru.Get(id)
}

func (c *expiring) Add(id string, definition *model.ProcessDefinition) {
	c.lru.Add(id, definition)
}

func (c *expiring) Remove(id string) {
	c.lru.Remove(id)
}

func (c *expiring) Clear() {
	c.lru.Purge()
}

func (c *expiring) Size() int {
	return c.lru.Len()
}
