// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"errors"
	"fmt"
	"slices"
)

var ErrScopeHasChildren = errors.New("execution still has child executions")

// ExecutionTree is the arena of all executions of one process instance.
// Parent and child relations are id references resolved through the arena.
type ExecutionTree struct {
	rootId   int64
	nodes    map[int64]*Execution
	children map[int64][]int64
}

func NewExecutionTree(root *Execution) *ExecutionTree {
	return &ExecutionTree{
		rootId:   root.Id,
		nodes:    map[int64]*Execution{root.Id: root},
		children: map[int64][]int64{},
	}
}

// BuildExecutionTree assembles a tree from persisted rows. Rows are attached in
// id order, which is creation order for generated ids.
func BuildExecutionTree(executions []*Execution) (*ExecutionTree, error) {
	var tree *ExecutionTree
	sorted := slices.Clone(executions)
	slices.SortFunc(sorted, func(a, b *Execution) int {
		switch {
		case a.Id < b.Id:
			return -1
		case a.Id > b.Id:
			return 1
		}
		return 0
	})
	for _, e := range sorted {
		if e.ParentId == 0 {
			if tree != nil {
				return nil, fmt.Errorf("process instance has two roots: %d and %d", tree.rootId, e.Id)
			}
			tree = NewExecutionTree(e)
		}
	}
	if tree == nil {
		return nil, errors.New("no process instance execution found")
	}
	pending := sorted
	for len(pending) > 0 {
		var rest []*Execution
		for _, e := range pending {
			if e.Id == tree.rootId {
				continue
			}
			if _, ok := tree.nodes[e.ParentId]; !ok {
				rest = append(rest, e)
				continue
			}
			if err := tree.Attach(e); err != nil {
				return nil, err
			}
		}
		if len(rest) == len(pending) {
			return nil, fmt.Errorf("execution %d references missing parent %d", rest[0].Id, rest[0].ParentId)
		}
		pending = rest
	}
	return tree, nil
}

func (t *ExecutionTree) Root() *Execution {
	return t.nodes[t.rootId]
}

func (t *ExecutionTree) Get(id int64) *Execution {
	return t.nodes[id]
}

func (t *ExecutionTree) Len() int {
	return len(t.nodes)
}

// Attach adds e below its parent.
func (t *ExecutionTree) Attach(e *Execution) error {
	if _, ok := t.nodes[e.Id]; ok {
		return fmt.Errorf("execution %d already attached", e.Id)
	}
	if _, ok := t.nodes[e.ParentId]; !ok {
		return fmt.Errorf("parent execution %d of %d not found", e.ParentId, e.Id)
	}
	t.nodes[e.Id] = e
	t.children[e.ParentId] = append(t.children[e.ParentId], e.Id)
	return nil
}

// Detach removes a leaf execution. Executions with children can not be
// detached; remove the descendants first.
func (t *ExecutionTree) Detach(id int64) error {
	e, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("execution %d not found", id)
	}
	if len(t.children[id]) > 0 {
		return fmt.Errorf("failed to detach execution %d: %w", id, ErrScopeHasChildren)
	}
	delete(t.nodes, id)
	delete(t.children, id)
	if e.ParentId != 0 {
		siblings := t.children[e.ParentId]
		t.children[e.ParentId] = slices.DeleteFunc(slices.Clone(siblings), func(c int64) bool { return c == id })
	}
	return nil
}

func (t *ExecutionTree) Parent(e *Execution) *Execution {
	if e.ParentId == 0 {
		return nil
	}
	return t.nodes[e.ParentId]
}

// Children returns the direct children of id in creation order.
func (t *ExecutionTree) Children(id int64) []*Execution {
	ids := t.children[id]
	res := make([]*Execution, 0, len(ids))
	for _, c := range ids {
		res = append(res, t.nodes[c])
	}
	return res
}

// Descendants returns all executions below id, children before their parents.
func (t *ExecutionTree) Descendants(id int64) []*Execution {
	var res []*Execution
	var walk func(id int64)
	walk = func(id int64) {
		for _, c := range t.children[id] {
			walk(c)
			res = append(res, t.nodes[c])
		}
	}
	walk(id)
	return res
}

// All returns every execution of the tree, root first.
func (t *ExecutionTree) All() []*Execution {
	res := []*Execution{t.Root()}
	desc := t.Descendants(t.rootId)
	slices.Reverse(desc)
	return append(res, desc...)
}

// Ancestors returns the chain from e's parent up to the root.
func (t *ExecutionTree) Ancestors(e *Execution) []*Execution {
	var res []*Execution
	for p := t.Parent(e); p != nil; p = t.Parent(p) {
		res = append(res, p)
	}
	return res
}
