// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree(t *testing.T) *ExecutionTree {
	root := &Execution{Id: 1, ProcessInstanceId: 1, IsScope: true}
	tree := NewExecutionTree(root)
	require.NoError(t, tree.Attach(&Execution{Id: 2, ParentId: 1, ProcessInstanceId: 1, IsConcurrent: true}))
	require.NoError(t, tree.Attach(&Execution{Id: 3, ParentId: 1, ProcessInstanceId: 1, IsConcurrent: true, IsScope: true}))
	require.NoError(t, tree.Attach(&Execution{Id: 4, ParentId: 3, ProcessInstanceId: 1}))
	return tree
}

func ids(executions []*Execution) []int64 {
	res := make([]int64, 0, len(executions))
	for _, e := range executions {
		res = append(res, e.Id)
	}
	return res
}

func TestTreeNavigation(t *testing.T) {
	tree := sampleTree(t)

	assert.Equal(t, int64(1), tree.Root().Id)
	assert.Equal(t, 4, tree.Len())
	assert.Equal(t, []int64{2, 3}, ids(tree.Children(1)))
	assert.Equal(t, int64(3), tree.Parent(tree.Get(4)).Id)
	assert.Nil(t, tree.Parent(tree.Root()))
	assert.Equal(t, []int64{3, 1}, ids(tree.Ancestors(tree.Get(4))))
}

func TestDescendantsAreChildrenFirst(t *testing.T) {
	tree := sampleTree(t)
	assert.Equal(t, []int64{2, 4, 3}, ids(tree.Descendants(1)))
	assert.Equal(t, []int64{1, 3, 4, 2}, ids(tree.All()))
}

func TestDetachRefusesScopeWithChildren(t *testing.T) {
	tree := sampleTree(t)

	err := tree.Detach(3)
	assert.ErrorIs(t, err, ErrScopeHasChildren)
	assert.NotNil(t, tree.Get(3))

	require.NoError(t, tree.Detach(4))
	require.NoError(t, tree.Detach(3))
	assert.Equal(t, []int64{2}, ids(tree.Children(1)))
}

func TestAttachRequiresParent(t *testing.T) {
	tree := sampleTree(t)
	assert.Error(t, tree.Attach(&Execution{Id: 9, ParentId: 42}))
	assert.Error(t, tree.Attach(&Execution{Id: 2, ParentId: 1}))
}

func TestBuildExecutionTreeFromRows(t *testing.T) {
	// given rows in random order
	rows := []*Execution{
		{Id: 4, ParentId: 3},
		{Id: 2, ParentId: 1},
		{Id: 1},
		{Id: 3, ParentId: 1},
	}

	// when
	tree, err := BuildExecutionTree(rows)

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(1), tree.Root().Id)
	assert.Equal(t, []int64{2, 3}, ids(tree.Children(1)))
	assert.Equal(t, []int64{4}, ids(tree.Children(3)))
}

func TestBuildExecutionTreeRejectsBrokenRows(t *testing.T) {
	_, err := BuildExecutionTree([]*Execution{{Id: 2, ParentId: 1}})
	assert.Error(t, err)

	_, err = BuildExecutionTree([]*Execution{{Id: 1}, {Id: 2}})
	assert.Error(t, err)

	_, err = BuildExecutionTree([]*Execution{{Id: 1}, {Id: 3, ParentId: 7}})
	assert.Error(t, err)
}
