// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func def(id string) *model.ProcessDefinition {
	return &model.ProcessDefinition{Id: id}
}

func TestFIFOKeepsTheLastInsertedEntries(t *testing.T) {
	// given
	c := NewFIFO(3)

	// when
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("p:%d", i)
		c.Add(id, def(id))
		// reads must not protect an entry from eviction
		_, _ = c.Get("p:1")
	}

	// then
	assert.Equal(t, 3, c.Size())
	for _, id := range []string{"p:1", "p:2"} {
		_, ok := c.Get(id)
		assert.False(t, ok, id)
	}
	for _, id := range []string{"p:3", "p:4", "p:5"} {
		got, ok := c.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, id, got.Id)
	}
	assert.Equal(t, []string{"p:3", "p:4", "p:5"}, c.(*bounded).Keys())
}

func TestLRUProtectsReadEntries(t *testing.T) {
	// given
	c := NewLRU(2)
	c.Add("a", def("a"))
	c.Add("b", def("b"))

	// when
	_, _ = c.Get("a")
	c.Add("c", def("c"))

	// then
	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestReAddingMovesEntryToTheEnd(t *testing.T) {
	c := NewFIFO(2)
	c.Add("a", def("a"))
	c.Add("b", def("b"))
	c.Add("a", def("a"))
	c.Add("c", def("c"))

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestUnboundedCache(t *testing.T) {
	for _, c := range []DeploymentCache{NewFIFO(0), NewLRU(-1)} {
		for i := 0; i < 100; i++ {
			c.Add(fmt.Sprint(i), def(fmt.Sprint(i)))
		}
		assert.Equal(t, 100, c.Size())
		c.Remove("5")
		_, ok := c.Get("5")
		assert.False(t, ok)
		c.Clear()
		assert.Zero(t, c.Size())
	}
}

func TestRemoveAndClear(t *testing.T) {
	c := NewFIFO(5)
	c.Add("a", def("a"))
	c.Add("b", def("b"))

	c.Remove("a")
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Zero(t, c.Size())
}

func TestExpiringCache(t *testing.T) {
	c := NewExpiring(2, time.Hour)
	c.Add("a", def("a"))
	c.Add("b", def("b"))
	c.Add("c", def("c"))

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
