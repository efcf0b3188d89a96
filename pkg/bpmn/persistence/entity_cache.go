// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package persistence

import (
	"cmp"
	"context"
	"maps"
	"reflect"
	"slices"

	"github.com/mohae/deepcopy"
)

type rowState int

const (
	rowLoaded rowState = iota
	rowInserted
	rowDeleted
)

type cachedRow[T any] struct {
	row   *T
	state rowState
	// snapshot is the row as it was loaded, used to detect updates
	snapshot T
	// touched rows are written even when unchanged
	touched bool
}

// entityCache keeps one live instance per id for the duration of a command.
type entityCache[T any] struct {
	entity   string
	id       func(*T) int64
	revision func(*T) *int
	rows     map[int64]*cachedRow[T]
}

func newEntityCache[T any](entity string, id func(*T) int64, revision func(*T) *int) *entityCache[T] {
	return &entityCache[T]{entity: entity, id: id, revision: revision, rows: map[int64]*cachedRow[T]{}}
}

// get returns the cached row, the second result tells whether the id is known.
// Deleted rows are known but returned as nil.
func (c *entityCache[T]) get(id int64) (*T, bool) {
	r, ok := c.rows[id]
	if !ok {
		return nil, false
	}
	if r.state == rowDeleted {
		return nil, true
	}
	return r.row, true
}

// load puts a row read from storage into the cache unless the id is already known.
func (c *entityCache[T]) load(row T) *T {
	id := c.id(&row)
	if r, ok := c.rows[id]; ok {
		if r.state == rowDeleted {
			return nil
		}
		return r.row
	}
	live := row
	c.rows[id] = &cachedRow[T]{row: &live, state: rowLoaded, snapshot: deepcopy.Copy(row).(T)}
	return &live
}

func (c *entityCache[T]) loadAll(rows []T) {
	for _, row := range rows {
		c.load(row)
	}
}

func (c *entityCache[T]) insert(row *T) {
	*c.revision(row) = 1
	c.rows[c.id(row)] = &cachedRow[T]{row: row, state: rowInserted}
}

// delete marks row deleted. Rows inserted by the same command are forgotten.
func (c *entityCache[T]) delete(row *T) {
	id := c.id(row)
	r, ok := c.rows[id]
	switch {
	case !ok:
		c.rows[id] = &cachedRow[T]{row: row, state: rowDeleted, snapshot: *row}
	case r.state == rowInserted:
		delete(c.rows, id)
	default:
		r.state = rowDeleted
	}
}

// touch forces an update of a loaded row on the next flush.
func (c *entityCache[T]) touch(id int64) {
	if r, ok := c.rows[id]; ok && r.state == rowLoaded {
		r.touched = true
	}
}

// live returns the not deleted rows matching match ordered by id.
func (c *entityCache[T]) live(match func(*T) bool) []*T {
	res := make([]*T, 0)
	for _, r := range c.rows {
		if r.state != rowDeleted && match(r.row) {
			res = append(res, r.row)
		}
	}
	slices.SortFunc(res, func(a, b *T) int { return cmp.Compare(c.id(a), c.id(b)) })
	return res
}

func (c *entityCache[T]) dirty(r *cachedRow[T]) bool {
	return r.state == rowLoaded && (r.touched || !reflect.DeepEqual(*r.row, r.snapshot))
}

type writer[T any] func(ctx context.Context, row T) error

type flushResult[T any] struct {
	inserted []*T
	updated  []*T
	deleted  []*T
}

// flush queues every change into the writers in id order.
func (c *entityCache[T]) flush(ctx context.Context, insert, update, remove writer[T]) (flushResult[T], error) {
	var res flushResult[T]
	for _, id := range slices.Sorted(maps.Keys(c.rows)) {
		r := c.rows[id]
		switch {
		case r.state == rowInserted:
			if err := insert(ctx, *r.row); err != nil {
				return res, err
			}
			res.inserted = append(res.inserted, r.row)
		case r.state == rowDeleted:
			// deletes carry the revision the row had when it was loaded
			if err := remove(ctx, r.snapshot); err != nil {
				return res, err
			}
			res.deleted = append(res.deleted, r.row)
		case c.dirty(r):
			if err := update(ctx, *r.row); err != nil {
				return res, err
			}
			res.updated = append(res.updated, r.row)
		}
	}
	return res, nil
}

// committed makes the flushed state the new baseline.
func (c *entityCache[T]) committed(res flushResult[T]) {
	for _, row := range res.updated {
		*c.revision(row)++
	}
	for id, r := range c.rows {
		switch r.state {
		case rowDeleted:
			delete(c.rows, id)
		default:
			r.state = rowLoaded
			r.touched = false
			r.snapshot = deepcopy.Copy(*r.row).(T)
		}
	}
}
