// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory

import (
	"fmt"
	"slices"

	"github.com/mohae/deepcopy"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

// table holds deep copied rows so that callers never share memory with the store.
type table[K comparable, V any] struct {
	name  string
	rows  map[K]V
	key   func(V) K
	order func(a, b V) int
	// revision is nil for rows without optimistic locking
	revision func(*V) *int
}

func newTable[K comparable, V any](name string, key func(V) K, order func(a, b V) int, revision func(*V) *int) *table[K, V] {
	return &table[K, V]{name: name, rows: map[K]V{}, key: key, order: order, revision: revision}
}

func clone[V any](v V) V {
	return deepcopy.Copy(v).(V)
}

func (t *table[K, V]) get(k K) (V, error) {
	v, ok := t.rows[k]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%s %v: %w", t.name, k, storage.ErrNotFound)
	}
	return clone(v), nil
}

func (t *table[K, V]) filter(match func(V) bool) []V {
	res := make([]V, 0)
	for _, v := range t.rows {
		if match(v) {
			res = append(res, clone(v))
		}
	}
	slices.SortFunc(res, t.order)
	return res
}

func (t *table[K, V]) currentRevision(k K) int {
	v, ok := t.rows[k]
	if !ok {
		return -1
	}
	if t.revision == nil {
		return 0
	}
	return *t.revision(&v)
}

func (t *table[K, V]) insert(v V) (func(), error) {
	k := t.key(v)
	if _, ok := t.rows[k]; ok {
		return nil, fmt.Errorf("%s %v: %w", t.name, k, storage.ErrDuplicateKey)
	}
	t.rows[k] = clone(v)
	return func() { delete(t.rows, k) }, nil
}

func (t *table[K, V]) update(v V) (func(), error) {
	k := t.key(v)
	old, ok := t.rows[k]
	expected := 0
	if t.revision != nil {
		expected = *t.revision(&v)
	}
	if actual := t.currentRevision(k); !ok || actual != expected {
		return nil, storage.NewConflict(t.name, k, expected, actual)
	}
	row := clone(v)
	if t.revision != nil {
		*t.revision(&row) = expected + 1
	}
	t.rows[k] = row
	return func() { t.rows[k] = old }, nil
}

func (t *table[K, V]) remove(v V) (func(), error) {
	k := t.key(v)
	old, ok := t.rows[k]
	expected := 0
	if t.revision != nil {
		expected = *t.revision(&v)
	}
	if actual := t.currentRevision(k); !ok || actual != expected {
		return nil, storage.NewConflict(t.name, k, expected, actual)
	}
	delete(t.rows, k)
	return func() { t.rows[k] = old }, nil
}

func (t *table[K, V]) removeKey(k K) (func(), error) {
	old, ok := t.rows[k]
	if !ok {
		return nil, fmt.Errorf("%s %v: %w", t.name, k, storage.ErrNotFound)
	}
	delete(t.rows, k)
	return func() { t.rows[k] = old }, nil
}
