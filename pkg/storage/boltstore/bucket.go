// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package boltstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/pbinitiative/zenpvm/pkg/storage"
	bolt "go.etcd.io/bbolt"
)

// bucket stores rows of one entity as json documents.
type bucket[K comparable, V any] struct {
	name      []byte
	entity    string
	key       func(V) K
	encodeKey func(K) []byte
	order     func(a, b V) int
	revision  func(*V) *int
}

func int64Key(k int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(k))
	return buf
}

func stringKey(k string) []byte {
	return []byte(k)
}

func (b *bucket[K, V]) of(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket(b.name)
}

func (b *bucket[K, V]) decode(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s: %w", b.entity, err)
	}
	return v, nil
}

func (b *bucket[K, V]) put(tx *bolt.Tx, v V) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", b.entity, err)
	}
	return b.of(tx).Put(b.encodeKey(b.key(v)), data)
}

func (b *bucket[K, V]) get(tx *bolt.Tx, k K) (V, error) {
	data := b.of(tx).Get(b.encodeKey(k))
	if data == nil {
		var zero V
		return zero, fmt.Errorf("%s %v: %w", b.entity, k, storage.ErrNotFound)
	}
	return b.decode(data)
}

func (b *bucket[K, V]) filter(tx *bolt.Tx, match func(V) bool) ([]V, error) {
	res := make([]V, 0)
	err := b.of(tx).ForEach(func(_, data []byte) error {
		v, err := b.decode(data)
		if err != nil {
			return err
		}
		if match(v) {
			res = append(res, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(res, b.order)
	return res, nil
}

func (b *bucket[K, V]) checkRevision(tx *bolt.Tx, v V) error {
	k := b.key(v)
	expected := 0
	if b.revision != nil {
		expected = *b.revision(&v)
	}
	data := b.of(tx).Get(b.encodeKey(k))
	if data == nil {
		return storage.NewConflict(b.entity, k, expected, -1)
	}
	if b.revision == nil {
		return nil
	}
	current, err := b.decode(data)
	if err != nil {
		return err
	}
	if actual := *b.revision(&current); actual != expected {
		return storage.NewConflict(b.entity, k, expected, actual)
	}
	return nil
}

func (b *bucket[K, V]) insert(tx *bolt.Tx, v V) error {
	k := b.key(v)
	if b.of(tx).Get(b.encodeKey(k)) != nil {
		return fmt.Errorf("%s %v: %w", b.entity, k, storage.ErrDuplicateKey)
	}
	return b.put(tx, v)
}

func (b *bucket[K, V]) update(tx *bolt.Tx, v V) error {
	if err := b.checkRevision(tx, v); err != nil {
		return err
	}
	if b.revision != nil {
		*b.revision(&v)++
	}
	return b.put(tx, v)
}

func (b *bucket[K, V]) remove(tx *bolt.Tx, v V) error {
	if err := b.checkRevision(tx, v); err != nil {
		return err
	}
	return b.of(tx).Delete(b.encodeKey(b.key(v)))
}

func (b *bucket[K, V]) removeKey(tx *bolt.Tx, k K) error {
	key := b.encodeKey(k)
	if b.of(tx).Get(key) == nil {
		return fmt.Errorf("%s %v: %w", b.entity, k, storage.ErrNotFound)
	}
	return b.of(tx).Delete(key)
}
