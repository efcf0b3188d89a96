// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification is returned when a row was changed or removed
	// by someone else since it was read.
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicateKey           = errors.New("duplicate key")
)

// ConflictError names the row that failed the revision check.
type ConflictError struct {
	Entity   string
	Id       string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	if e.Actual < 0 {
		return fmt.Sprintf("%s %s was deleted by another transaction", e.Entity, e.Id)
	}
	return fmt.Sprintf("%s %s was updated by another transaction (expected revision %d, found %d)", e.Entity, e.Id, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error {
	return ErrConcurrentModification
}

// NewVersionConflict is returned when two deployments of key compute the same version.
func NewVersionConflict(key string, version int32) error {
	return fmt.Errorf("process %s version %d was deployed by another transaction: %w", key, version, ErrConcurrentModification)
}

// NewConflict builds the error for a failed revision check. actual < 0 means the row is gone.
func NewConflict(entity string, id any, expected, actual int) error {
	return &ConflictError{Entity: entity, Id: fmt.Sprint(id), Expected: expected, Actual: actual}
}
