// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package command

import (
	"errors"
	"fmt"
)

// OptimisticLockingError is returned when a command tried to commit changes
// to rows that another command modified in the meantime. The command had no
// effect and may be retried by the caller.
type OptimisticLockingError struct {
	Err error
}

func (e *OptimisticLockingError) Error() string {
	return fmt.Sprintf("optimistic locking failure: %v", e.Err)
}

func (e *OptimisticLockingError) Unwrap() error {
	return e.Err
}

// IsOptimisticLockingFailure reports whether err is (or wraps) an OptimisticLockingError.
func IsOptimisticLockingFailure(err error) bool {
	var target *OptimisticLockingError
	return errors.As(err, &target)
}

var ErrContextClosed = errors.New("command context is already closed")

// PanicError carries a panic raised while a command was executed.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("command panicked: %v", e.Value)
}
