// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import "fmt"

// EngineError reports a fault in the process graph or in the way it is used:
// no transition could be taken, an activity is unknown, a multi-instance
// definition is malformed. It always aborts the command.
type EngineError struct {
	Msg string
}

func (e *EngineError) Error() string {
	return e.Msg
}

// NewEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func NewEngineErrorf(format string, a ...interface{}) error {
	return &EngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}
