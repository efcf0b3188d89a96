// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

// Operation is one atomic step of the interpreter. Running an operation may
// plan further operations on the agenda.
type Operation interface {
	Run(c *Context) error
}

// Agenda is the FIFO queue of planned operations of one command.
type Agenda struct {
	operations []Operation
}

func (a *Agenda) Plan(op Operation) {
	a.operations = append(a.operations, op)
}

func (a *Agenda) IsEmpty() bool {
	return len(a.operations) == 0
}

func (a *Agenda) Len() int {
	return len(a.operations)
}

func (a *Agenda) next() Operation {
	op := a.operations[0]
	a.operations[0] = nil
	a.operations = a.operations[1:]
	return op
}
