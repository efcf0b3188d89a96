// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package command

// CloseListener hooks into the close protocol of a command context.
//
// On success the order is Closing, flush of all sessions, AfterSessionsFlush,
// commit, Closed. When the command or any of these steps fails, the remaining
// steps are skipped, the sessions are rolled back and CloseFailure is called.
type CloseListener interface {
	Closing(cc *CommandContext) error
	AfterSessionsFlush(cc *CommandContext) error
	Closed(cc *CommandContext)
	CloseFailure(cc *CommandContext)
}

// CloseListenerFuncs implements CloseListener with optional callbacks.
type CloseListenerFuncs struct {
	OnClosing            func(cc *CommandContext) error
	OnAfterSessionsFlush func(cc *CommandContext) error
	OnClosed             func(cc *CommandContext)
	OnCloseFailure       func(cc *CommandContext)
}

func (l CloseListenerFuncs) Closing(cc *CommandContext) error {
	if l.OnClosing == nil {
		return nil
	}
	return l.OnClosing(cc)
}

func (l CloseListenerFuncs) AfterSessionsFlush(cc *CommandContext) error {
	if l.OnAfterSessionsFlush == nil {
		return nil
	}
	return l.OnAfterSessionsFlush(cc)
}

func (l CloseListenerFuncs) Closed(cc *CommandContext) {
	if l.OnClosed != nil {
		l.OnClosed(cc)
	}
}

func (l CloseListenerFuncs) CloseFailure(cc *CommandContext) {
	if l.OnCloseFailure != nil {
		l.OnCloseFailure(cc)
	}
}
