// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package command

// Session is a resource attached to one command context. Sessions are opened
// lazily on first use and flushed in the order they were opened.
type Session interface {
	Flush() error
	Close()
}

// TransactionalSession owns a transaction that is committed after all
// sessions were flushed, or rolled back when the command fails.
type TransactionalSession interface {
	Session
	Commit() error
	Rollback()
}

type SessionFactory interface {
	// SessionName is the name the session is looked up by.
	SessionName() string
	OpenSession(cc *CommandContext) (Session, error)
}

type sessionFactoryFunc struct {
	name string
	open func(cc *CommandContext) (Session, error)
}

func (f sessionFactoryFunc) SessionName() string {
	return f.name
}

func (f sessionFactoryFunc) OpenSession(cc *CommandContext) (Session, error) {
	return f.open(cc)
}

// NewSessionFactory adapts an open function to SessionFactory.
func NewSessionFactory(name string, open func(cc *CommandContext) (Session, error)) SessionFactory {
	return sessionFactoryFunc{name: name, open: open}
}
