// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package jobs

import (
	"context"

	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
)

const SessionName = "job"

// Session collects the jobs that become executable in one command.
type Session struct {
	hints []int64
}

func (s *Session) Flush() error {
	return nil
}

func (s *Session) Close() {}

func (s *Session) Hints() []int64 {
	return s.hints
}

// SessionFactory opens job sessions that pass their hints to the hinter after
// a successful commit. Hints of rolled back commands are dropped.
func (m *Manager) SessionFactory() command.SessionFactory {
	return command.NewSessionFactory(SessionName, func(cc *command.CommandContext) (command.Session, error) {
		s := &Session{}
		cc.AddCloseListener(command.CloseListenerFuncs{
			OnClosed: func(cc *command.CommandContext) {
				h := m.currentHinter()
				if h == nil || len(s.hints) == 0 {
					return
				}
				h.Hint(context.WithoutCancel(cc.Context()), s.hints...)
			},
		})
		return s, nil
	})
}
