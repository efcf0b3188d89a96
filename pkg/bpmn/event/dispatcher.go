// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package event

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/command"
	"github.com/pbinitiative/zenpvm/pkg/clock"
)

// SessionName is the command session buffering events for deferred listeners.
const SessionName = "event"

type registration struct {
	listener Listener
	types    []Type
	deferred bool
}

func (r registration) accepts(t Type) bool {
	return len(r.types) == 0 || slices.Contains(r.types, t)
}

// Dispatcher fans events out to listeners. Ordinary listeners are called
// synchronously inside the command that raised the event and an error they
// return fails that command. Deferred listeners are called after the command
// committed; their errors are only logged.
type Dispatcher struct {
	mu            sync.RWMutex
	registrations []registration
	clock         clock.Clock
	logger        hclog.Logger
}

func NewDispatcher(c clock.Clock, logger hclog.Logger) *Dispatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Dispatcher{clock: c, logger: logger.Named("event-dispatcher")}
}

// AddListener registers l for the given types; no types means all of them.
func (d *Dispatcher) AddListener(l Listener, types ...Type) {
	d.add(registration{listener: l, types: types})
}

func (d *Dispatcher) AddDeferredListener(l Listener, types ...Type) {
	d.add(registration{listener: l, types: types, deferred: true})
}

func (d *Dispatcher) add(r registration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registrations = append(d.registrations, r)
}

// Enabled reports whether anybody listens to t.
func (d *Dispatcher) Enabled(t Type) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.registrations {
		if r.accepts(t) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) snapshot() []registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.registrations)
}

// Dispatch delivers e to the synchronous listeners and queues it for the
// deferred ones in the event session of cc.
func (d *Dispatcher) Dispatch(cc *command.CommandContext, e Event) error {
	if e.Time.IsZero() {
		e.Time = d.clock.Now()
	}
	var deferred bool
	for _, r := range d.snapshot() {
		if !r.accepts(e.Type) {
			continue
		}
		if r.deferred {
			deferred = true
			continue
		}
		if err := r.listener.OnEvent(cc.Context(), e); err != nil {
			return fmt.Errorf("event listener failed on %s: %w", e.Type, err)
		}
	}
	if !deferred {
		return nil
	}
	s, err := command.GetSession[*Session](cc, SessionName)
	if err != nil {
		return err
	}
	s.queue = append(s.queue, e)
	return nil
}

// DispatchNow delivers e to every matching listener outside of any command.
func (d *Dispatcher) DispatchNow(ctx context.Context, e Event) {
	if e.Time.IsZero() {
		e.Time = d.clock.Now()
	}
	for _, r := range d.snapshot() {
		if !r.accepts(e.Type) {
			continue
		}
		if err := r.listener.OnEvent(ctx, e); err != nil {
			d.logger.Warn("event listener failed", "type", e.Type, "err", err)
		}
	}
}

func (d *Dispatcher) deliverDeferred(ctx context.Context, events []Event) {
	regs := d.snapshot()
	for _, e := range events {
		for _, r := range regs {
			if !r.deferred || !r.accepts(e.Type) {
				continue
			}
			if err := r.listener.OnEvent(ctx, e); err != nil {
				d.logger.Warn("deferred event listener failed", "type", e.Type, "err", err)
			}
		}
	}
}

// Session buffers the events of one command until it closed.
type Session struct {
	dispatcher *Dispatcher
	queue      []Event
}

var _ command.Session = &Session{}

func (s *Session) Flush() error {
	return nil
}

func (s *Session) Close() {
	s.queue = nil
}

// Pending returns the events waiting for deferred delivery.
func (s *Session) Pending() []Event {
	return slices.Clone(s.queue)
}

// SessionFactory opens the deferred delivery session. Queued events are
// delivered once the command closed and dropped when it failed.
func (d *Dispatcher) SessionFactory() command.SessionFactory {
	return command.NewSessionFactory(SessionName, func(cc *command.CommandContext) (command.Session, error) {
		s := &Session{dispatcher: d}
		cc.AddCloseListener(command.CloseListenerFuncs{
			OnClosed: func(cc *command.CommandContext) {
				queue := s.queue
				s.queue = nil
				d.deliverDeferred(cc.Context(), queue)
			},
			OnCloseFailure: func(cc *command.CommandContext) {
				s.queue = nil
			},
		})
		return s, nil
	})
}
