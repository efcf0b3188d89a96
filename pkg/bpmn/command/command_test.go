// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package command

import (
	"context"
	"errors"
	"testing"

	"github.com/pbinitiative/zenpvm/internal/appcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (r *recorder) add(e string) {
	r.events = append(r.events, e)
}

type fakeSession struct {
	name     string
	rec      *recorder
	flushErr error
}

func (s *fakeSession) Flush() error {
	s.rec.add("flush:" + s.name)
	return s.flushErr
}

func (s *fakeSession) Close() {
	s.rec.add("close:" + s.name)
}

func (s *fakeSession) Commit() error {
	s.rec.add("commit:" + s.name)
	return nil
}

func (s *fakeSession) Rollback() {
	s.rec.add("rollback:" + s.name)
}

func newTestExecutor(rec *recorder, sessions ...*fakeSession) *Executor {
	opts := []ExecutorOption{}
	for _, s := range sessions {
		opts = append(opts, WithSessionFactory(NewSessionFactory(s.name, func(cc *CommandContext) (Session, error) {
			rec.add("open:" + s.name)
			return s, nil
		})))
	}
	return NewExecutor(opts...)
}

func recordingListener(rec *recorder) CloseListener {
	return CloseListenerFuncs{
		OnClosing: func(cc *CommandContext) error {
			rec.add("closing")
			return nil
		},
		OnAfterSessionsFlush: func(cc *CommandContext) error {
			rec.add("afterSessionsFlush")
			return nil
		},
		OnClosed: func(cc *CommandContext) {
			rec.add("closed")
		},
		OnCloseFailure: func(cc *CommandContext) {
			rec.add("closeFailure")
		},
	}
}

func TestCloseListenersRunInProtocolOrder(t *testing.T) {
	// given
	rec := &recorder{}
	db := &fakeSession{name: "db", rec: rec}
	e := newTestExecutor(rec, db)

	// when
	res, err := Run(t.Context(), e, Func[int](func(cc *CommandContext) (int, error) {
		_, err := cc.Session("db")
		require.NoError(t, err)
		cc.AddCloseListener(recordingListener(rec))
		return 42, nil
	}))

	// then
	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t, []string{"open:db", "closing", "flush:db", "afterSessionsFlush", "commit:db", "closed", "close:db"}, rec.events)
}

func TestFailedCommandRollsBackBeforeCloseFailure(t *testing.T) {
	// given
	rec := &recorder{}
	db := &fakeSession{name: "db", rec: rec}
	e := newTestExecutor(rec, db)
	boom := errors.New("boom")

	// when
	_, err := Run(t.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
		_, _ = cc.Session("db")
		cc.AddCloseListener(recordingListener(rec))
		return struct{}{}, boom
	}))

	// then
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"open:db", "rollback:db", "closeFailure", "close:db"}, rec.events)
}

func TestFlushFailureRollsBack(t *testing.T) {
	// given
	rec := &recorder{}
	flushErr := errors.New("flush failed")
	db := &fakeSession{name: "db", rec: rec, flushErr: flushErr}
	e := newTestExecutor(rec, db)

	// when
	_, err := Run(t.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
		_, _ = cc.Session("db")
		cc.AddCloseListener(recordingListener(rec))
		return struct{}{}, nil
	}))

	// then
	assert.ErrorIs(t, err, flushErr)
	assert.Equal(t, []string{"open:db", "closing", "flush:db", "rollback:db", "closeFailure", "close:db"}, rec.events)
}

func TestSessionsAreOpenedLazilyAndOnce(t *testing.T) {
	// given
	rec := &recorder{}
	a := &fakeSession{name: "a", rec: rec}
	b := &fakeSession{name: "b", rec: rec}
	e := newTestExecutor(rec, a, b)

	// when
	_, err := Run(t.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
		first, err := GetSession[*fakeSession](cc, "b")
		require.NoError(t, err)
		second, err := GetSession[*fakeSession](cc, "b")
		require.NoError(t, err)
		assert.Same(t, first, second)
		return struct{}{}, nil
	}))

	// then
	require.NoError(t, err)
	assert.Equal(t, []string{"open:b", "flush:b", "commit:b", "close:b"}, rec.events)
}

func TestUnknownSessionIsAnError(t *testing.T) {
	e := NewExecutor()
	_, err := Run(t.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
		_, err := cc.Session("missing")
		return struct{}{}, err
	}))
	assert.ErrorContains(t, err, "missing")
}

func TestNestedRequiredSharesContextAndMarksFailure(t *testing.T) {
	// given
	rec := &recorder{}
	db := &fakeSession{name: "db", rec: rec}
	e := newTestExecutor(rec, db)
	inner := errors.New("inner failed")

	// when
	_, err := Run(t.Context(), e, Func[struct{}](func(outer *CommandContext) (struct{}, error) {
		_, _ = outer.Session("db")
		_, nestedErr := Run(outer.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
			assert.Same(t, outer, cc)
			return struct{}{}, inner
		}))
		assert.ErrorIs(t, nestedErr, inner)
		// the outer command swallows the error, the context still rolls back
		return struct{}{}, nil
	}))

	// then
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, []string{"open:db", "rollback:db", "close:db"}, rec.events)
}

func TestRequiresNewCommitsIndependently(t *testing.T) {
	// given
	rec := &recorder{}
	db := &fakeSession{name: "db", rec: rec}
	e := newTestExecutor(rec, db)
	outerErr := errors.New("outer failed")

	// when
	_, err := Run(t.Context(), e, Func[struct{}](func(outer *CommandContext) (struct{}, error) {
		_, err := RunNew(outer.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
			assert.NotSame(t, outer, cc)
			_, err := cc.Session("db")
			return struct{}{}, err
		}))
		require.NoError(t, err)
		return struct{}{}, outerErr
	}))

	// then
	assert.ErrorIs(t, err, outerErr)
	assert.Equal(t, []string{"open:db", "flush:db", "commit:db", "close:db"}, rec.events)
}

func TestClosedContextIsNotReused(t *testing.T) {
	// given
	e := NewExecutor()
	var first *CommandContext
	var inClosed *CommandContext

	// when
	_, err := Run(t.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
		first = cc
		cc.AddCloseListener(CloseListenerFuncs{OnClosed: func(cc *CommandContext) {
			_, err := Run(cc.Context(), e, Func[struct{}](func(next *CommandContext) (struct{}, error) {
				inClosed = next
				return struct{}{}, nil
			}))
			assert.NoError(t, err)
		}})
		return struct{}{}, nil
	}))

	// then
	require.NoError(t, err)
	require.NotNil(t, inClosed)
	assert.NotSame(t, first, inClosed)
}

func TestListenersAddedWhileClosingTakePart(t *testing.T) {
	// given
	rec := &recorder{}
	e := NewExecutor()

	// when
	_, err := Run(t.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
		cc.AddCloseListener(CloseListenerFuncs{OnClosing: func(cc *CommandContext) error {
			rec.add("closing:first")
			cc.AddCloseListener(CloseListenerFuncs{
				OnClosing: func(cc *CommandContext) error {
					rec.add("closing:second")
					return nil
				},
				OnClosed: func(cc *CommandContext) { rec.add("closed:second") },
			})
			return nil
		}})
		return struct{}{}, nil
	}))

	// then
	require.NoError(t, err)
	assert.Equal(t, []string{"closing:first", "closing:second", "closed:second"}, rec.events)
}

func TestPanicIsRecoveredAndRolledBack(t *testing.T) {
	// given
	rec := &recorder{}
	db := &fakeSession{name: "db", rec: rec}
	e := newTestExecutor(rec, db)

	// when
	_, err := Run(t.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
		_, _ = cc.Session("db")
		panic("kaboom")
	}))

	// then
	require.Error(t, err)
	assert.True(t, IsPanic(err))
	assert.Equal(t, []string{"open:db", "rollback:db", "close:db"}, rec.events)
}

func TestInterceptorsWrapInOrder(t *testing.T) {
	// given
	rec := &recorder{}
	tag := func(name string) Interceptor {
		return func(next Handler) Handler {
			return func(ctx context.Context, inv Invocation) error {
				rec.add(name + ":" + inv.Name)
				return next(ctx, inv)
			}
		}
	}
	e := NewExecutor(WithInterceptor(tag("outer")), WithInterceptor(tag("inner")), WithInterceptor(ContextInterceptor()))

	// when
	_, err := Run(t.Context(), e, NewNamed("DoThings", func(cc *CommandContext) (struct{}, error) {
		name, ok := appcontext.GetCommandName(cc.Context())
		assert.True(t, ok)
		assert.Equal(t, "DoThings", name)
		return struct{}{}, nil
	}))

	// then
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:DoThings", "inner:DoThings"}, rec.events)
}

func TestInvokerWrapsOutermostCommandOnly(t *testing.T) {
	// given
	calls := 0
	e := NewExecutor(WithInvoker(func(cc *CommandContext, execute func() error) error {
		calls++
		return execute()
	}))

	// when
	_, err := Run(t.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
		_, err := Run(cc.Context(), e, Func[struct{}](func(cc *CommandContext) (struct{}, error) {
			return struct{}{}, nil
		}))
		return struct{}{}, err
	}))

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

type typedCommand struct{}

func (typedCommand) Execute(cc *CommandContext) (string, error) {
	return "ok", nil
}

func TestCommandNames(t *testing.T) {
	assert.Equal(t, "typedCommand", nameOf(typedCommand{}))
	assert.Equal(t, "typedCommand", nameOf(&typedCommand{}))
	assert.Equal(t, "Func", nameOf(Func[int](nil)))
	assert.Equal(t, "Start", nameOf(NewNamed[int]("Start", nil)))
}

func TestOptimisticLockingErrorUnwraps(t *testing.T) {
	cause := errors.New("revision 3 expected")
	err := error(&OptimisticLockingError{Err: cause})
	assert.True(t, IsOptimisticLockingFailure(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsOptimisticLockingFailure(cause))
}
