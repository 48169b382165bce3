// Package txn carries a unit of work's after-commit hooks through a context.
//
// A transaction manager opens a Scope when a unit of work starts, runs the
// scope's hooks once the commit succeeded, and discards them on rollback.
package txn

import (
	"context"
	"sync"

	"github.com/study-hub/internal/logging"
)

// Hook runs after the owning unit of work has committed
type Hook func(ctx context.Context)

// Scope collects after-commit hooks for one unit of work
type Scope struct {
	mu    sync.Mutex
	hooks []Hook
}

type scopeKey struct{}

// Begin returns a context bound to a fresh Scope. If ctx already carries a
// scope the unit of work is nested and the existing scope is reused; the
// returned bool is false in that case and the caller must not run the hooks.
func Begin(ctx context.Context) (context.Context, *Scope, bool) {
	if s, ok := ctx.Value(scopeKey{}).(*Scope); ok {
		return ctx, s, false
	}
	s := &Scope{}
	return context.WithValue(ctx, scopeKey{}, s), s, true
}

// InScope reports whether ctx belongs to an open unit of work
func InScope(ctx context.Context) bool {
	_, ok := ctx.Value(scopeKey{}).(*Scope)
	return ok
}

// AfterCommit schedules hook to run once the unit of work in ctx commits.
// Outside a unit of work the hook runs immediately.
func AfterCommit(ctx context.Context, hook Hook) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	if !ok {
		hook(ctx)
		return
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// RunHooks runs the collected hooks in registration order. ctx should be
// detached from the unit of work so hooks do not see the scope again.
func (s *Scope) RunHooks(ctx context.Context) {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.FromContext(ctx).WithField("panic", r).Error("after-commit hook panicked")
				}
			}()
			h(ctx)
		}()
	}
}

// Discard drops the collected hooks
func (s *Scope) Discard() {
	s.mu.Lock()
	s.hooks = nil
	s.mu.Unlock()
}

// Detach returns a context without the scope but with the same values and
// cancellation otherwise, for running hooks after commit.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, nil)
}
