// Package memstore is an in-memory implementation of every store the
// services consume. It backs tests and single-process demos, and keeps the
// same unit-of-work semantics as the Postgres stores: writes inside
// WithinTx are undone on error, per-aggregate locks are held until the unit
// ends, and after-commit hooks run only after success.
package memstore

import (
	"context"
	"sync"

	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/txn"
)

// Store holds all tables in maps guarded by one mutex
type Store struct {
	mu            sync.Mutex
	accounts      map[string]*models.Account
	tags          map[string]*models.Tag
	zones         map[string]*models.Zone
	studies       map[string]*models.Study
	events        map[string]*models.Event
	enrollments   map[string]*models.Enrollment
	notifications map[string]*models.Notification
	outbox        map[string]*models.DomainEvent

	locks *keyedLocks
}

// New creates an empty store
func New() *Store {
	return &Store{
		accounts:      make(map[string]*models.Account),
		tags:          make(map[string]*models.Tag),
		zones:         make(map[string]*models.Zone),
		studies:       make(map[string]*models.Study),
		events:        make(map[string]*models.Event),
		enrollments:   make(map[string]*models.Enrollment),
		notifications: make(map[string]*models.Notification),
		outbox:        make(map[string]*models.DomainEvent),
		locks:         newKeyedLocks(),
	}
}

// unit is one open unit of work
type unit struct {
	undo []func()
	held []string
}

type unitKey struct{}

func unitFrom(ctx context.Context) *unit {
	u, _ := ctx.Value(unitKey{}).(*unit)
	return u
}

// WithinTx runs fn as one unit of work. Nested calls join the outer unit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if unitFrom(ctx) != nil {
		return fn(ctx)
	}

	u := &unit{}
	ctx, scope, owner := txn.Begin(context.WithValue(ctx, unitKey{}, u))

	defer func() {
		if r := recover(); r != nil {
			s.rollback(u)
			if owner {
				scope.Discard()
			}
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		s.rollback(u)
		if owner {
			scope.Discard()
		}
		logging.FromContext(ctx).WithError(err).Debug("Unit of work rolled back")
		return err
	}

	s.locks.release(u.held)
	if owner {
		scope.RunHooks(txn.Detach(context.WithValue(ctx, unitKey{}, nil)))
	}
	return nil
}

func (s *Store) rollback(u *unit) {
	s.mu.Lock()
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	s.mu.Unlock()
	s.locks.release(u.held)
}

// lock takes the aggregate lock for key until the unit in ctx ends. Outside
// a unit it is a no-op, as a row lock outside a transaction would be.
func (s *Store) lock(ctx context.Context, key string) error {
	u := unitFrom(ctx)
	if u == nil {
		return nil
	}
	for _, k := range u.held {
		if k == key {
			return nil
		}
	}
	if err := s.locks.acquire(ctx, key); err != nil {
		return err
	}
	u.held = append(u.held, key)
	return nil
}

// put stores v under id and journals the previous value. Caller holds s.mu.
func put[T any](ctx context.Context, m map[string]*T, id string, v *T) {
	prev, existed := m[id]
	m[id] = v
	if u := unitFrom(ctx); u != nil {
		u.undo = append(u.undo, func() {
			if existed {
				m[id] = prev
			} else {
				delete(m, id)
			}
		})
	}
}

// remove deletes id and journals the previous value. Caller holds s.mu.
func remove[T any](ctx context.Context, m map[string]*T, id string) bool {
	prev, existed := m[id]
	if !existed {
		return false
	}
	delete(m, id)
	if u := unitFrom(ctx); u != nil {
		u.undo = append(u.undo, func() { m[id] = prev })
	}
	return true
}

// keyedLocks is a set of mutexes created on demand. Each lock is a buffered
// channel so that waiting honors context cancellation. An entry lives while
// someone holds or waits for it.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) ref(key string) *keyedLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

// unref must be called with k.mu held
func (k *keyedLocks) unref(key string, l *keyedLock) {
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedLocks) acquire(ctx context.Context, key string) error {
	l := k.ref(key)
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.mu.Lock()
		k.unref(key, l)
		k.mu.Unlock()
		return ctx.Err()
	}
}

func (k *keyedLocks) release(keys []string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		l := k.locks[key]
		<-l.ch
		k.unref(key, l)
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
