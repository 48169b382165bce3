package service

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/types"
)

const pbtAccounts = 6

// op encodes one enrollment action: op / pbtAccounts picks the action,
// op % pbtAccounts the account
type op int

func (o op) kind() int       { return int(o) / pbtAccounts }
func (o op) account() string { return fmt.Sprintf("acc-%d", int(o)%pbtAccounts) }

var genOps = gen.SliceOf(gen.IntRange(0, 5*pbtAccounts-1).Map(func(v int) op { return op(v) }))

var genEventType = gen.Bool().Map(func(fcfs bool) types.EventType {
	if fcfs {
		return types.EventFCFS
	}
	return types.EventConfirmative
})

// replay applies ops to a fresh event. The clock advances on odd steps only
// so that some enrollments share an instant.
func replay(eventType types.EventType, limit int, ops []op, check func(*EnrollmentEngine, *models.Event) bool) (*EnrollmentEngine, *models.Event, bool) {
	clock := newTestClock()
	engine := NewEnrollmentEngine(clock.Now)
	event := newTestEvent(clock, eventType, limit)

	for i, o := range ops {
		if i%2 == 1 {
			clock.Advance(time.Second)
		}
		account := o.account()
		switch o.kind() {
		case 0:
			engine.Enroll(event, account, fmt.Sprintf("en-%d", i))
		case 1:
			engine.Leave(event, account)
		case 2:
			if e := engine.EnrollmentOf(event, account); e != nil {
				engine.Accept(event, e)
			}
		case 3:
			if e := engine.EnrollmentOf(event, account); e != nil {
				engine.Reject(event, e)
			}
		case 4:
			if e := engine.EnrollmentOf(event, account); e != nil {
				engine.Attend(e)
			}
		}
		if check != nil && !check(engine, event) {
			return engine, event, false
		}
	}
	return engine, event, true
}

func enrollmentParameters() *gopter.TestParameters {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300
	return params
}

func TestEnrollmentProperties(t *testing.T) {
	properties := gopter.NewProperties(enrollmentParameters())

	properties.Property("accepted count never exceeds the limit", prop.ForAll(
		func(eventType types.EventType, limit int, ops []op) bool {
			_, _, ok := replay(eventType, limit, ops, func(g *EnrollmentEngine, e *models.Event) bool {
				return g.AcceptedCount(e) <= e.LimitOfEnrollments
			})
			return ok
		},
		genEventType, gen.IntRange(1, 4), genOps,
	))

	properties.Property("one enrollment per account", prop.ForAll(
		func(eventType types.EventType, limit int, ops []op) bool {
			_, _, ok := replay(eventType, limit, ops, func(_ *EnrollmentEngine, e *models.Event) bool {
				seen := make(map[string]bool)
				for _, en := range e.Enrollments {
					if seen[en.AccountID] {
						return false
					}
					seen[en.AccountID] = true
				}
				return true
			})
			return ok
		},
		genEventType, gen.IntRange(1, 4), genOps,
	))

	properties.Property("enrollments stay in (enrolledAt, seq) order", prop.ForAll(
		func(eventType types.EventType, limit int, ops []op) bool {
			_, _, ok := replay(eventType, limit, ops, func(_ *EnrollmentEngine, e *models.Event) bool {
				return slices.IsSortedFunc(e.Enrollments, func(a, b *models.Enrollment) int {
					switch {
					case a.Before(b):
						return -1
					case b.Before(a):
						return 1
					}
					return 0
				})
			})
			return ok
		},
		genEventType, gen.IntRange(1, 4), genOps,
	))

	properties.Property("FCFS never leaves a spot free while someone waits", prop.ForAll(
		func(limit int, ops []op) bool {
			_, _, ok := replay(types.EventFCFS, limit, ops, func(g *EnrollmentEngine, e *models.Event) bool {
				return g.WaitingCount(e) == 0 || g.RemainingSpots(e) == 0
			})
			return ok
		},
		gen.IntRange(1, 4), genOps,
	))

	properties.Property("FCFS accepts exactly the earliest enrollments", prop.ForAll(
		func(limit int, ops []op) bool {
			_, _, ok := replay(types.EventFCFS, limit, ops, func(_ *EnrollmentEngine, e *models.Event) bool {
				// once a waiting enrollment is seen, no later one may be accepted
				waitingSeen := false
				for _, en := range e.Enrollments {
					if !en.Accepted {
						waitingSeen = true
					} else if waitingSeen {
						return false
					}
				}
				return true
			})
			return ok
		},
		gen.IntRange(1, 4), genOps,
	))

	properties.Property("promotion is idempotent", prop.ForAll(
		func(eventType types.EventType, limit int, ops []op) bool {
			g, e, _ := replay(eventType, limit, ops, nil)
			g.PromoteWaitlist(e)
			before := acceptedIDs(e)
			second := g.PromoteWaitlist(e)
			return len(second) == 0 && slices.Equal(before, acceptedIDs(e))
		},
		genEventType, gen.IntRange(1, 4), genOps,
	))

	properties.Property("batch acceptance equals repeated promotion after a limit raise", prop.ForAll(
		func(eventType types.EventType, limit, raise int, ops []op) bool {
			g, e, _ := replay(eventType, limit, ops, nil)
			e.LimitOfEnrollments += raise

			batch := cloneEventDeep(e)
			g.AcceptWaitlistBatch(batch)

			repeated := cloneEventDeep(e)
			for len(g.PromoteWaitlist(repeated)) > 0 {
			}
			return slices.Equal(acceptedIDs(batch), acceptedIDs(repeated))
		},
		genEventType, gen.IntRange(1, 4), gen.IntRange(0, 4), genOps,
	))

	properties.TestingRun(t)
}
