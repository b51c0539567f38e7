package sim

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/sidelink-mac/timectrl"
)

// EventScheduler runs callbacks at simulation times taken from a SimClock.
// The engine calls RunDue once per subframe, before the MACs tick, so
// traffic scheduled for a subframe is visible to the scheduler in it.
type EventScheduler interface {
	// Schedule registers f to run at simulation time at and returns an id
	// usable with Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel is a no-op if the id is unknown or the event already ran.
	Cancel(id string)

	Now() time.Time

	// RunDue executes all events whose time is <= Now(), in time order.
	// Events scheduled by a callback for a time already due run in the
	// same call.
	RunDue()

	// Pending is the number of events not yet run or cancelled.
	Pending() int
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // earliest first
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a scheduler backed by clock.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}
	s.insertLocked(ev)
	s.index[id] = ev
	return id
}

// insertLocked keeps events ordered by time; events at the same time run
// in scheduling order.
func (s *eventScheduler) insertLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	// Removal from s.events is lazy.
	ev.cancelled = true
	delete(s.index, id)
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// popDueLocked removes and returns the earliest due event, or nil.
func (s *eventScheduler) popDueLocked(now time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

func (s *eventScheduler) RunDue() {
	now := s.clock.Now()
	for {
		s.mu.Lock()
		ev := s.popDueLocked(now)
		s.mu.Unlock()
		if ev == nil {
			return
		}
		// Outside the lock so callbacks may schedule more events.
		if ev.f != nil {
			ev.f()
		}
	}
}
