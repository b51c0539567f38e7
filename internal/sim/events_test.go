package sim

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time, 1)
}

func (c *fakeClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestEventSchedulerRunsInTimeOrder(t *testing.T) {
	clock := newFakeClock(epoch)
	sched := NewEventScheduler(clock)

	var order []string
	sched.Schedule(epoch.Add(3*time.Millisecond), func() { order = append(order, "c") })
	sched.Schedule(epoch.Add(1*time.Millisecond), func() { order = append(order, "a") })
	sched.Schedule(epoch.Add(1*time.Millisecond), func() { order = append(order, "b") })

	sched.RunDue()
	if len(order) != 0 {
		t.Fatalf("events ran before their time: %v", order)
	}

	clock.AdvanceTo(epoch.Add(2 * time.Millisecond))
	sched.RunDue()
	if got := len(order); got != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order after 2ms = %v, want [a b]", order)
	}
	if sched.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", sched.Pending())
	}

	clock.AdvanceTo(epoch.Add(5 * time.Millisecond))
	sched.RunDue()
	sched.RunDue()
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", order)
	}
}

func TestEventSchedulerCancel(t *testing.T) {
	clock := newFakeClock(epoch)
	sched := NewEventScheduler(clock)

	ran := false
	id := sched.Schedule(epoch, func() { ran = true })
	sched.Cancel(id)
	sched.Cancel(id)
	sched.Cancel("ev-unknown")
	sched.RunDue()
	if ran {
		t.Fatalf("cancelled event ran")
	}
	if sched.Pending() != 0 {
		t.Fatalf("Pending = %d after cancel", sched.Pending())
	}
}

func TestEventSchedulerReentrantSchedule(t *testing.T) {
	clock := newFakeClock(epoch)
	sched := NewEventScheduler(clock)

	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			sched.Schedule(clock.Now(), tick)
		}
		sched.Schedule(clock.Now().Add(time.Millisecond), func() {})
	}
	sched.Schedule(epoch, tick)
	sched.RunDue()
	if count != 3 {
		t.Fatalf("re-entrant events ran %d times, want 3", count)
	}
	if sched.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3 future events", sched.Pending())
	}
}
