package loop

import (
	"context"
	"sort"
	"time"
)

// Manual is a deterministic Scheduler driven by a virtual clock. Work passed
// to Go runs inline, timers fire only from Advance, and posted callbacks run
// in order before Post returns (unless a drain is already in progress).
//
// Manual is not safe for concurrent use; it is meant for tests and
// single-goroutine drivers.
type Manual struct {
	now      time.Time
	queue    []func()
	draining bool
	timers   []*manualTimer
	seq      int
}

// NewManual returns a Manual whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Post(f func()) {
	m.queue = append(m.queue, f)
	if m.draining {
		return
	}

	m.draining = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		next()
	}
	m.draining = false
}

// Do runs f through Post. Called outside a drain, f has run by the time Do
// returns.
func (m *Manual) Do(_ context.Context, f func()) error {
	m.Post(f)
	return nil
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.seq++
	t := &manualTimer{when: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) Go(work func() func()) {
	if cont := work(); cont != nil {
		m.Post(cont)
	}
}

func (m *Manual) Now() time.Time {
	return m.now
}

// Advance moves the clock forward by d, firing every timer that falls due
// in order of expiry.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.when
		t.fired = true
		m.Post(t.f)
	}
	m.now = target
	m.compact()
}

func (m *Manual) nextDue(limit time.Time) *manualTimer {
	active := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.fired && !t.stopped && !t.when.After(limit) {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return nil
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].when.Equal(active[j].when) {
			return active[i].seq < active[j].seq
		}
		return active[i].when.Before(active[j].when)
	})
	return active[0]
}

func (m *Manual) compact() {
	kept := m.timers[:0]
	for _, t := range m.timers {
		if !t.fired && !t.stopped {
			kept = append(kept, t)
		}
	}
	m.timers = kept
}

// PendingTimers reports how many timers are still armed.
func (m *Manual) PendingTimers() int {
	n := 0
	for _, t := range m.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type manualTimer struct {
	when    time.Time
	seq     int
	f       func()
	fired   bool
	stopped bool
}

func (t *manualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
