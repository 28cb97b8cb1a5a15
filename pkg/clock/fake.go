package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a Clock whose time only moves when Advance or Set is called.
// It is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
	done     bool
}

// NewFake returns a fake clock reading initial.
func NewFake(initial time.Time) *Fake {
	f := &Fake{now: initial}
	f.changed = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTimer(d time.Duration) *Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTimer{deadline: f.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		ft.done = true
		ft.ch <- f.now
	} else {
		f.timers = append(f.timers, ft)
		f.changed.Broadcast()
	}
	return &Timer{
		C: ft.ch,
		stop: func() bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			if ft.done {
				return false
			}
			ft.done = true
			f.removeLocked(ft)
			return true
		},
	}
}

// Advance moves time forward by d and fires every timer that came due, in
// deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	f.Set(target)
}

// Set jumps to t. Moving backwards fires nothing.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = t
	var due, remaining []*fakeTimer
	for _, ft := range f.timers {
		if !ft.deadline.After(t) {
			due = append(due, ft)
		} else {
			remaining = append(remaining, ft)
		}
	}
	f.timers = remaining
	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, ft := range due {
		ft.done = true
		ft.ch <- t
	}
	f.changed.Broadcast()
}

// WaitForTimers blocks until at least n timers are pending. Use it to avoid
// racing a goroutine that is about to arm a timer.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.timers) < n {
		f.changed.Wait()
	}
}

// Pending returns the number of armed timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *Fake) removeLocked(target *fakeTimer) {
	for i, ft := range f.timers {
		if ft == target {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			f.changed.Broadcast()
			return
		}
	}
}
