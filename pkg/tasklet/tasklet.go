// Package tasklet runs interrupt bottom halves outside the interrupt path.
// A tasklet is scheduled from the interrupt handler, runs later on a queue
// worker, never runs concurrently with itself and has at most one pending
// run no matter how often it is scheduled.
package tasklet

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	stateSched  = 1 << iota // a run is pending
	stateRun                // fn is executing
	stateQueued             // an entry sits in the queue
)

// Enqueuer hands a scheduled tasklet to whatever will call its Run method
type Enqueuer interface {
	Enqueue(t *Tasklet) bool
}

// Tasklet is a single-pending-instance deferred work item
type Tasklet struct {
	name string
	fn   func()
	q    Enqueuer
	l    *logrus.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	state    uint32
	inflight int
	killed   bool
}

// New creates a tasklet running fn through q
func New(name string, fn func(), q Enqueuer, l *logrus.Logger) *Tasklet {
	t := &Tasklet{
		name: name,
		fn:   fn,
		q:    q,
		l:    l,
	}
	t.idle = sync.NewCond(&t.mu)
	return t
}

// Name returns the tasklet name
func (t *Tasklet) Name() string {
	return t.name
}

// Schedule requests a run. It never blocks and returns false when a run
// is already pending or the tasklet was killed.
func (t *Tasklet) Schedule() bool {
	t.mu.Lock()
	if t.killed || t.state&stateSched != 0 {
		t.mu.Unlock()
		return false
	}
	t.state |= stateSched
	t.inflight++
	if t.state&stateQueued != 0 {
		// an entry is already waiting for a worker
		t.mu.Unlock()
		return true
	}
	t.state |= stateQueued
	t.mu.Unlock()

	if t.q.Enqueue(t) {
		return true
	}

	t.mu.Lock()
	t.state &^= stateQueued
	// a worker still inside Run may already have taken the request over
	if t.state&stateSched != 0 {
		t.state &^= stateSched
		t.finishLocked()
	}
	t.mu.Unlock()
	t.l.WithField("tasklet", t.name).Error("Failed to enqueue tasklet")
	return false
}

// Run executes pending work. Queue workers call it for every dequeued entry.
// If another worker is already inside fn, that worker picks the pending run up.
func (t *Tasklet) Run() {
	t.mu.Lock()
	t.state &^= stateQueued
	if t.state&stateRun != 0 {
		t.mu.Unlock()
		return
	}

	for t.state&stateSched != 0 {
		t.state = (t.state &^ stateSched) | stateRun
		t.mu.Unlock()

		t.call()

		t.mu.Lock()
		t.state &^= stateRun
		t.finishLocked()
	}
	t.mu.Unlock()
}

func (t *Tasklet) finishLocked() {
	t.inflight--
	if t.inflight == 0 {
		t.idle.Broadcast()
	}
}

func (t *Tasklet) call() {
	defer func() {
		if r := recover(); r != nil {
			t.l.WithField("tasklet", t.name).Errorf("Tasklet panicked: %v", r)
		}
	}()
	t.fn()
}

// Pending reports whether a run is scheduled but has not started
func (t *Tasklet) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state&stateSched != 0
}

// Running reports whether fn is executing
func (t *Tasklet) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state&stateRun != 0
}

// Kill stops further scheduling and waits until pending and running work is done.
// The queue must still be serving entries when Kill is called.
func (t *Tasklet) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.killed = true
	for t.inflight > 0 {
		t.idle.Wait()
	}
}
