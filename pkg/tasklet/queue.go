package tasklet

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrQueueClosed is returned when starting a closed queue
var ErrQueueClosed = errors.New("tasklet queue is closed")

// Queue runs scheduled tasklets on a fixed set of worker goroutines.
// Every tasklet occupies at most one entry, so capacity only needs to
// cover the number of tasklets sharing the queue.
type Queue struct {
	l       *logrus.Logger
	work    chan *Tasklet
	workers int
	eg      errgroup.Group

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewQueue creates a queue for up to capacity tasklets
func NewQueue(l *logrus.Logger, workers, capacity int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		l:       l,
		work:    make(chan *Tasklet, capacity),
		workers: workers,
	}
}

// Workers returns the number of worker goroutines
func (q *Queue) Workers() int {
	return q.workers
}

// Start launches the workers
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return nil
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.eg.Go(func() error {
			for t := range q.work {
				t.Run()
			}
			return nil
		})
	}
	q.l.WithField("workers", q.workers).Debug("Tasklet queue started")
	return nil
}

// Enqueue adds t without blocking
func (q *Queue) Enqueue(t *Tasklet) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}

	select {
	case q.work <- t:
		return true
	default:
		q.l.WithField("tasklet", t.Name()).WithField("capacity", cap(q.work)).Error("Tasklet queue full")
		return false
	}
}

// Close stops accepting entries, lets the workers drain what is queued and waits for them
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.work)
	started := q.started
	q.mu.Unlock()

	if !started {
		// nobody will run what is left, release any Kill waiting on it
		for t := range q.work {
			t.Run()
		}
	}
	return q.eg.Wait()
}
