package testutil

import (
	"sync"

	"github.com/emergingrobotics/go-saa716x/pkg/tasklet"
)

// RecordingQueue is a tasklet queue that only records entries until told to run them
type RecordingQueue struct {
	mu      sync.Mutex
	entries []*tasklet.Tasklet
	refuse  bool
}

// Enqueue records t
func (q *RecordingQueue) Enqueue(t *tasklet.Tasklet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.refuse {
		return false
	}
	q.entries = append(q.entries, t)
	return true
}

// SetRefuse makes Enqueue fail
func (q *RecordingQueue) SetRefuse(refuse bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refuse = refuse
}

// Len returns the number of waiting entries
func (q *RecordingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// RunAll runs entries in order, including ones added while running, and
// returns how many were processed
func (q *RecordingQueue) RunAll() int {
	n := 0
	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.mu.Unlock()
			return n
		}
		t := q.entries[0]
		q.entries = q.entries[1:]
		q.mu.Unlock()

		t.Run()
		n++
	}
}

// Delivery is one chunk handed to a RecordingSink
type Delivery struct {
	Data []byte
}

// RecordingSink keeps a copy of everything ingested
type RecordingSink struct {
	mu         sync.Mutex
	deliveries []Delivery

	// OnIngest runs after each delivery with its 1-based number, outside the lock
	OnIngest func(n int)
}

// Ingest records a copy of data
func (s *RecordingSink) Ingest(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.deliveries = append(s.deliveries, Delivery{Data: cp})
	n := len(s.deliveries)
	hook := s.OnIngest
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
}

// Deliveries returns what was ingested so far
func (s *RecordingSink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// Count returns the number of deliveries
func (s *RecordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

// Tags returns the first byte after the sync byte of each delivery; the
// simulator and StampSegment put the segment sequence number there
func (s *RecordingSink) Tags() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if len(d.Data) > 1 {
			out = append(out, d.Data[1])
		}
	}
	return out
}

// StampSegment writes a recognisable pattern into seg: sync byte then tag
func StampSegment(seg []byte, tag byte) {
	for i := range seg {
		seg[i] = 0
	}
	if len(seg) > 1 {
		seg[0] = 0x47
		seg[1] = tag
	}
}
