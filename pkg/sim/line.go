package sim

import (
	"context"
	"errors"
	"sync"
)

// ErrLineClosed is returned by Wait after Close
var ErrLineClosed = errors.New("interrupt line closed")

// Line is a level-triggered interrupt that masks itself when it fires, like
// uio_pci_generic does with INTx, until Unmask is called
type Line struct {
	hw *Hardware

	mu        sync.Mutex
	count     uint32
	delivered uint32
	masked    bool
	closed    bool
	notify    chan struct{}
	done      chan struct{}
}

func newLine(hw *Hardware) *Line {
	return &Line{
		hw:     hw,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (l *Line) assert() {
	l.mu.Lock()
	if l.closed || l.masked {
		l.mu.Unlock()
		return
	}
	l.count++
	l.masked = true
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Wait implements driver.InterruptLine
func (l *Line) Wait(ctx context.Context) (uint32, error) {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return 0, ErrLineClosed
		}
		if l.count != l.delivered {
			l.delivered = l.count
			n := l.count
			l.mu.Unlock()
			return n, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-l.done:
		case <-l.notify:
		}
	}
}

// Unmask implements driver.InterruptLine; a source still pending fires again
func (l *Line) Unmask() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLineClosed
	}
	l.masked = false
	l.mu.Unlock()

	if l.hw.Pending() {
		l.assert()
	}
	return nil
}

// Count returns how many times the line fired
func (l *Line) Count() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close implements driver.InterruptLine
func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}
