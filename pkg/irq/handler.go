// Package irq is the top half of the bridge interrupt: it acknowledges the
// MSI status words and hands FGPI buffer completions to deferred work.
package irq

import (
	"math/bits"

	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/emergingrobotics/go-saa716x/pkg/stats"
	"github.com/sirupsen/logrus"
)

// Result tells the interrupt source whether the event belonged to this device
type Result int

const (
	// NotOurs leaves a shared line to the other handlers
	NotOurs Result = iota
	Handled
)

func (r Result) String() string {
	if r == Handled {
		return "handled"
	}
	return "not ours"
}

// Scheduler defers work out of interrupt context. Schedule must not block
// and coalesces while a run is pending.
type Scheduler interface {
	Schedule() bool
}

// Notifier is told about every handled event before channels are dispatched
type Notifier interface {
	Event(s driver.IrqStatus) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(s driver.IrqStatus) error

// Event calls f
func (f NotifierFunc) Event(s driver.IrqStatus) error { return f(s) }

// Binding routes a tag acknowledge bit of the low status word to a channel
type Binding struct {
	Name    string
	AckMask uint32
	Work    Scheduler
}

// Handler is the interrupt handler of one card
type Handler struct {
	l        *logrus.Logger
	bank     *driver.Bank
	bindings []Binding
	notifier Notifier
	known    uint32
	counters *stats.IRQCounters
}

// NewHandler creates a handler dispatching to bindings. A nil notifier
// selects the stats counting one; st may be nil.
func NewHandler(l *logrus.Logger, bank *driver.Bank, bindings []Binding, notifier Notifier, st *stats.Stats) *Handler {
	if st == nil {
		st = stats.New(nil)
	}
	counters := st.IRQ()
	if notifier == nil {
		notifier = &StatsNotifier{l: l, counters: counters}
	}

	h := &Handler{
		l:        l,
		bank:     bank,
		bindings: append([]Binding(nil), bindings...),
		notifier: notifier,
		counters: counters,
	}
	for _, b := range h.bindings {
		h.known |= b.AckMask
	}
	return h
}

// Handle runs one interrupt. It never blocks: status is cleared before any
// channel is scheduled so events raised during the drain fire again.
func (h *Handler) Handle() Result {
	if h == nil || h.bank == nil {
		return NotOurs
	}

	s := h.bank.ReadIrqStatus()
	if !s.Pending() {
		h.counters.NotOurs.Inc(1)
		return NotOurs
	}

	h.bank.ClearIrqStatus(s)

	if err := h.notifier.Event(s); err != nil {
		h.l.WithError(err).WithField("status", s.String()).Debug("Interrupt notifier failed")
	}

	for _, b := range h.bindings {
		if s.StatusL&b.AckMask == 0 {
			continue
		}
		if !b.Work.Schedule() && h.l.IsLevelEnabled(logrus.TraceLevel) {
			h.l.WithField("channel", b.Name).Trace("Drain already pending")
		}
	}

	if other := s.StatusL&s.EnableL&^h.known | s.StatusH&s.EnableH; other != 0 && h.l.IsLevelEnabled(logrus.DebugLevel) {
		h.l.WithField("status", s.String()).Debug("Interrupt sources without a channel")
	}

	h.counters.Handled.Inc(1)
	return Handled
}

// StatsNotifier counts events per source bit and logs them at debug level
type StatsNotifier struct {
	l        *logrus.Logger
	counters *stats.IRQCounters
}

// NewStatsNotifier creates a notifier counting into st
func NewStatsNotifier(l *logrus.Logger, st *stats.Stats) *StatsNotifier {
	return &StatsNotifier{l: l, counters: st.IRQ()}
}

// Event implements Notifier
func (n *StatsNotifier) Event(s driver.IrqStatus) error {
	for w, word := range [2]uint32{s.StatusL, s.StatusH} {
		for word != 0 {
			bit := bits.TrailingZeros32(word)
			word &^= 1 << bit
			n.counters.Source(w*32 + bit)
		}
	}
	if n.l.IsLevelEnabled(logrus.DebugLevel) {
		n.l.Debug(s.String())
	}
	return nil
}
