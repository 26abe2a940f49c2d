// Package stats keeps the counters of one card in a go-metrics registry and
// exports them to prometheus.
package stats

import (
	"fmt"

	"github.com/rcrowley/go-metrics"
)

// Stats owns the registry of one device
type Stats struct {
	reg metrics.Registry
}

// New creates stats backed by reg, or by a fresh registry when reg is nil
func New(reg metrics.Registry) *Stats {
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Stats{reg: reg}
}

// Registry returns the backing registry
func (s *Stats) Registry() metrics.Registry {
	return s.reg
}

// Counter returns the named counter, registering it on first use
func (s *Stats) Counter(name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(name, s.reg)
}

// Snapshot returns the value of every counter in the registry
func (s *Stats) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	s.reg.Each(func(name string, m interface{}) {
		if c, ok := m.(metrics.Counter); ok {
			out[name] = c.Count()
		}
	})
	return out
}

// IRQCounters are updated by the interrupt handler
type IRQCounters struct {
	Handled metrics.Counter
	NotOurs metrics.Counter

	s *Stats
}

// IRQ returns the interrupt handler counters
func (s *Stats) IRQ() *IRQCounters {
	return &IRQCounters{
		Handled: s.Counter("irq.handled"),
		NotOurs: s.Counter("irq.not_ours"),
		s:       s,
	}
}

// Source counts one event of interrupt source bit
func (c *IRQCounters) Source(bit int) {
	c.s.Counter(fmt.Sprintf("irq.source.%d", bit)).Inc(1)
}

// PortCounters are updated by the drain of one FGPI port
type PortCounters struct {
	Drains     metrics.Counter
	Idle       metrics.Counter
	Segments   metrics.Counter
	Bytes      metrics.Counter
	Unmapped   metrics.Counter
	WriteIndex metrics.Counter
	Sync       metrics.Counter
}

// Port returns the counters of FGPI port n
func (s *Stats) Port(n uint32) *PortCounters {
	name := func(what string) string {
		return fmt.Sprintf("fgpi.%d.%s", n, what)
	}
	return &PortCounters{
		Drains:     s.Counter(name("drains")),
		Idle:       s.Counter(name("idle")),
		Segments:   s.Counter(name("segments")),
		Bytes:      s.Counter(name("bytes")),
		Unmapped:   s.Counter(name("errors.unmapped")),
		WriteIndex: s.Counter(name("errors.write_index")),
		Sync:       s.Counter(name("errors.sync")),
	}
}
