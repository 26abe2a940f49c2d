// Package demux holds the consumers DMA segments are delivered to and the
// table binding them to FGPI ports.
package demux

import (
	"errors"
	"fmt"
)

// Sink ingests raw transport stream bytes. Delivery is fire-and-forget;
// the slice is only valid for the duration of the call.
type Sink interface {
	Ingest(data []byte)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(data []byte)

// Ingest calls f
func (f SinkFunc) Ingest(data []byte) { f(data) }

// Errors for binding table validation
var (
	ErrDuplicatePort  = errors.New("ts port bound twice")
	ErrPortOutOfRange = errors.New("ts port out of range")
	ErrNilSink        = errors.New("binding has no sink")
)

// Binding ties a sink to the FGPI port feeding it
type Binding struct {
	Name   string
	TSPort uint32
	Sink   Sink
}

// Table is the immutable port to sink binding of one device
type Table struct {
	ports    uint32
	bindings []Binding
}

// NewTable validates bindings against a device with the given number of ports
func NewTable(ports uint32, bindings []Binding) (*Table, error) {
	seen := make(map[uint32]string, len(bindings))
	for i, b := range bindings {
		name := b.Name
		if name == "" {
			name = fmt.Sprintf("adapter %d", i)
		}
		if b.TSPort >= ports {
			return nil, fmt.Errorf("%s: port %d of %d: %w", name, b.TSPort, ports, ErrPortOutOfRange)
		}
		if b.Sink == nil {
			return nil, fmt.Errorf("%s: %w", name, ErrNilSink)
		}
		if prev, ok := seen[b.TSPort]; ok {
			return nil, fmt.Errorf("%s and %s both use port %d: %w", prev, name, b.TSPort, ErrDuplicatePort)
		}
		seen[b.TSPort] = name
	}

	cp := make([]Binding, len(bindings))
	copy(cp, bindings)
	return &Table{ports: ports, bindings: cp}, nil
}

// Lookup returns the sink fed by port
func (t *Table) Lookup(port uint32) (Sink, bool) {
	if t == nil {
		return nil, false
	}
	for _, b := range t.bindings {
		if b.TSPort == port {
			return b.Sink, true
		}
	}
	return nil, false
}

// Bindings returns a copy of the table entries
func (t *Table) Bindings() []Binding {
	cp := make([]Binding, len(t.bindings))
	copy(cp, t.bindings)
	return cp
}

// Ports returns the bound ports in table order
func (t *Table) Ports() []uint32 {
	out := make([]uint32, 0, len(t.bindings))
	for _, b := range t.bindings {
		out = append(out, b.TSPort)
	}
	return out
}

// Len returns the number of bindings
func (t *Table) Len() int {
	return len(t.bindings)
}
