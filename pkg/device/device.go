// Package device brings up the ring consumer of one SAA716x budget card and
// serves its interrupt line.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/emergingrobotics/go-saa716x/pkg/config"
	"github.com/emergingrobotics/go-saa716x/pkg/demux"
	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/emergingrobotics/go-saa716x/pkg/fgpi"
	"github.com/emergingrobotics/go-saa716x/pkg/irq"
	"github.com/emergingrobotics/go-saa716x/pkg/stats"
	"github.com/emergingrobotics/go-saa716x/pkg/stream"
	"github.com/emergingrobotics/go-saa716x/pkg/tasklet"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RingFactory allocates the ring of FGPI port n
type RingFactory func(n uint32, cfg stream.RingConfig) (*stream.Ring, error)

// Option configures a Device during Probe
type Option func(*Device)

// WithStats counts into st instead of a private registry
func WithStats(st *stats.Stats) Option {
	return func(d *Device) {
		d.stats = st
	}
}

// WithNotifier replaces the informational interrupt notifier
func WithNotifier(n irq.Notifier) Option {
	return func(d *Device) {
		d.notifier = n
	}
}

// WithRingFactory allocates rings with f instead of anonymous memory
func WithRingFactory(f RingFactory) Option {
	return func(d *Device) {
		d.newRing = f
	}
}

// WithExporter serves the stats while the device is serving interrupts
func WithExporter(e *stats.Exporter) Option {
	return func(d *Device) {
		d.exporter = e
	}
}

// Device is a probed card: its register bank, one ring and drain per bound
// FGPI port and the interrupt handler dispatching to them
type Device struct {
	l        *logrus.Logger
	cfg      *config.Config
	bank     *driver.Bank
	table    *demux.Table
	queue    *tasklet.Queue
	ports    []*fgpi.Port
	handler  *irq.Handler
	stats    *stats.Stats
	notifier irq.Notifier
	newRing  RingFactory
	exporter *stats.Exporter
	ackMask  uint32

	mu      sync.Mutex
	serving bool
	removed bool
}

func anonymousRing(_ uint32, cfg stream.RingConfig) (*stream.Ring, error) {
	return stream.NewRing(cfg, stream.NopSyncer{})
}

// Probe sets up the consumer of a card behind regs. sinks[i] receives the
// stream of cfg.Adapters[i]. Anything set up before a failure is released
// again, in reverse order.
func Probe(l *logrus.Logger, cfg *config.Config, regs driver.Registers, sinks []demux.Sink, opts ...Option) (_ *Device, err error) {
	if cfg == nil || regs == nil {
		return nil, errors.New("probe needs a config and a register window")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(sinks) != len(cfg.Adapters) {
		return nil, fmt.Errorf("%d sinks for %d adapters", len(sinks), len(cfg.Adapters))
	}

	d := &Device{
		l:       l,
		cfg:     cfg,
		newRing: anonymousRing,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.stats == nil {
		d.stats = stats.New(nil)
	}
	d.bank = driver.NewBank(regs, cfg.Registers)

	bindings := make([]demux.Binding, len(cfg.Adapters))
	for i, a := range cfg.Adapters {
		bindings[i] = demux.Binding{Name: cfg.AdapterName(i), TSPort: a.TSPort, Sink: sinks[i]}
	}
	d.table, err = demux.NewTable(cfg.FGPI.Ports, bindings)
	if err != nil {
		return nil, fmt.Errorf("binding table: %w", err)
	}

	d.queue = tasklet.NewQueue(l, cfg.Workers, len(bindings))
	if err := d.queue.Start(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			d.teardown()
		}
	}()

	rcfg := stream.RingConfig{
		Depth:       cfg.Ring.Depth,
		PayloadSize: cfg.Ring.Payload(),
		PageSize:    cfg.Ring.PageSize,
	}
	irqBindings := make([]irq.Binding, 0, len(bindings))
	for _, b := range bindings {
		ring, err := d.newRing(b.TSPort, rcfg)
		if err != nil {
			return nil, fmt.Errorf("fgpi%d ring: %w", b.TSPort, err)
		}

		port, err := fgpi.New(l, fgpi.Config{
			Port:          b.TSPort,
			ChannelOffset: cfg.FGPI.ChannelOffset,
			AckMask:       cfg.FGPI.AckMask(b.TSPort),
		}, ring, d.bank, d.table, d.queue, d.stats)
		if err != nil {
			ring.Close()
			return nil, err
		}
		d.ports = append(d.ports, port)
		d.ackMask |= port.AckMask()
		irqBindings = append(irqBindings, irq.Binding{Name: b.Name, AckMask: port.AckMask(), Work: port})

		l.WithFields(logrus.Fields{
			"adapter":     b.Name,
			"fgpi":        b.TSPort,
			"dma_channel": port.DMAChannel(),
			"depth":       ring.Depth(),
			"payload":     ring.PayloadSize(),
		}).Info("FGPI port ready")
	}

	d.handler = irq.NewHandler(l, d.bank, irqBindings, d.notifier, d.stats)

	// stale completions from before the probe are dropped
	d.bank.ClearIrqStatus(driver.IrqStatus{StatusL: d.ackMask})
	d.bank.EnableSources(d.ackMask, 0)

	l.WithFields(logrus.Fields{
		"int_type": cfg.IntType.String(),
		"adapters": len(bindings),
		"workers":  d.queue.Workers(),
	}).Info("SAA716x budget card probed")
	return d, nil
}

// Config returns the configuration the device was probed with
func (d *Device) Config() *config.Config {
	return d.cfg
}

// Bank returns the register bank
func (d *Device) Bank() *driver.Bank {
	return d.bank
}

// Table returns the port to sink bindings
func (d *Device) Table() *demux.Table {
	return d.table
}

// Handler returns the interrupt handler
func (d *Device) Handler() *irq.Handler {
	return d.handler
}

// Stats returns the device counters
func (d *Device) Stats() *stats.Stats {
	return d.stats
}

// Ports returns the bound ports in adapter order
func (d *Device) Ports() []*fgpi.Port {
	return append([]*fgpi.Port(nil), d.ports...)
}

// Port returns the port with FGPI number n
func (d *Device) Port(n uint32) (*fgpi.Port, bool) {
	for _, p := range d.ports {
		if p.Index() == n {
			return p, true
		}
	}
	return nil, false
}

// Serve runs the interrupt handler for every event on line until ctx is
// done. Only INT-A can be delivered through a line.
func (d *Device) Serve(ctx context.Context, line driver.InterruptLine) error {
	if mode := d.cfg.IntType.Mode(); mode != driver.InterruptINTA {
		return fmt.Errorf("%s: %w", mode, ErrUnsupportedIRQ)
	}

	d.mu.Lock()
	if d.removed {
		d.mu.Unlock()
		return ErrRemoved
	}
	if d.serving {
		d.mu.Unlock()
		return ErrServing
	}
	d.serving = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.serving = false
		d.mu.Unlock()
	}()

	eg, ctx := errgroup.WithContext(ctx)
	if d.exporter != nil {
		eg.Go(func() error {
			return d.exporter.Run(ctx)
		})
	}
	eg.Go(func() error {
		return d.interruptLoop(ctx, line)
	})
	return eg.Wait()
}

func (d *Device) interruptLoop(ctx context.Context, line driver.InterruptLine) error {
	// the line may have fired before anyone listened
	if err := line.Unmask(); err != nil {
		return fmt.Errorf("unmask interrupt: %w", err)
	}

	for {
		count, err := line.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for interrupt: %w", err)
		}

		res := d.handler.Handle()
		if d.l.IsLevelEnabled(logrus.TraceLevel) {
			d.l.WithField("count", count).Tracef("Interrupt %s", res)
		}

		if err := line.Unmask(); err != nil {
			return fmt.Errorf("unmask interrupt: %w", err)
		}
	}
}

// Remove masks the FGPI interrupts, waits for every pending drain and
// releases the rings. It is safe to call more than once.
func (d *Device) Remove() error {
	d.mu.Lock()
	if d.removed {
		d.mu.Unlock()
		return nil
	}
	d.removed = true
	d.mu.Unlock()

	err := d.teardown()
	d.l.Info("SAA716x budget card removed")
	return err
}

func (d *Device) teardown() error {
	if d.ackMask != 0 {
		d.bank.DisableSources(d.ackMask, 0)
	}
	for _, p := range d.ports {
		p.Kill()
	}

	var errs []error
	if err := d.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range d.ports {
		if err := p.Ring().Close(); err != nil {
			errs = append(errs, fmt.Errorf("fgpi%d: %w", p.Index(), err))
		}
	}
	return errors.Join(errs...)
}
