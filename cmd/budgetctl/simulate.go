package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emergingrobotics/go-saa716x/pkg/device"
	"github.com/emergingrobotics/go-saa716x/pkg/sim"
	"github.com/emergingrobotics/go-saa716x/pkg/stats"
	"golang.org/x/sync/errgroup"
)

func simulate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("simulate")
	path := fs.String("config", "", "Path to a config file or directory")
	segments := fs.Uint("segments", 64, "Segments produced per adapter")
	perTick := fs.Int("burst", 3, "Segments completed per interrupt")
	interval := fs.Duration("interval", 2*time.Millisecond, "Time between interrupts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *perTick < 1 || *perTick >= 1<<16 {
		return fmt.Errorf("burst %d out of range", *perTick)
	}

	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	if uint32(*perTick) >= cfg.Ring.Depth {
		return fmt.Errorf("burst %d would overrun a ring of %d segments", *perTick, cfg.Ring.Depth)
	}

	l, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	st := stats.New(nil)
	p, err := newPipeline(l, cfg, st)
	if err != nil {
		return err
	}
	defer p.Close()

	hw := sim.NewHardware(cfg.Registers)
	d, err := device.Probe(l, cfg, hw, p.Sinks(), device.WithStats(st))
	if err != nil {
		return err
	}
	defer d.Remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serve := make(chan error, 1)
	go func() { serve <- d.Serve(ctx, hw.Line()) }()

	var eg errgroup.Group
	for i, port := range d.Ports() {
		prod := sim.NewProducer(hw, port.Ring(), port.DMAChannel(), port.AckMask(), uint16(0x100+i))
		eg.Go(func() error {
			return prod.Run(ctx, *interval, *perTick, uint32(*segments))
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	// wait for the last drains to catch up with the producers
	deadline := time.Now().Add(5 * time.Second)
	for _, port := range d.Ports() {
		for port.ReadIndex() != hw.WriteIndex(port.DMAChannel()) || port.Tasklet().Pending() || port.Tasklet().Running() {
			if time.Now().After(deadline) {
				return fmt.Errorf("fgpi%d did not drain", port.Index())
			}
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	if err := <-serve; err != nil {
		return err
	}
	if err := d.Remove(); err != nil {
		return err
	}

	snap := st.Snapshot()
	fmt.Fprintf(stdout, "Simulated %d segment(s) per adapter, %d interrupt(s)\n", *segments, snap["irq.handled"])
	for _, port := range d.Ports() {
		n := port.Index()
		fmt.Fprintf(stdout, "fgpi%d: %d drains, %d segments, %d bytes\n", n,
			snap[fmt.Sprintf("fgpi.%d.drains", n)],
			snap[fmt.Sprintf("fgpi.%d.segments", n)],
			snap[fmt.Sprintf("fgpi.%d.bytes", n)])
	}
	p.Report(stdout)
	return nil
}
