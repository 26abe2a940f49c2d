package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/emergingrobotics/go-saa716x/pkg/config"
	"github.com/emergingrobotics/go-saa716x/pkg/demux"
	"github.com/emergingrobotics/go-saa716x/pkg/device"
	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/emergingrobotics/go-saa716x/pkg/stats"
	"github.com/emergingrobotics/go-saa716x/pkg/stream"
	"github.com/sirupsen/logrus"
)

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// pipeline is the software side of a card: one demux filter per adapter,
// each optionally writing the whole stream to a file
type pipeline struct {
	filters []*demux.Filter
	files   []*os.File
}

func newPipeline(l *logrus.Logger, cfg *config.Config, st *stats.Stats) (*pipeline, error) {
	p := &pipeline{}
	for i, a := range cfg.Adapters {
		f := demux.NewFilter(l, st.Registry(), cfg.AdapterName(i))
		if a.Output != "" {
			out, err := os.Create(a.Output)
			if err != nil {
				p.Close()
				return nil, err
			}
			p.files = append(p.files, out)
			name := cfg.AdapterName(i)
			f.AddTap(demux.WriterFeed(out, func(err error) {
				l.WithError(err).WithField("adapter", name).Error("Failed to write transport stream")
			}))
		}
		p.filters = append(p.filters, f)
	}
	return p, nil
}

func (p *pipeline) Sinks() []demux.Sink {
	sinks := make([]demux.Sink, len(p.filters))
	for i, f := range p.filters {
		sinks[i] = f
	}
	return sinks
}

func (p *pipeline) Report(w io.Writer) {
	for _, f := range p.filters {
		st := f.Stats()
		fmt.Fprintf(w, "%s: %d packets, %d pids, %d sync losses, %d cc errors, %d tei drops\n",
			f.Name(), st.Packets, len(f.PIDs()), st.SyncLoss, st.CCErrors, st.TEIDrops)
	}
}

func (p *pipeline) Close() error {
	var errs []error
	for _, f := range p.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runDevice(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("run")
	path := fs.String("config", "", "Path to a config file or directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("-config flag must be set")
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	if cfg.IntType.Mode() != driver.InterruptINTA {
		return fmt.Errorf("int_type %s cannot be delivered through uio: %w", cfg.IntType, device.ErrUnsupportedIRQ)
	}
	if cfg.Device.Resource == "" || cfg.Device.UIO == "" {
		return errors.New("device.resource and device.uio must be set")
	}

	l, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	regs, err := driver.MapResource(cfg.Device.Resource, 0, cfg.Device.ResourceSize)
	if err != nil {
		return err
	}
	defer regs.Close()

	line, err := driver.OpenUIO(cfg.Device.UIO)
	if err != nil {
		return err
	}
	defer line.Close()

	st := stats.New(nil)
	opts := []device.Option{device.WithStats(st)}

	if cfg.Device.Udmabuf != "" {
		buf, err := stream.OpenUdmabuf(cfg.Device.Udmabuf)
		if err != nil {
			return err
		}
		defer buf.Close()
		opts = append(opts, device.WithRingFactory(buf.Ring))
		l.WithField("phys_addr", fmt.Sprintf("0x%x", buf.PhysAddr())).Info("Rings carved from u-dma-buf")
	}
	l.Info("Ring consumer only: BAM scatter-gather tables and FGPI DMA start are left to the board setup")

	if cfg.Stats.Enabled() {
		e, err := stats.NewPrometheus(l, st.Registry(), cfg.Stats, Version)
		if err != nil {
			return err
		}
		opts = append(opts, device.WithExporter(e))
	}

	p, err := newPipeline(l, cfg, st)
	if err != nil {
		return err
	}
	defer p.Close()

	d, err := device.Probe(l, cfg, regs, p.Sinks(), opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.WithField("uio", line.Path()).Info("Serving interrupts")
	serveErr := d.Serve(ctx, line)
	if err := d.Remove(); err != nil {
		l.WithError(err).Error("Failed to remove device")
	}
	p.Report(stdout)
	return serveErr
}
