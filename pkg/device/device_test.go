//go:build unit

package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emergingrobotics/go-saa716x/pkg/config"
	"github.com/emergingrobotics/go-saa716x/pkg/demux"
	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/emergingrobotics/go-saa716x/pkg/irq"
	"github.com/emergingrobotics/go-saa716x/pkg/sim"
	"github.com/emergingrobotics/go-saa716x/pkg/stream"
	"github.com/emergingrobotics/go-saa716x/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoAdapters(t *testing.T) *config.Config {
	t.Helper()
	c, err := config.LoadString(`
ring: {depth: 8}
adapters:
  - {name: sat, ts_port: 1}
  - {name: cable, ts_port: 3}
`)
	require.NoError(t, err)
	return c
}

func TestProbeEnablesBoundPorts(t *testing.T) {
	cfg := twoAdapters(t)
	hw := sim.NewHardware(cfg.Registers)
	// completions left over from before the probe
	hw.Raise(driver.MsiIntTagAckFGPI_1, 0)

	d, err := Probe(testutil.NewLogger(), cfg, hw, []demux.Sink{&testutil.RecordingSink{}, &testutil.RecordingSink{}})
	require.NoError(t, err)
	defer d.Remove()

	s := hw.IrqStatus()
	assert.Equal(t, uint32(driver.MsiIntTagAckFGPI_1|driver.MsiIntTagAckFGPI_3), s.EnableL)
	assert.Equal(t, uint32(0), s.StatusL)

	require.Len(t, d.Ports(), 2)
	p, ok := d.Port(3)
	require.True(t, ok)
	assert.Equal(t, uint32(9), p.DMAChannel())
	_, ok = d.Port(0)
	assert.False(t, ok)
}

func TestProbeRejects(t *testing.T) {
	cfg := twoAdapters(t)
	hw := sim.NewHardware(cfg.Registers)

	_, err := Probe(testutil.NewLogger(), cfg, hw, []demux.Sink{&testutil.RecordingSink{}})
	assert.Error(t, err, "one sink per adapter")

	_, err = Probe(testutil.NewLogger(), cfg, hw, []demux.Sink{&testutil.RecordingSink{}, nil})
	assert.ErrorIs(t, err, demux.ErrNilSink)

	_, err = Probe(testutil.NewLogger(), nil, hw, nil)
	assert.Error(t, err)
}

func TestProbeUnwindsOnRingFailure(t *testing.T) {
	cfg := twoAdapters(t)
	hw := sim.NewHardware(cfg.Registers)

	var made []*stream.Ring
	factory := func(n uint32, rc stream.RingConfig) (*stream.Ring, error) {
		if n == 3 {
			return nil, errors.New("out of dma memory")
		}
		r, err := stream.NewRing(rc, nil)
		made = append(made, r)
		return r, err
	}

	_, err := Probe(testutil.NewLogger(), cfg, hw, []demux.Sink{&testutil.RecordingSink{}, &testutil.RecordingSink{}}, WithRingFactory(factory))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fgpi3 ring")
	require.Len(t, made, 1)
	assert.Equal(t, uint32(0), hw.IrqStatus().EnableL, "no source may stay enabled after a failed probe")
}

func TestServeDeliversSegments(t *testing.T) {
	cfg := twoAdapters(t)
	hw := sim.NewHardware(cfg.Registers)
	sat, cable := &testutil.RecordingSink{}, &testutil.RecordingSink{}

	d, err := Probe(testutil.NewLogger(), cfg, hw, []demux.Sink{sat, cable})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, hw.Line()) }()

	p1, _ := d.Port(1)
	p3, _ := d.Port(3)
	prodSat := sim.NewProducer(hw, p1.Ring(), p1.DMAChannel(), p1.AckMask(), 0x100)
	prodCable := sim.NewProducer(hw, p3.Ring(), p3.DMAChannel(), p3.AckMask(), 0x200)

	prodSat.Fill(3)
	prodCable.Fill(2)
	require.Eventually(t, func() bool { return sat.Count() == 3 && cable.Count() == 2 }, 2*time.Second, time.Millisecond)

	prodSat.Fill(7)
	require.Eventually(t, func() bool { return sat.Count() == 10 }, 2*time.Second, time.Millisecond)
	for i, del := range sat.Deliveries() {
		assert.Equal(t, uint32(i), sim.Sequence(del.Data))
	}

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, d.Remove())

	assert.Equal(t, int64(10), d.Stats().Snapshot()["fgpi.1.segments"])
	assert.GreaterOrEqual(t, d.Stats().Snapshot()["irq.handled"], int64(2))
}

func TestServeRejectsMSI(t *testing.T) {
	cfg := twoAdapters(t)
	cfg.IntType = config.InterruptMode(driver.InterruptMSI)
	hw := sim.NewHardware(cfg.Registers)

	d, err := Probe(testutil.NewLogger(), cfg, hw, []demux.Sink{&testutil.RecordingSink{}, &testutil.RecordingSink{}})
	require.NoError(t, err)
	defer d.Remove()

	assert.ErrorIs(t, d.Serve(context.Background(), hw.Line()), ErrUnsupportedIRQ)
}

func TestServeReportsLineFailure(t *testing.T) {
	cfg := twoAdapters(t)
	hw := sim.NewHardware(cfg.Registers)
	d, err := Probe(testutil.NewLogger(), cfg, hw, []demux.Sink{&testutil.RecordingSink{}, &testutil.RecordingSink{}})
	require.NoError(t, err)
	defer d.Remove()

	line := hw.Line()
	require.NoError(t, line.Close())
	assert.ErrorIs(t, d.Serve(context.Background(), line), sim.ErrLineClosed)
}

func TestRemove(t *testing.T) {
	cfg := twoAdapters(t)
	hw := sim.NewHardware(cfg.Registers)
	var notified int
	d, err := Probe(testutil.NewLogger(), cfg, hw, []demux.Sink{&testutil.RecordingSink{}, &testutil.RecordingSink{}},
		WithNotifier(irq.NotifierFunc(func(driver.IrqStatus) error { notified++; return nil })))
	require.NoError(t, err)

	hw.Raise(driver.MsiIntTagAckFGPI_1, 0)
	assert.Equal(t, irq.Handled, d.Handler().Handle())
	assert.Equal(t, 1, notified)

	require.NoError(t, d.Remove())
	require.NoError(t, d.Remove())

	assert.Equal(t, uint32(0), hw.IrqStatus().EnableL)
	for _, p := range d.Ports() {
		assert.False(t, p.Schedule(), "fgpi%d still schedulable after remove", p.Index())
	}
	assert.ErrorIs(t, d.Serve(context.Background(), hw.Line()), ErrRemoved)
}
