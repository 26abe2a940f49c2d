//go:build unit

package irq

import (
	"errors"
	"testing"

	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/emergingrobotics/go-saa716x/pkg/sim"
	"github.com/emergingrobotics/go-saa716x/pkg/stats"
	"github.com/emergingrobotics/go-saa716x/pkg/tasklet"
	"github.com/emergingrobotics/go-saa716x/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingScheduler struct {
	calls int
	onRun func()
}

func (c *countingScheduler) Schedule() bool {
	c.calls++
	if c.onRun != nil {
		c.onRun()
	}
	return true
}

func newHardware() (*sim.Hardware, *driver.Bank) {
	m := driver.DefaultRegisterMap()
	hw := sim.NewHardware(m)
	return hw, driver.NewBank(hw, m)
}

func TestHandleNotOurs(t *testing.T) {
	hw, bank := newHardware()
	st := stats.New(nil)
	work := &countingScheduler{}
	h := NewHandler(testutil.NewLogger(), bank, []Binding{{AckMask: driver.MsiIntTagAckFGPI_0, Work: work}}, nil, st)

	// latched but masked: shared line, leave it alone
	hw.Raise(driver.MsiIntTagAckFGPI_0, 0)
	hw.Trace(true)
	assert.Equal(t, NotOurs, h.Handle())
	assert.Equal(t, 0, work.calls)
	for _, a := range hw.Accesses() {
		assert.Equal(t, sim.OpRead, a.Op, "no register may be written for a foreign interrupt")
	}
	assert.Equal(t, int64(1), st.Snapshot()["irq.not_ours"])
}

func TestHandleNilHandler(t *testing.T) {
	var h *Handler
	assert.Equal(t, NotOurs, h.Handle())

	h = NewHandler(testutil.NewLogger(), nil, nil, nil, nil)
	assert.Equal(t, NotOurs, h.Handle())
}

func TestHandleClearsBeforeScheduling(t *testing.T) {
	hw, bank := newHardware()
	bank.EnableSources(driver.MsiIntTagAckFGPI_1, 0)

	work := &countingScheduler{}
	work.onRun = func() {
		assert.Equal(t, uint32(0), hw.IrqStatus().StatusL, "status must be acknowledged before work is scheduled")
	}
	h := NewHandler(testutil.NewLogger(), bank, []Binding{{AckMask: driver.MsiIntTagAckFGPI_1, Work: work}}, nil, nil)

	hw.Raise(driver.MsiIntTagAckFGPI_1, 1<<3)
	hw.Trace(true)
	require.Equal(t, Handled, h.Handle())
	assert.Equal(t, 1, work.calls)

	m := bank.Map()
	var writes []sim.Access
	for _, a := range hw.Accesses() {
		if a.Op == sim.OpWrite {
			writes = append(writes, a)
		}
	}
	assert.Equal(t, []sim.Access{
		{Op: sim.OpWrite, Off: m.ClearL, Value: driver.MsiIntTagAckFGPI_1},
		{Op: sim.OpWrite, Off: m.ClearH, Value: 1 << 3},
	}, writes)
}

func TestHandleSkipsZeroWords(t *testing.T) {
	hw, bank := newHardware()
	bank.EnableSources(driver.MsiIntTagAckFGPI_0, 0)
	h := NewHandler(testutil.NewLogger(), bank, nil, nil, nil)

	hw.Raise(driver.MsiIntTagAckFGPI_0, 0)
	hw.Trace(true)
	require.Equal(t, Handled, h.Handle())

	m := bank.Map()
	for _, a := range hw.Accesses() {
		assert.NotEqual(t, m.ClearH, a.Off, "clean high word must not be written")
	}
}

func TestHandleDispatchesOnAckBits(t *testing.T) {
	hw, bank := newHardware()
	bank.EnableSources(driver.MsiIntTagAckFGPI_1|driver.MsiIntTagAckFGPI_3, 0)

	ports := make([]*countingScheduler, 4)
	var bindings []Binding
	for i := range ports {
		ports[i] = &countingScheduler{}
		bindings = append(bindings, Binding{AckMask: driver.MsiIntTagAckFGPI_0 << i, Work: ports[i]})
	}
	h := NewHandler(testutil.NewLogger(), bank, bindings, nil, nil)

	// FGPI 2 completed too but is not enabled; it is still drained
	hw.Raise(driver.MsiIntTagAckFGPI_1|driver.MsiIntTagAckFGPI_2|driver.MsiIntTagAckFGPI_3, 0)
	require.Equal(t, Handled, h.Handle())

	assert.Equal(t, 0, ports[0].calls)
	assert.Equal(t, 1, ports[1].calls)
	assert.Equal(t, 1, ports[2].calls)
	assert.Equal(t, 1, ports[3].calls)
}

func TestHandleCoalescesIntoOneDrain(t *testing.T) {
	hw, bank := newHardware()
	bank.EnableSources(driver.MsiIntTagAckFGPI_0, 0)

	q := &testutil.RecordingQueue{}
	var drains int
	tl := tasklet.New("fgpi0", func() { drains++ }, q, testutil.NewLogger())
	h := NewHandler(testutil.NewLogger(), bank, []Binding{{Name: "fgpi0", AckMask: driver.MsiIntTagAckFGPI_0, Work: tl}}, nil, nil)

	for i := 0; i < 3; i++ {
		hw.Raise(driver.MsiIntTagAckFGPI_0, 0)
		require.Equal(t, Handled, h.Handle())
	}
	assert.Equal(t, 1, q.Len())
	q.RunAll()
	assert.Equal(t, 1, drains)
}

func TestNotifierErrorDoesNotAbortDispatch(t *testing.T) {
	hw, bank := newHardware()
	bank.EnableSources(driver.MsiIntTagAckFGPI_2, 0)

	var seen []driver.IrqStatus
	notifier := NotifierFunc(func(s driver.IrqStatus) error {
		seen = append(seen, s)
		return errors.New("diagnostics unavailable")
	})
	work := &countingScheduler{}
	h := NewHandler(testutil.NewLogger(), bank, []Binding{{AckMask: driver.MsiIntTagAckFGPI_2, Work: work}}, notifier, nil)

	hw.Raise(driver.MsiIntTagAckFGPI_2, 0)
	assert.Equal(t, Handled, h.Handle())
	assert.Equal(t, 1, work.calls)
	require.Len(t, seen, 1)
	assert.Equal(t, uint32(driver.MsiIntTagAckFGPI_2), seen[0].StatusL)
}

func TestStatsNotifierCountsSources(t *testing.T) {
	st := stats.New(nil)
	n := NewStatsNotifier(testutil.NewLogger(), st)
	require.NoError(t, n.Event(driver.IrqStatus{StatusL: driver.MsiIntTagAckFGPI_0 | driver.MsiIntTagAckFGPI_3, StatusH: 1 << 2}))

	snap := st.Snapshot()
	assert.Equal(t, int64(1), snap["irq.source.6"])
	assert.Equal(t, int64(1), snap["irq.source.9"])
	assert.Equal(t, int64(1), snap["irq.source.34"])
}
