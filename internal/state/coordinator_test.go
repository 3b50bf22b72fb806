package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/proctable"
	"github.com/Dicklesworthstone/sysmoni/internal/sampler"
	"github.com/Dicklesworthstone/sysmoni/internal/series"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func tick(n int) time.Time { return t0.Add(time.Duration(n) * time.Second) }

func newCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func mem(usedPct float64) *model.Memory {
	return &model.Memory{UsedBytes: uint64(usedPct * 100), TotalBytes: 10000}
}

func procs(ps ...model.Process) model.RawMetrics {
	raw := model.RawMetrics{Processes: ps}
	raw.Mark(model.SourceProcess)
	return raw
}

func fullRaw(n int, cpu float64, ps ...model.Process) model.RawMetrics {
	raw := procs(ps...)
	raw.Timestamp = tick(n)
	raw.CPU = &model.CPU{Total: cpu, PerCore: []float64{cpu, cpu}}
	raw.Memory = mem(50)
	return raw
}

func latest(t *testing.T, snap *Snapshot, id series.SourceID) series.Sample {
	t.Helper()
	v, ok := snap.Series[id]
	require.True(t, ok, "series %s missing", id)
	s, ok := v.Latest()
	require.True(t, ok, "series %s empty", id)
	return s
}

func TestNewPublishesEmptySnapshot(t *testing.T) {
	c := newCoordinator(t, Options{})
	snap := c.Current()
	require.NotNil(t, snap)
	assert.Zero(t, snap.Sequence)
	assert.Empty(t, snap.Rows)
	assert.Contains(t, snap.Series, CPUTotal)
}

func TestNewRejectsBadInitialFilter(t *testing.T) {
	_, err := New(Options{View: View{Filter: proctable.FilterSpec{Text: "(", Mode: proctable.ModeRegex}}})
	assert.ErrorIs(t, err, proctable.ErrFilterCompile)
}

func TestPartialPollScenario(t *testing.T) {
	c := newCoordinator(t, Options{})
	prev := c.Apply(Cycle{Time: tick(1), Raw: fullRaw(1, 20, model.Process{PID: 1, Name: "init"})})

	raw := procs(
		model.Process{PID: 1, Name: "init"},
		model.Process{PID: 42, Name: "vim", CPU: 3},
	)
	raw.Memory = mem(62)
	snap := c.Apply(Cycle{Time: tick(2), Raw: raw, Err: sampler.Failing(map[model.Source]error{
		model.SourceCPU: errors.New("read /proc/stat"),
	})})

	assert.Equal(t, prev.Sequence+1, snap.Sequence)

	cpu := latest(t, snap, CPUTotal)
	assert.True(t, cpu.Gap, "cpu series shows a gap")
	assert.Equal(t, tick(2), cpu.Time)

	m := latest(t, snap, MemUsedPct)
	assert.False(t, m.Gap)
	assert.InDelta(t, 62.0, m.Value, 1e-9)

	assert.Len(t, snap.Rows, 2)
	assert.Nil(t, snap.CPU)
	assert.Equal(t, SourceTransient, snap.Status(model.SourceCPU).Status)
	assert.Equal(t, SourceOK, snap.Status(model.SourceMemory).Status)

	// Per-core series got a gap too.
	assert.True(t, latest(t, snap, CPUCore(1)).Gap)
}

func TestAbsentCPUWithoutErrorIsGap(t *testing.T) {
	c := newCoordinator(t, Options{})
	raw := procs()
	raw.Memory = mem(62)
	snap := c.Apply(Cycle{Time: tick(1), Raw: raw})

	assert.Equal(t, uint64(1), snap.Sequence)
	assert.True(t, latest(t, snap, CPUTotal).Gap)
	assert.InDelta(t, 62.0, latest(t, snap, MemUsedPct).Value, 1e-9)
}

func TestTotalFailureGapsEverySeries(t *testing.T) {
	c := newCoordinator(t, Options{})
	raw := fullRaw(1, 10)
	raw.Disks = []model.Disk{{Name: "sda", ReadBytesSec: 100}}
	raw.Mark(model.SourceDisk)
	c.Apply(Cycle{Time: tick(1), Raw: raw})

	snap := c.Apply(Cycle{Time: tick(2), Err: errors.New("sampler wedged")})
	assert.Equal(t, uint64(2), snap.Sequence)
	for id, v := range snap.Series {
		s, ok := v.Latest()
		require.True(t, ok, id)
		assert.True(t, s.Gap, "%s should end in a gap", id)
		assert.Equal(t, tick(2), s.Time)
	}
	assert.Equal(t, SourceTransient, snap.Status(model.SourceDisk).Status)
}

func TestUnavailableIsSticky(t *testing.T) {
	c := newCoordinator(t, Options{})
	unavailable := sampler.Failing(map[model.Source]error{model.SourceTemp: sampler.ErrUnavailable})
	c.Apply(Cycle{Time: tick(1), Raw: fullRaw(1, 1), Err: unavailable})

	transient := sampler.Failing(map[model.Source]error{model.SourceTemp: errors.New("hwmon busy")})
	snap := c.Apply(Cycle{Time: tick(2), Raw: fullRaw(2, 1), Err: transient})
	assert.Equal(t, SourceUnavailable, snap.Status(model.SourceTemp).Status)
}

func TestDebounceThroughCoordinator(t *testing.T) {
	c := newCoordinator(t, Options{Debounce: 2})
	c.Apply(Cycle{Time: tick(1), Raw: fullRaw(1, 0, model.Process{PID: 1, Name: "init"}, model.Process{PID: 500, Name: "worker", CPU: 12})})

	snap := c.Apply(Cycle{Time: tick(2), Raw: fullRaw(2, 0, model.Process{PID: 1, Name: "init"})})
	require.Len(t, snap.Rows, 2, "pid 500 retained after first miss")
	assert.Equal(t, proctable.StatusStale, snap.Rows[0].Status)
	assert.Equal(t, int32(500), snap.Rows[0].PID)

	snap = c.Apply(Cycle{Time: tick(3), Raw: fullRaw(3, 0, model.Process{PID: 1, Name: "init"})})
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, int32(1), snap.Rows[0].PID)
}

func TestFailedProcessPollDoesNotAdvanceDebounce(t *testing.T) {
	c := newCoordinator(t, Options{Debounce: 1})
	c.Apply(Cycle{Time: tick(1), Raw: fullRaw(1, 0, model.Process{PID: 7, Name: "sshd"})})

	raw := fullRaw(2, 0)
	delete(raw.Present, model.SourceProcess)
	snap := c.Apply(Cycle{Time: tick(2), Raw: raw, Err: sampler.Failing(map[model.Source]error{
		model.SourceProcess: errors.New("EMFILE"),
	})})
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, proctable.StatusActive, snap.Rows[0].Status)
}

func TestPublishedSnapshotIsImmutable(t *testing.T) {
	c := newCoordinator(t, Options{})
	first := c.Apply(Cycle{Time: tick(1), Raw: fullRaw(1, 10, model.Process{PID: 1, Name: "a", CPU: 1})})
	firstLen := first.Series[CPUTotal].Len()
	firstCPU := first.Rows[0].CPU

	c.Apply(Cycle{Time: tick(2), Raw: fullRaw(2, 90, model.Process{PID: 1, Name: "a", CPU: 80})})
	require.NoError(t, c.SetFilter(proctable.FilterSpec{Text: "zzz"}))

	assert.Equal(t, firstLen, first.Series[CPUTotal].Len())
	assert.Equal(t, firstCPU, first.Rows[0].CPU)
	assert.Equal(t, 10.0, first.CPU.Total)
	select {
	case <-first.Replaced():
	default:
		t.Fatal("older snapshot not marked replaced")
	}
}

func TestViewChangesKeepSequence(t *testing.T) {
	c := newCoordinator(t, Options{})
	snap := c.Apply(Cycle{Time: tick(1), Raw: fullRaw(1, 0,
		model.Process{PID: 3, Name: "b", CPU: 5},
		model.Process{PID: 1, Name: "a", CPU: 50},
		model.Process{PID: 2, Name: "b", CPU: 10},
	)})
	assert.Equal(t, []int32{1, 2, 3}, rowPIDs(snap.Rows))

	c.SetSort(proctable.SortCPU, proctable.Ascending)
	after := c.Current()
	assert.Equal(t, snap.Sequence, after.Sequence)
	assert.Greater(t, after.Revision, snap.Revision)
	assert.Equal(t, []int32{3, 2, 1}, rowPIDs(after.Rows))

	assert.True(t, c.ToggleGrouping())
	grouped := c.Current()
	require.Len(t, grouped.Rows, 2)
	assert.Equal(t, "b", grouped.Rows[0].Name, "b sums to 15%, still below a in ascending order")
	assert.Equal(t, 2, grouped.Rows[0].Count)

	assert.True(t, c.ToggleTree())
	assert.Len(t, c.Current().TreeRows, 3)
	assert.False(t, c.ToggleTree())
	assert.Empty(t, c.Current().TreeRows)
}

func TestSetFilterRejectionKeepsPrevious(t *testing.T) {
	c := newCoordinator(t, Options{})
	c.Apply(Cycle{Time: tick(1), Raw: fullRaw(1, 0,
		model.Process{PID: 1, Name: "firefox"},
		model.Process{PID: 2, Name: "bash"},
	)})

	require.NoError(t, c.SetFilter(proctable.FilterSpec{Text: "fire"}))
	assert.Equal(t, []int32{1}, rowPIDs(c.Current().Rows))

	err := c.SetFilter(proctable.FilterSpec{Text: "[", Mode: proctable.ModeRegex})
	require.ErrorIs(t, err, proctable.ErrFilterCompile)
	snap := c.Current()
	assert.Equal(t, []int32{1}, rowPIDs(snap.Rows), "previous filter still active")
	assert.Equal(t, "fire", snap.View.Filter.Text)
	assert.NotEmpty(t, snap.FilterError)

	require.NoError(t, c.SetFilter(proctable.FilterSpec{}))
	snap = c.Current()
	assert.Empty(t, snap.FilterError)
	assert.Len(t, snap.Rows, 2)
}

func TestDynamicSeriesDeregistered(t *testing.T) {
	c := newCoordinator(t, Options{})
	raw := fullRaw(1, 0)
	raw.Network = []model.NetInterface{
		{Name: "eth0", RxBytesSec: 100, TxBytesSec: 10, HasBaseline: true},
		{Name: "wlan0", RxBytesSec: 50, TxBytesSec: 5, HasBaseline: true},
	}
	raw.Mark(model.SourceNetwork)
	snap := c.Apply(Cycle{Time: tick(1), Raw: raw})
	assert.InDelta(t, 150.0, latest(t, snap, NetTotalRx).Value, 1e-9)
	assert.Contains(t, snap.Series, NetRx("wlan0"))

	raw = fullRaw(2, 0)
	raw.Network = []model.NetInterface{{Name: "eth0", RxBytesSec: 100, TxBytesSec: 10, HasBaseline: true}}
	raw.Mark(model.SourceNetwork)
	snap = c.Apply(Cycle{Time: tick(2), Raw: raw})
	assert.NotContains(t, snap.Series, NetRx("wlan0"))
	assert.InDelta(t, 100.0, latest(t, snap, NetTotalRx).Value, 1e-9)

	rx, tx := snap.NetTotals()
	assert.Equal(t, 100.0, rx)
	assert.Equal(t, 10.0, tx)
}

func TestTempsSharingANameKeepSeparateSeries(t *testing.T) {
	c := newCoordinator(t, Options{})
	raw := fullRaw(1, 0)
	raw.Temps = []model.Temp{{Sensor: "acpitz", Celsius: 40}, {Sensor: "acpitz", Celsius: 90}}
	raw.Mark(model.SourceTemp)
	snap := c.Apply(Cycle{Time: tick(1), Raw: raw})

	require.Len(t, snap.Temps, 2)
	assert.Equal(t, "acpitz", snap.Temps[0].Sensor)
	assert.Equal(t, "acpitz_2", snap.Temps[1].Sensor)
	assert.Equal(t, 40.0, latest(t, snap, Temp("acpitz")).Value)
	assert.Equal(t, 90.0, latest(t, snap, Temp("acpitz_2")).Value)
	assert.Equal(t, "acpitz", raw.Temps[1].Sensor, "raw readings untouched")
}

func TestRetentionThroughCoordinator(t *testing.T) {
	c := newCoordinator(t, Options{Retention: 60 * time.Second})
	var snap *Snapshot
	for i := 1; i <= 90; i++ {
		raw := procs()
		raw.Memory = mem(float64(i % 100))
		raw.CPU = &model.CPU{Total: float64(i)}
		snap = c.Apply(Cycle{Time: tick(i), Raw: raw})
	}
	v := snap.Series[CPUTotal]
	assert.Equal(t, 60, v.Len())
	assert.Equal(t, 31.0, v.Samples[0].Value)
	assert.Equal(t, uint64(90), snap.Sequence)
}

func TestSchedulerStatsRepublish(t *testing.T) {
	c := newCoordinator(t, Options{})
	before := c.Current()
	c.SetSchedulerStats(SchedulerStats{Polls: 3, Overruns: 1})
	after := c.Current()
	assert.NotSame(t, before, after)
	assert.Equal(t, uint64(1), after.Scheduler.Overruns)

	c.SetSchedulerStats(SchedulerStats{Polls: 3, Overruns: 1})
	assert.Same(t, after, c.Current(), "identical stats do not republish")
}

func TestWaitReturnsNewerSnapshot(t *testing.T) {
	c := newCoordinator(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan *Snapshot, 1)
	go func() {
		snap, err := c.Wait(ctx, 0)
		if err == nil {
			done <- snap
		}
	}()

	// A view change alone does not satisfy Wait.
	c.SetSort(proctable.SortPID, proctable.Ascending)
	c.Apply(Cycle{Time: tick(1), Raw: fullRaw(1, 0)})

	select {
	case snap := <-done:
		assert.Equal(t, uint64(1), snap.Sequence)
	case <-ctx.Done():
		t.Fatal("Wait did not return")
	}

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err := c.Wait(short, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadersSeeMonotonicSequence(t *testing.T) {
	c := newCoordinator(t, Options{})
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := c.Current()
				if snap.Sequence < last {
					t.Errorf("sequence went backwards: %d after %d", snap.Sequence, last)
					return
				}
				last = snap.Sequence
				_ = len(snap.Rows)
			}
		}()
	}
	for i := 1; i <= 200; i++ {
		c.Apply(Cycle{Time: tick(i), Raw: fullRaw(i, float64(i%100), model.Process{PID: int32(i%7 + 1), Name: "p"})})
		if i%10 == 0 {
			c.ToggleGrouping()
		}
	}
	close(stop)
	wg.Wait()
}

func TestOwnedBy(t *testing.T) {
	assert.True(t, OwnedBy(CPUCore(3), model.SourceCPU))
	assert.True(t, OwnedBy(SwapUsedPct, model.SourceMemory))
	assert.True(t, OwnedBy(DiskRead("nvme0n1"), model.SourceDisk))
	assert.False(t, OwnedBy(NetTotalRx, model.SourceDisk))
	assert.Equal(t, series.SourceID("gpu/0/util"), GPUUtil(0))
}

func rowPIDs(rows []proctable.Record) []int32 {
	out := make([]int32, len(rows))
	for i, r := range rows {
		out[i] = r.PID
	}
	return out
}
