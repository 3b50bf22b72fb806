package proctable

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

func raw(pid int32, name string, cpu float64) model.Process {
	return model.Process{PID: pid, Name: name, CPU: cpu, MemBytes: 1024}
}

func TestNewDebounceDefault(t *testing.T) {
	assert.Equal(t, DefaultDebounce, New(0).Debounce())
	assert.Equal(t, DefaultDebounce, New(-3).Debounce())
	assert.Equal(t, 5, New(5).Debounce())
}

func TestIngestAddsAndUpdates(t *testing.T) {
	tbl := New(2)

	d := tbl.Ingest([]model.Process{raw(10, "init", 1), raw(20, "bash", 2)})
	assert.Equal(t, []int32{10, 20}, d.Added)
	assert.Empty(t, d.Updated)

	d = tbl.Ingest([]model.Process{raw(20, "bash", 5), raw(30, "vim", 1), raw(10, "init", 1)})
	assert.Equal(t, []int32{30}, d.Added)
	assert.Equal(t, []int32{10, 20}, d.Updated)

	rec, ok := tbl.Get(20)
	require.True(t, ok)
	assert.Equal(t, 5.0, rec.CPU)
	assert.Equal(t, uint64(2), tbl.Generation())
}

func TestIngestPreservesHandle(t *testing.T) {
	tbl := New(2)
	tbl.Ingest([]model.Process{raw(500, "postgres", 1)})
	first, _ := tbl.Get(500)

	for i := 0; i < 10; i++ {
		tbl.Ingest([]model.Process{raw(500, "postgres", float64(i)), raw(int32(600+i), "short", 1)})
		rec, ok := tbl.Get(500)
		require.True(t, ok)
		assert.Equal(t, first.Handle, rec.Handle)
		assert.Equal(t, float64(i), rec.CPU)
	}
}

func TestHandlesAreUnique(t *testing.T) {
	tbl := New(1)
	tbl.Ingest([]model.Process{raw(1, "a", 0), raw(2, "b", 0)})
	tbl.Ingest([]model.Process{raw(3, "c", 0)})

	seen := map[uint64]bool{}
	for _, r := range tbl.Records() {
		assert.False(t, seen[r.Handle])
		seen[r.Handle] = true
	}
}

func TestDebounceEvictsAfterSecondMiss(t *testing.T) {
	tbl := New(2)
	tbl.Ingest([]model.Process{raw(500, "worker", 12.5), raw(1, "init", 0)})

	d := tbl.Ingest([]model.Process{raw(1, "init", 0)})
	assert.Equal(t, []int32{500}, d.Stale)
	assert.Empty(t, d.Removed)

	rec, ok := tbl.Get(500)
	require.True(t, ok, "record retained after first miss")
	assert.Equal(t, StatusStale, rec.Status)
	assert.Equal(t, 1, rec.Missed)
	assert.Equal(t, 12.5, rec.CPU, "stale record keeps last-known values")

	d = tbl.Ingest([]model.Process{raw(1, "init", 0)})
	assert.Equal(t, []int32{500}, d.Removed)
	_, ok = tbl.Get(500)
	assert.False(t, ok)

	d = tbl.Ingest([]model.Process{raw(1, "init", 0)})
	assert.Empty(t, d.Removed, "removed exactly once")
}

func TestStaleRecordRecovers(t *testing.T) {
	tbl := New(3)
	tbl.Ingest([]model.Process{raw(7, "sshd", 1)})
	before, _ := tbl.Get(7)
	tbl.Ingest(nil)
	tbl.Ingest(nil)

	d := tbl.Ingest([]model.Process{raw(7, "sshd", 2)})
	assert.Equal(t, []int32{7}, d.Updated)

	rec, ok := tbl.Get(7)
	require.True(t, ok)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Zero(t, rec.Missed)
	assert.Equal(t, before.Handle, rec.Handle)
}

func TestDebounceThresholds(t *testing.T) {
	for _, debounce := range []int{1, 2, 3, 5} {
		tbl := New(debounce)
		tbl.Ingest([]model.Process{raw(42, "x", 0)})
		removedAt := 0
		for miss := 1; miss <= debounce+2; miss++ {
			d := tbl.Ingest(nil)
			if len(d.Removed) > 0 {
				require.Zero(t, removedAt, "removed more than once")
				removedAt = miss
			}
		}
		assert.Equal(t, debounce, removedAt, "debounce %d", debounce)
	}
}

func TestIngestClampsMalformed(t *testing.T) {
	tbl := New(2)
	d := tbl.Ingest([]model.Process{
		{PID: 1, Name: "neg-mem", MemBytes: -4096, CPU: 3},
		{PID: 2, Name: "nan-cpu", CPU: math.NaN(), MemBytes: 10},
		{PID: 3, Name: "neg-io", ReadBytesSec: -1, WriteBytesSec: math.Inf(1)},
		{PID: 4, Name: "fine", CPU: 1, MemBytes: 10},
	})
	assert.Equal(t, 3, d.Malformed)

	r1, _ := tbl.Get(1)
	assert.Zero(t, r1.MemBytes)
	assert.True(t, r1.Malformed())
	assert.Equal(t, 3.0, r1.CPU)

	r2, _ := tbl.Get(2)
	assert.Zero(t, r2.CPU)

	r3, _ := tbl.Get(3)
	assert.Zero(t, r3.ReadBytesSec)
	assert.Zero(t, r3.WriteBytesSec)

	r4, _ := tbl.Get(4)
	assert.False(t, r4.Malformed())

	// The flag clears once a clean row arrives.
	tbl.Ingest([]model.Process{{PID: 1, Name: "neg-mem", MemBytes: 10}})
	r1, _ = tbl.Get(1)
	assert.False(t, r1.Malformed())
}

func TestRecordsAreCopies(t *testing.T) {
	tbl := New(2)
	tbl.Ingest([]model.Process{raw(3, "c", 1), raw(1, "a", 1), raw(2, "b", 1)})

	recs := tbl.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, []int32{1, 2, 3}, []int32{recs[0].PID, recs[1].PID, recs[2].PID})

	recs[0].CPU = 99
	again, _ := tbl.Get(1)
	assert.Equal(t, 1.0, again.CPU)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "active", StatusActive.String())
	assert.Equal(t, "stale", StatusStale.String())
	assert.Equal(t, "unknown", Status(9).String())
}
