// Package proctable reconciles successive process polls into stable records
// and derives the sorted, filtered, tree and grouped views of them.
//
// Every record moves through an explicit state machine driven only by poll
// outcomes:
//
//	Active --missed poll--> Stale(1) --missed poll--> ... --> Removed
//	   ^                       |
//	   +------seen again-------+
//
// A record is removed once it has been missing for Debounce consecutive
// polls. While stale it keeps its last-known values.
package proctable

import (
	"math"
	"sort"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

// DefaultDebounce is the number of consecutive missed polls before removal.
const DefaultDebounce = 2

// Status is the lifecycle state of a record.
type Status int

const (
	StatusActive Status = iota
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Flag marks data-quality issues on a record.
type Flag uint8

const (
	// FlagMalformed is set when the latest raw row had out-of-range values
	// that were clamped.
	FlagMalformed Flag = 1 << iota
)

// Record is one process as seen by the table. Handle is assigned on first
// sighting and survives updates, so selection logic can key on it.
type Record struct {
	Handle        uint64
	PID           int32
	PPID          int32
	HasParent     bool
	Name          string
	Command       string
	User          string
	State         string
	CPU           float64
	MemBytes      uint64
	ReadBytesSec  float64
	WriteBytesSec float64

	Status Status
	Missed int
	Flags  Flag

	// Count and PIDs are only set on rows produced by GroupByName.
	Count int
	PIDs  []int32
}

// Malformed reports whether the record carries FlagMalformed.
func (r Record) Malformed() bool { return r.Flags&FlagMalformed != 0 }

// Diff summarizes what one Ingest changed. PID lists are ascending.
type Diff struct {
	Added     []int32
	Updated   []int32
	Stale     []int32
	Removed   []int32
	Malformed int
}

// Table holds the current generation of process records.
type Table struct {
	debounce   int
	generation uint64
	nextHandle uint64
	entries    map[int32]*Record
}

// New creates a table that evicts records after debounce consecutive misses.
func New(debounce int) *Table {
	if debounce < 1 {
		debounce = DefaultDebounce
	}
	return &Table{
		debounce: debounce,
		entries:  make(map[int32]*Record),
	}
}

// Debounce returns the configured miss threshold.
func (t *Table) Debounce() int { return t.debounce }

// Generation returns the number of polls ingested so far.
func (t *Table) Generation() uint64 { return t.generation }

// Len returns the number of tracked records, stale ones included.
func (t *Table) Len() int { return len(t.entries) }

// Ingest reconciles one poll against the previous generation. New pids are
// created, known pids are updated in place, and pids absent from this poll
// advance towards removal.
func (t *Table) Ingest(raw []model.Process) Diff {
	t.generation++
	var d Diff
	seen := make(map[int32]struct{}, len(raw))

	for _, p := range raw {
		seen[p.PID] = struct{}{}
		rec, ok := t.entries[p.PID]
		if !ok {
			t.nextHandle++
			rec = &Record{Handle: t.nextHandle, PID: p.PID}
			t.entries[p.PID] = rec
			d.Added = append(d.Added, p.PID)
		} else {
			d.Updated = append(d.Updated, p.PID)
		}
		if apply(rec, p) {
			d.Malformed++
		}
	}

	for pid, rec := range t.entries {
		if _, ok := seen[pid]; ok {
			continue
		}
		rec.Missed++
		if rec.Missed >= t.debounce {
			delete(t.entries, pid)
			d.Removed = append(d.Removed, pid)
			continue
		}
		rec.Status = StatusStale
		d.Stale = append(d.Stale, pid)
	}

	for _, s := range [][]int32{d.Added, d.Updated, d.Stale, d.Removed} {
		sortPIDs(s)
	}
	return d
}

// Get returns a copy of the record for pid.
func (t *Table) Get(pid int32) (Record, bool) {
	rec, ok := t.entries[pid]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns copies of every tracked record in ascending pid order.
func (t *Table) Records() []Record {
	out := make([]Record, 0, len(t.entries))
	for _, rec := range t.entries {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// apply copies raw values onto rec, clamping anything out of range. It
// reports whether clamping was needed.
func apply(rec *Record, p model.Process) bool {
	var bad bool
	rec.PPID = p.PPID
	rec.HasParent = p.HasParent
	rec.Name = p.Name
	rec.Command = p.Command
	rec.User = p.User
	rec.State = p.State
	rec.Status = StatusActive
	rec.Missed = 0

	rec.CPU, bad = clampFloat(p.CPU, bad)
	rec.ReadBytesSec, bad = clampFloat(p.ReadBytesSec, bad)
	rec.WriteBytesSec, bad = clampFloat(p.WriteBytesSec, bad)
	if p.MemBytes < 0 {
		rec.MemBytes = 0
		bad = true
	} else {
		rec.MemBytes = uint64(p.MemBytes)
	}

	if bad {
		rec.Flags |= FlagMalformed
	} else {
		rec.Flags &^= FlagMalformed
	}
	return bad
}

func clampFloat(v float64, bad bool) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, true
	}
	return v, bad
}

func sortPIDs(pids []int32) {
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
}
