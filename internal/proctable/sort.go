package proctable

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
)

// SortKey selects the column a process list is ordered by.
type SortKey int

const (
	SortCPU SortKey = iota
	SortMem
	SortPID
	SortName
	SortRead
	SortWrite
	SortState
	SortCount
)

var sortKeyNames = map[SortKey]string{
	SortCPU:   "cpu",
	SortMem:   "mem",
	SortPID:   "pid",
	SortName:  "name",
	SortRead:  "read",
	SortWrite: "write",
	SortState: "state",
	SortCount: "count",
}

func (k SortKey) String() string {
	if s, ok := sortKeyNames[k]; ok {
		return s
	}
	return "cpu"
}

// ParseSortKey converts a config or flag value into a SortKey.
func ParseSortKey(s string) (SortKey, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for k, name := range sortKeyNames {
		if name == want {
			return k, nil
		}
	}
	if want == "memory" {
		return SortMem, nil
	}
	return SortCPU, fmt.Errorf("unknown sort key %q", s)
}

// Direction is the sort order.
type Direction int

const (
	Descending Direction = iota
	Ascending
)

func (d Direction) String() string {
	if d == Ascending {
		return "asc"
	}
	return "desc"
}

// Toggle flips the direction.
func (d Direction) Toggle() Direction {
	if d == Ascending {
		return Descending
	}
	return Ascending
}

// ParseDirection converts "asc"/"desc" into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return Ascending, nil
	case "desc", "descending", "":
		return Descending, nil
	}
	return Descending, fmt.Errorf("unknown sort direction %q", s)
}

// Sort returns a new slice ordered by key in the given direction. The sort
// is stable and ties are broken by pid ascending regardless of direction.
func Sort(records []Record, key SortKey, dir Direction) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		c := compare(out[i], out[j], key)
		if c != 0 {
			if dir == Descending {
				return c > 0
			}
			return c < 0
		}
		return out[i].PID < out[j].PID
	})
	return out
}

func compare(a, b Record, key SortKey) int {
	switch key {
	case SortMem:
		return cmp.Compare(a.MemBytes, b.MemBytes)
	case SortPID:
		return cmp.Compare(a.PID, b.PID)
	case SortName:
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	case SortRead:
		return cmp.Compare(a.ReadBytesSec, b.ReadBytesSec)
	case SortWrite:
		return cmp.Compare(a.WriteBytesSec, b.WriteBytesSec)
	case SortState:
		return strings.Compare(a.State, b.State)
	case SortCount:
		return cmp.Compare(a.Count, b.Count)
	default:
		return cmp.Compare(a.CPU, b.CPU)
	}
}
