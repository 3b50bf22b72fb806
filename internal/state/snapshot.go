// Package state owns the only value shared between the collector and its
// readers: the current Snapshot. The coordinator is the single writer and
// replaces the snapshot atomically; readers never lock.
package state

import (
	"sort"
	"time"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/proctable"
	"github.com/Dicklesworthstone/sysmoni/internal/series"
)

// SourceStatus is the data-quality marker for one source.
type SourceStatus int

const (
	SourcePending SourceStatus = iota // not polled yet
	SourceOK
	SourceTransient
	SourceUnavailable
)

func (s SourceStatus) String() string {
	switch s {
	case SourceOK:
		return "ok"
	case SourceTransient:
		return "transient"
	case SourceUnavailable:
		return "unavailable"
	default:
		return "pending"
	}
}

// SourceState is the status of one source after the latest poll.
type SourceState struct {
	Status  SourceStatus `json:"status" yaml:"status"`
	Message string       `json:"message,omitempty" yaml:"message,omitempty"`
}

// View is the set of user-controlled presentation settings.
type View struct {
	SortKey     proctable.SortKey
	Direction   proctable.Direction
	Filter      proctable.FilterSpec
	GroupByName bool
	TreeMode    bool
}

// SchedulerStats are counters reported by the sampling scheduler.
type SchedulerStats struct {
	Polls        uint64        `json:"polls" yaml:"polls"`
	Failures     uint64        `json:"failures" yaml:"failures"`
	Overruns     uint64        `json:"overruns" yaml:"overruns"`
	Paused       bool          `json:"paused" yaml:"paused"`
	LastDuration time.Duration `json:"last_duration" yaml:"last_duration"`
}

// Snapshot is an immutable bundle of everything a reader may display.
// Nothing reachable from a published Snapshot is ever written again.
type Snapshot struct {
	// Sequence counts poll cycles. View changes republish under the same
	// Sequence with a higher Revision.
	Sequence uint64
	Revision uint64
	Time     time.Time

	Series map[series.SourceID]series.SeriesView

	// Rows is the filtered and sorted process list, grouped by name when
	// View.GroupByName is set.
	Rows []proctable.Record
	// Tree is built from the filtered, sorted, ungrouped records.
	Tree *proctable.Tree
	// TreeRows is Tree flattened for display. Empty unless View.TreeMode.
	TreeRows []proctable.TreeRow
	// Processes counts every tracked record, stale and filtered-out included.
	Processes int
	Malformed int

	CPU     *model.CPU
	Memory  *model.Memory
	Disks   []model.Disk
	Network []model.NetInterface
	Temps   []model.Temp
	GPUs    []model.GPU
	Battery *model.Battery

	Sources     map[model.Source]SourceState
	View        View
	FilterError string
	Scheduler   SchedulerStats

	// next is closed when this snapshot is replaced.
	next chan struct{}
}

// Replaced returns a channel that is closed once a newer snapshot is
// published.
func (s *Snapshot) Replaced() <-chan struct{} { return s.next }

// SeriesIDs returns the ids present in the snapshot in sorted order.
func (s *Snapshot) SeriesIDs() []series.SourceID {
	ids := make([]series.SourceID, 0, len(s.Series))
	for id := range s.Series {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Status returns the state of source src.
func (s *Snapshot) Status(src model.Source) SourceState {
	return s.Sources[src]
}

// NetTotals sums throughput over interfaces that have a rate baseline.
func (s *Snapshot) NetTotals() (rx, tx float64) {
	for _, n := range s.Network {
		if n.HasBaseline {
			rx += n.RxBytesSec
			tx += n.TxBytesSec
		}
	}
	return rx, tx
}
