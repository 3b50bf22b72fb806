package state

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/proctable"
	"github.com/Dicklesworthstone/sysmoni/internal/sampler"
	"github.com/Dicklesworthstone/sysmoni/internal/series"
)

// Cycle is the outcome of one poll as handed over by the scheduler.
type Cycle struct {
	Time time.Time
	Raw  model.RawMetrics
	Err  error
}

// Options configures a Coordinator.
type Options struct {
	Retention  time.Duration
	MaxSamples int
	Debounce   int
	View       View
	Logger     *zap.Logger
}

// Coordinator folds poll cycles into the series store and process table and
// publishes a fresh Snapshot after each one. All writes are serialized by mu;
// Current and Wait never take it.
type Coordinator struct {
	mu     sync.Mutex
	logger *zap.Logger
	store  *series.Store
	table  *proctable.Table

	view      View
	filter    *proctable.Expr
	filterErr string
	stats     SchedulerStats
	sources   map[model.Source]SourceState

	seq uint64
	rev uint64
	at  time.Time

	// Cached derived state, rebuilt only when its inputs change.
	readings  readings
	views     map[series.SourceID]series.SeriesView
	rows      []proctable.Record
	tree      *proctable.Tree
	treeRows  []proctable.TreeRow
	malformed int

	current atomic.Pointer[Snapshot]
}

type readings struct {
	cpu     *model.CPU
	memory  *model.Memory
	disks   []model.Disk
	network []model.NetInterface
	temps   []model.Temp
	gpus    []model.GPU
	battery *model.Battery
}

var errNoData = errors.New("no data this cycle")

// Series that exist from the start so the first failed poll already shows
// a gap.
var pinned = []series.SourceID{CPUTotal, MemUsedPct}

// New builds a coordinator and publishes an empty snapshot with sequence 0.
// It fails only if the initial filter does not compile.
func New(opts Options) (*Coordinator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	expr, err := proctable.Compile(opts.View.Filter)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		logger:  logger,
		store:   series.NewStore(opts.Retention, opts.MaxSamples),
		table:   proctable.New(opts.Debounce),
		view:    opts.View,
		filter:  expr,
		sources: make(map[model.Source]SourceState),
		views:   make(map[series.SourceID]series.SeriesView),
	}
	for _, id := range pinned {
		c.store.Register(id)
	}
	c.refreshViews()
	c.rebuildRows()
	c.publish()
	return c, nil
}

// Current returns the latest published snapshot. It never returns nil.
func (c *Coordinator) Current() *Snapshot { return c.current.Load() }

// Wait blocks until a snapshot with Sequence greater than after is
// published, or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, after uint64) (*Snapshot, error) {
	for {
		snap := c.current.Load()
		if snap.Sequence > after {
			return snap, nil
		}
		select {
		case <-snap.next:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Apply folds one poll cycle into the store and table and publishes the
// result. Sequence advances by exactly one per call.
func (c *Coordinator) Apply(cy Cycle) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	at := cy.Time
	if at.IsZero() {
		at = cy.Raw.Timestamp
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.at = at

	se, partial := sampler.AsSourceError(cy.Err)
	if cy.Err != nil && !partial {
		c.applyTotalFailure(cy.Err, at)
		return c.publish()
	}

	failed := make(map[model.Source]sampler.Failure)
	if partial {
		for _, f := range se.Failures {
			failed[f.Source] = f
		}
		c.logger.Warn("poll cycle partially failed",
			zap.Uint64("sequence", c.seq),
			zap.Strings("sources", sourceNames(se.Sources())),
			zap.Error(se))
	}

	raw := cy.Raw
	c.readings = readings{}
	for _, src := range model.AllSources {
		if f, ok := failed[src]; ok {
			c.markFailed(src, f, at)
			continue
		}
		if !raw.Has(src) {
			// Absent without an error still counts as a gap for any source
			// that has reported before.
			if _, seen := c.sources[src]; seen || src == model.SourceCPU || src == model.SourceMemory {
				c.markFailed(src, sampler.Failure{Source: src, Kind: sampler.KindTransient, Err: errNoData}, at)
			}
			continue
		}
		c.sources[src] = SourceState{Status: SourceOK}
		c.recordSource(src, raw, at)
	}

	c.refreshViews()
	c.rebuildRows()
	return c.publish()
}

func (c *Coordinator) applyTotalFailure(err error, at time.Time) {
	c.logger.Warn("poll cycle failed", zap.Uint64("sequence", c.seq), zap.Error(err))
	for _, id := range c.store.Sources() {
		c.gap(id, at)
	}
	for src, st := range c.sources {
		if st.Status != SourceUnavailable {
			c.sources[src] = SourceState{Status: SourceTransient, Message: err.Error()}
		}
	}
	c.readings = readings{}
	c.refreshViews()
}

func (c *Coordinator) markFailed(src model.Source, f sampler.Failure, at time.Time) {
	prev := c.sources[src]
	switch {
	case f.Kind == sampler.KindUnavailable:
		if prev.Status != SourceUnavailable {
			c.logger.Info("source unavailable", zap.String("source", string(src)), zap.Error(f.Err))
		}
		c.sources[src] = SourceState{Status: SourceUnavailable, Message: f.Err.Error()}
	case prev.Status != SourceUnavailable:
		c.sources[src] = SourceState{Status: SourceTransient, Message: f.Err.Error()}
	}
	for _, id := range c.store.Sources() {
		if OwnedBy(id, src) {
			c.gap(id, at)
		}
	}
}

func (c *Coordinator) recordSource(src model.Source, raw model.RawMetrics, at time.Time) {
	keep := make(map[series.SourceID]bool)
	put := func(id series.SourceID, v float64) {
		keep[id] = true
		c.store.Register(id)
		c.record(id, at, v)
	}

	switch src {
	case model.SourceCPU:
		cpu := *raw.CPU
		cpu.PerCore = slices.Clone(cpu.PerCore)
		c.readings.cpu = &cpu
		put(CPUTotal, cpu.Total)
		for i, v := range cpu.PerCore {
			put(CPUCore(i), v)
		}
	case model.SourceMemory:
		m := *raw.Memory
		c.readings.memory = &m
		put(MemUsedPct, m.UsedPercent())
		if m.SwapTotal > 0 {
			put(SwapUsedPct, m.SwapPercent())
		}
	case model.SourceDisk:
		c.readings.disks = slices.Clone(raw.Disks)
		for _, d := range raw.Disks {
			put(DiskRead(d.Name), d.ReadBytesSec)
			put(DiskWrite(d.Name), d.WriteBytesSec)
		}
	case model.SourceNetwork:
		c.readings.network = slices.Clone(raw.Network)
		var rx, tx float64
		var baseline bool
		for _, n := range raw.Network {
			if !n.HasBaseline {
				// First sighting: no rate yet.
				for _, id := range []series.SourceID{NetRx(n.Name), NetTx(n.Name)} {
					keep[id] = true
					c.store.Register(id)
					c.gap(id, at)
				}
				continue
			}
			baseline = true
			rx += n.RxBytesSec
			tx += n.TxBytesSec
			put(NetRx(n.Name), n.RxBytesSec)
			put(NetTx(n.Name), n.TxBytesSec)
		}
		if baseline {
			put(NetTotalRx, rx)
			put(NetTotalTx, tx)
		} else {
			for _, id := range []series.SourceID{NetTotalRx, NetTotalTx} {
				keep[id] = true
				c.store.Register(id)
				c.gap(id, at)
			}
		}
	case model.SourceProcess:
		diff := c.table.Ingest(raw.Processes)
		c.malformed = diff.Malformed
		if diff.Malformed > 0 {
			c.logger.Debug("clamped malformed process rows", zap.Int("count", diff.Malformed))
		}
		return
	case model.SourceTemp:
		temps := model.UniqueSensors(raw.Temps)
		c.readings.temps = temps
		for _, t := range temps {
			put(Temp(t.Sensor), t.Celsius)
		}
	case model.SourceGPU:
		c.readings.gpus = slices.Clone(raw.GPUs)
		for i, g := range raw.GPUs {
			put(GPUUtil(i), g.Util)
		}
	case model.SourceBattery:
		b := *raw.Battery
		c.readings.battery = &b
		put(BatteryPct, b.Percent)
	}

	// Streams that vanished (unplugged disk, removed interface) are dropped.
	for _, id := range c.store.Sources() {
		if OwnedBy(id, src) && !keep[id] && !slices.Contains(pinned, id) {
			c.store.Deregister(id)
		}
	}
}

func (c *Coordinator) record(id series.SourceID, at time.Time, v float64) {
	if err := c.store.Record(id, at, v); err != nil {
		c.logger.Debug("dropped sample", zap.String("series", string(id)), zap.Error(err))
	}
}

func (c *Coordinator) gap(id series.SourceID, at time.Time) {
	if err := c.store.RecordGap(id, at); err != nil && !errors.Is(err, series.ErrOutOfOrder) {
		c.logger.Debug("dropped gap", zap.String("series", string(id)), zap.Error(err))
	}
}

// SetFilter compiles and installs a new filter. On a compile error the
// previous filter stays active and the error is published on the snapshot.
func (c *Coordinator) SetFilter(spec proctable.FilterSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expr, err := proctable.Compile(spec)
	if err != nil {
		c.logger.Info("filter rejected", zap.String("text", spec.Text), zap.Error(err))
		c.filterErr = err.Error()
		c.publish()
		return err
	}
	c.filter = expr
	c.view.Filter = spec
	c.filterErr = ""
	c.rebuildRows()
	c.publish()
	return nil
}

// SetSort changes the sort key and direction.
func (c *Coordinator) SetSort(key proctable.SortKey, dir proctable.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.SortKey, c.view.Direction = key, dir
	c.rebuildRows()
	c.publish()
}

// ToggleGrouping flips group-by-name mode and returns the new value.
func (c *Coordinator) ToggleGrouping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.GroupByName = !c.view.GroupByName
	c.rebuildRows()
	c.publish()
	return c.view.GroupByName
}

// ToggleTree flips tree mode and returns the new value.
func (c *Coordinator) ToggleTree() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.TreeMode = !c.view.TreeMode
	c.rebuildRows()
	c.publish()
	return c.view.TreeMode
}

// SetSchedulerStats republishes the current snapshot with new counters.
func (c *Coordinator) SetSchedulerStats(stats SchedulerStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stats == c.stats {
		return
	}
	c.stats = stats
	c.publish()
}

// View returns the current view settings.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Coordinator) refreshViews() {
	views := make(map[series.SourceID]series.SeriesView)
	for _, id := range c.store.Sources() {
		views[id] = c.store.View(id, 0)
	}
	c.views = views
}

func (c *Coordinator) rebuildRows() {
	records := proctable.Filter(c.table.Records(), c.filter)
	sorted := proctable.Sort(records, c.view.SortKey, c.view.Direction)

	c.tree = proctable.GroupByTree(sorted)
	c.treeRows = nil
	if c.view.TreeMode {
		c.treeRows = c.tree.Flatten()
	}
	if c.view.GroupByName {
		c.rows = proctable.Sort(proctable.GroupByName(records), c.view.SortKey, c.view.Direction)
	} else {
		c.rows = sorted
	}
}

// publish installs a new snapshot built from cached state. Slices and maps
// handed out here are never written again by the coordinator.
func (c *Coordinator) publish() *Snapshot {
	c.rev++
	snap := &Snapshot{
		Sequence:    c.seq,
		Revision:    c.rev,
		Time:        c.at,
		Series:      c.views,
		Rows:        c.rows,
		Tree:        c.tree,
		TreeRows:    c.treeRows,
		Processes:   c.table.Len(),
		Malformed:   c.malformed,
		CPU:         c.readings.cpu,
		Memory:      c.readings.memory,
		Disks:       c.readings.disks,
		Network:     c.readings.network,
		Temps:       c.readings.temps,
		GPUs:        c.readings.gpus,
		Battery:     c.readings.battery,
		Sources:     maps.Clone(c.sources),
		View:        c.view,
		FilterError: c.filterErr,
		Scheduler:   c.stats,
		next:        make(chan struct{}),
	}
	if prev := c.current.Swap(snap); prev != nil {
		close(prev.next)
	}
	return snap
}

func sourceNames(srcs []model.Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = string(s)
	}
	return out
}
